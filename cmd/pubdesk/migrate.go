package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/eringen/pubdesk/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := loadApp()
		if err != nil {
			return err
		}
		defer app.Close()

		ctx := context.Background()
		if err := app.Setup(ctx); err != nil {
			return err
		}
		v, dirty, err := database.Version(app.DB)
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		fmt.Printf("%s Database is up to date\n", green("✓"))
		fmt.Printf("  Driver:  %s\n", cyan(app.Config.DatabaseDriver))
		fmt.Printf("  Version: %s\n", cyan(v))
		if dirty {
			fmt.Printf("  %s\n", color.RedString("The schema is marked dirty; a previous migration failed."))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
