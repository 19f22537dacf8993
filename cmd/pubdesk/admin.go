package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/eringen/pubdesk/auth"
)

var (
	adminEmail string
	adminName  string
)

var createAdminCmd = &cobra.Command{
	Use:   "create-admin",
	Short: "Create an admin account or promote an existing one",
	Long: `Create an approved admin. If an author already uses the email it is
promoted to admin instead.

The password is read from PUBDESK_ADMIN_PASSWORD, or from stdin when the
variable is unset.

Examples:
  pubdesk create-admin --email ada@example.com --name "Ada Admin"
  echo "$PASSWORD" | pubdesk create-admin --email ada@example.com --name Ada`,
	RunE: func(cmd *cobra.Command, args []string) error {
		password := os.Getenv("PUBDESK_ADMIN_PASSWORD")
		if password == "" {
			fmt.Fprint(os.Stderr, "Password: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}

		app, err := loadApp()
		if err != nil {
			return err
		}
		defer app.Close()

		ctx := context.Background()
		if err := app.Setup(ctx); err != nil {
			return err
		}
		sess, err := app.Auth.CreateAdmin(ctx, auth.Credentials{Email: adminEmail, Password: password, Name: adminName})
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()
		fmt.Printf("%s Admin ready\n", green("✓"))
		fmt.Printf("  Email:  %s\n", cyan(sess.Email))
		fmt.Printf("  Author: %s\n", cyan(sess.AuthorID()))
		return nil
	},
}

func init() {
	createAdminCmd.Flags().StringVar(&adminEmail, "email", "", "admin email address")
	createAdminCmd.Flags().StringVar(&adminName, "name", "", "display name")
	_ = createAdminCmd.MarkFlagRequired("email")
	_ = createAdminCmd.MarkFlagRequired("name")
	rootCmd.AddCommand(createAdminCmd)
}
