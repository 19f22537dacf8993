package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/eringen/pubdesk/analytics"
)

var rollupDay string

var rollupCmd = &cobra.Command{
	Use:   "rollup",
	Short: "Aggregate analytics events into daily per-post rows",
	Long: `Aggregate one UTC day of analytics events. Rolling up a day again
replaces its rows, so the command is safe to repeat.

Examples:
  pubdesk rollup                  # yesterday
  pubdesk rollup --day 2026-03-14`,
	RunE: func(cmd *cobra.Command, args []string) error {
		day := analytics.Day(time.Now()).AddDate(0, 0, -1)
		if rollupDay != "" {
			d, err := time.Parse("2006-01-02", rollupDay)
			if err != nil {
				return fmt.Errorf("--day must be YYYY-MM-DD: %w", err)
			}
			day = d
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
		aggs, err := app.Analytics.RollupDay(ctx, day)
		if err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()
		fmt.Printf("%s Rolled up %s: %d posts\n", green("✓"), analytics.DayKey(day), len(aggs))
		for _, a := range aggs {
			fmt.Printf("  %s %d views, %d uniques\n", gray(a.PostID), a.Views, a.Uniques)
		}
		return nil
	},
}

func init() {
	rollupCmd.Flags().StringVar(&rollupDay, "day", "", "UTC day to aggregate (default yesterday)")
	rootCmd.AddCommand(rollupCmd)
}
