// Command pubdesk runs and administers a pubdesk site.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/eringen/pubdesk"
)

// version is set at build time via ldflags.
var version = "dev"

var envFile string

var rootCmd = &cobra.Command{
	Use:   "pubdesk",
	Short: "A moderated publishing desk built with Go, Echo, and templ",
	Long: `pubdesk serves a multi-author publication with an application queue,
editorial review, and first-party reader analytics.

Configuration comes from the environment. A .env file in the working
directory is loaded first when present.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && (cmd.Flags().Changed("env-file") || !os.IsNotExist(err)) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the pubdesk version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pubdesk %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.AddCommand(versionCmd)
}

// loadApp reads the config and builds an App without starting it.
func loadApp() (*pubdesk.App, error) {
	cfg, err := pubdesk.LoadConfig()
	if err != nil {
		return nil, err
	}
	return pubdesk.New(cfg, pubdesk.DefaultViews()), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
