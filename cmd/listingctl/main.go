package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/timmy/listingsync/internal/app"
	"github.com/timmy/listingsync/internal/config"
	"github.com/timmy/listingsync/internal/logger"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "listingctl",
	Short: "Operate listing transfers from the command line",
	Long: `listingctl runs the same engine as the API server without HTTP.

Examples:
  listingctl probe source                      # Test stored source credentials
  listingctl probe target -u me@x.com -p ...   # Test explicit credentials
  listingctl run 42                            # Run automation 42 in the foreground
  listingctl run --broker 1 --source-code AB12 # Create and run a new automation
  listingctl logs purge --older-than-days 30   # Trim the activity log`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configPath == "" {
			configPath = os.Getenv("CONFIG_PATH")
		}
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
		app.InitLogger(cfg.Log, "listingsync-cli")
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (defaults to CONFIG_PATH or ./configs/config.yaml)")

	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(logsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
