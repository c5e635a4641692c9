package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/oraclesentinel/oracle-sentinel/internal/config"
	"github.com/oraclesentinel/oracle-sentinel/internal/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "sentinel",
	Short: "Oracle Sentinel - self-improving prediction market signals",
	Long: color.CyanString("Oracle Sentinel") +
		"\nScans Polymarket, records BUY signals, tracks their outcome and tunes its own decision parameters.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// .env is optional; real environment variables win
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to configuration file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(cycleCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(reanalyzeCmd)
	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(exitCmd)
}

func main() {
	defer logger.Sync()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads and validates the configuration and initialises logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Debug("Configuration loaded from %s", configPath)
	return cfg, nil
}
