// Command githubtriage keeps a local triage cache of GitHub issues and pull requests in sync.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"githubtriage/config"
	"githubtriage/logger"
)

var (
	configFile string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "githubtriage",
	Short: "Sync GitHub issues and pull requests into a local triage database",
	Long: `githubtriage incrementally mirrors issues and pull requests of the configured
repositories into a relational cache, keeping triage annotations made locally.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(*cobra.Command, []string) { logger.Sync() },
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", ".env", "env-style configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(annotateCmd)
	rootCmd.AddCommand(reposCmd)
}

// setup loads configuration and initializes logging for every subcommand.
func setup(cmd *cobra.Command, args []string) error {
	cfg = config.NewConfig()
	if err := cfg.Load(configFile); err != nil {
		return err
	}

	if err := logger.InitializeWithFile(cfg.LogLevel, logger.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	}); err != nil {
		return err
	}

	logger.Debug("Configuration loaded",
		zap.String("command", cmd.Name()),
		zap.String("db_driver", cfg.DBDriver),
		zap.String("repos_file", cfg.ReposFile))
	return nil
}
