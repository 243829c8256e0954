// Package cmd holds the retryworker command tree.
package cmd

import (
	"fmt"

	"go-retry/internal/config"
	"go-retry/internal/observability"

	"github.com/spf13/cobra"
)

var (
	logLevelFlag string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "retryworker",
	Short: "Delayed retry and dead-letter worker for Kafka",
	Long: `retryworker consumes the common retry topics, schedules each failed
message for a delayed redelivery to its original topic, and persists messages
that exhausted their retries as dead letters.

Configuration comes from the environment, optionally loaded from a .env file.`,
	PersistentPreRunE: loadConfig,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the root command
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		observability.GetLogger().WithError(err).Error("Command failed")
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "",
		"Log level override (env: LOG_LEVEL)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(adminCmd)
	rootCmd.AddCommand(produceCmd)
}

func loadConfig(_ *cobra.Command, _ []string) error {
	c, err := config.Load()
	if err != nil {
		return err
	}
	if logLevelFlag != "" {
		c.Logging.Level = logLevelFlag
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	observability.InitLogger(c.Logging.Level, c.Service)
	cfg = c
	return nil
}
