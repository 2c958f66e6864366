// Package commands implements the edgesim CLI.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/edgesim/internal/logger"
	"github.com/marmos91/edgesim/pkg/config"
)

// Version information injected at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var (
	cfgFile string
	cfg     config.Config
)

var rootCmd = &cobra.Command{
	Use:   "edgesim",
	Short: "EdgeSim - local edge runtime storage emulator",
	Long: `EdgeSim emulates a serverless edge runtime's storage and concurrency
primitives locally: key/value namespaces, an HTTP response cache, and an
S3-compatible object store, with production-faithful ordering, expiration,
and conditional-write semantics.

Use "edgesim [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		return logger.Init(logger.Config{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Output: cfg.Logging.Output,
		})
	},
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().String("persist", "", "persistence setting (true, a path, or file:// / badger:// URL)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(kvCmd)
	rootCmd.AddCommand(bucketCmd)
	rootCmd.AddCommand(serveCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
