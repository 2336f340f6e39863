// Command indexctl inspects and administers the indexes of a deployment:
// executive claims, document counts, rebuilds and event publishing.
package main

import (
	"fmt"
	"os"

	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/searchindexer/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "indexctl",
	Short:         "Administer search indexes and their executive claims",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		level := cfg.Logging.Level
		if logLevel != "" {
			level = logLevel
		}
		logger.Setup(level, "text")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/development.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level override (debug, info, warn, error)")
}

func indexConfig(name string) (config.IndexConfig, error) {
	for _, idx := range cfg.Indexer.Indexes {
		if idx.Name == name {
			return idx, nil
		}
	}
	return config.IndexConfig{}, fmt.Errorf("index %q is not configured", name)
}
