// Package main provides the webscout CLI entry point.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"webscout/internal/config"
	"webscout/internal/logging"
)

var (
	// Global flags
	configPath string
	sessionID  string
	verbose    bool
	deep       bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "webscout",
	Short: "webscout - local research assistant with semantic caching",
	Long: `webscout answers questions by choosing, per turn, between the model's
own knowledge, previously cached research, and live web research with
multi-provider search, parallel scraping, and streamed synthesis.

Run without arguments to start the interactive chat.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if deep {
			cfg.Research.DefaultMode = "deep"
		}
		if verbose {
			cfg.Logging.DebugMode = true
		}

		workspace := filepath.Dir(configPath)
		if err := logging.Initialize(workspace, cfg.Logging.ToOptions()); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		logging.Boot("webscout %s starting (backend=%s, model=%s, session=%s)",
			cfg.Version, cfg.LLM.Backend, cfg.LLM.Model, sessionID)

		zapCfg := zap.NewProductionConfig()
		if verbose {
			zapCfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		logger, err = zapCfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runChat(cmd.Context())
	},
}

func init() {
	home, _ := os.UserHomeDir()
	defaultConfig := filepath.Join(home, ".webscout", "config.yaml")

	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfig, "config file path")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "default", "session identifier")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&deep, "deep", false, "deep research mode (more URLs, higher success target)")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
