// Command taskloop runs the autonomous task loop from the terminal or as an
// HTTP service.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/GoCodeAlone/taskloop/config"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	envFiles   []string
)

var rootCmd = &cobra.Command{
	Use:   "taskloop",
	Short: "taskloop - autonomous task orchestration loop",
	Long: `taskloop decomposes an objective into tasks, executes them with a language
model and keeps planning until the model declares the objective complete.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files to load")

	rootCmd.AddCommand(runCmd, runsCmd, showCmd, serveCmd, modelsCmd, passwdCmd, versionCmd, remoteCmd)
}

// loadConfig reads dotenv files, the config file and environment overrides,
// and builds the stderr logger at the configured level.
func loadConfig() (*config.Config, *slog.Logger, error) {
	if err := config.LoadEnv(envFiles...); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
