package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/wongchs/brainwaved/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "brainwaved",
	Short: "EEG wearable companion daemon",
	Long: `brainwaved pairs with an EEG headset streaming JSON frames over
Bluetooth SPP, BLE or a serial port, keeps the connection alive across
drops, records detected seizures and alerts the configured emergency
contacts. A local HTTP/WebSocket API serves the UI client.

Configuration is read from ~/.config/brainwaved/config.yaml unless
--config points elsewhere.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default: ~/.config/brainwaved/config.yaml)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads the config from the --config path, or falls back to the
// default config path, or uses built-in defaults.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		return cfg, cfg.Validate()
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		slog.Info("[CONFIG] loaded", "path", defaultPath)
		return cfg, cfg.Validate()
	}

	slog.Info("[CONFIG] no config file found, using defaults")
	cfg := config.Default()
	return cfg, cfg.Validate()
}

// setupLogging installs the default slog handler at the configured level.
func setupLogging(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}
