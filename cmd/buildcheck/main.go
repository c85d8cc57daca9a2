// Buildcheck - compatibility validation for PC builds.

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/techcortex/buildcheck/internal/domain"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var (
	rootCmd = &cobra.Command{
		Use:   "buildcheck",
		Short: "Compatibility rules and power totals for PC builds",
		Long: `buildcheck validates a selection of PC parts against catalog
compatibility rules and estimates its power draw.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogger("", logFormat)
		},
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "buildcheck %s (commit %s, built %s)\n", Version, Commit, BuildDate)
		},
	}

	configPath string
	logFormat  string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (json, text); overrides logging.format")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errIncompatible) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// setupLogger installs the default structured logger. Logs go to stderr so
// command output on stdout stays machine readable.
func setupLogger(level, format string) {
	logLevel := slog.LevelInfo
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	if os.Getenv("BUILDCHECK_DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// loadConfig builds the configuration from the tier, the optional config
// file and environment overrides.
func loadConfig() (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if os.Getenv("BUILDCHECK_TIER") == "pro" {
		cfg = domain.ProConfig()
	}

	if configPath != "" {
		loaded, err := domain.LoadConfigFile(configPath, cfg)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if v := os.Getenv("BUILDCHECK_ASYNC_WORKER"); v != "" {
		cfg.Worker.Enabled = v == "true"
	}
	if v := os.Getenv("BUILDCHECK_TENANTS"); v != "" {
		var tenants []string
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tenants = append(tenants, t)
			}
		}
		cfg.Worker.Tenants = tenants
	}
	if v := os.Getenv("BUILDCHECK_CATALOG"); v != "" {
		cfg.Catalog.Path = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	format := cfg.Logging.Format
	if logFormat != "" {
		format = logFormat
	}
	setupLogger(cfg.Logging.Level, format)
	return cfg, nil
}
