package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"calfeed/internal/config"
	"calfeed/internal/ics"
	appLog "calfeed/internal/log"
)

var (
	// Global flags
	configPath string
	logLevel   string
	logFormat  string

	rootCmd = &cobra.Command{
		Use:   "calfeed",
		Short: "calfeed - export stored calendar events as iCalendar feeds",
		Long: `calfeed stores raw calendar event documents per owner and compiles them
into RFC 5545 iCalendar documents on request.

Malformed events are repaired or dropped, never fatal: every export answers
with a parseable calendar.`,
		SilenceUsage: true,
		// Run the serve command by default if no subcommand is specified
		RunE: func(cmd *cobra.Command, args []string) error {
			return serveCmd.RunE(cmd, args)
		},
	}
)

// Execute runs the root command. Called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/calfeed/config.yaml", "path to config file (created with defaults if missing)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, error); overrides config")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (json, console); overrides config")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the config file, applies the global flag overrides and
// sets up logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	cfg.Normalize()

	appLog.Setup(os.Stderr, cfg.Log.Format, appLog.ParseLevel(cfg.Log.Level))
	return cfg, nil
}

func newCompiler(cfg *config.Config) *ics.Compiler {
	return ics.NewCompiler(ics.Options{
		Location:     cfg.Location(),
		ProductID:    cfg.ProductID,
		CalendarName: cfg.CalendarName,
		Categories:   cfg.Categories,
		Clock:        ics.SystemClock,
	})
}
