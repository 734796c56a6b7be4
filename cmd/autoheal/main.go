// CLAUDE:SUMMARY Entry point for the autoheal CLI: cobra root command, slog setup, config loading and signal context.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/selfheal/autoheal"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootFlags struct {
	config   string
	logLevel string
}

var rootCmd = &cobra.Command{
	Use:   "autoheal",
	Short: "Self-healing locator resolution for browser automation",
	Long: "autoheal repairs broken element locators at runtime: it generates replacement\n" +
		"candidates from the live page, verifies each one and caches what works.",
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		slog.SetDefault(newLogger(rootFlags.logLevel))
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootFlags.config, "config", "", "YAML configuration file (default: $AUTOHEAL_CONFIG or built-in defaults)")
	pf.StringVar(&rootFlags.logLevel, "log-level", "info", "debug, info, warn or error")

	rootCmd.AddCommand(healCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.Version = version
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		cancel()
		os.Exit(exitCode(err))
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// loadConfig resolves --config, then $AUTOHEAL_CONFIG, then the defaults.
func loadConfig() (autoheal.Config, error) {
	if rootFlags.config == "" {
		return autoheal.ConfigFromEnv()
	}
	cfg, err := autoheal.LoadConfigFile(rootFlags.config)
	if err != nil {
		return autoheal.Config{}, err
	}
	return *cfg, nil
}
