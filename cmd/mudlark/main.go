package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/drake/mudlark/app"
	"github.com/drake/mudlark/config"
	"github.com/drake/mudlark/debug"
	"github.com/drake/mudlark/ui"
)

var version = "0.3.0"

func main() {
	var (
		frameRate int
		headless  bool
		cfgPath   string
	)

	root := &cobra.Command{
		Use:   "mudlark [script.lua ...]",
		Short: "A scriptable multi-session MUD client",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfgPath, frameRate, headless, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.Flags().IntVar(&frameRate, "frame-rate", 30, "maximum TUI redraws per second")
	root.Flags().BoolVar(&headless, "headless", false, "run without a terminal UI")
	root.Flags().StringVar(&cfgPath, "config", config.File(), "path to the config file")
	root.Version = version

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfgPath string, frameRate int, headless bool, scripts []string) error {
	if err := setupLogging(); err != nil {
		return err
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if cfg.Settings.FrameRate > 0 {
		frameRate = cfg.Settings.FrameRate
	}
	applyLogLevel(cfg.Settings.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var front ui.UI
	if headless {
		front = ui.NewHeadless()
	} else {
		front = ui.NewTui(frameRate)
	}

	debug.NewMonitor(ctx).Start()

	return app.New(cfg, cfgPath, front, version, scripts).Run(ctx)
}

// setupLogging sends logs to a file under the data directory; the TUI owns
// the terminal.
func setupLogging() error {
	dir := config.DataDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "mudlark.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	log.SetOutput(f)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if debug.Enabled() {
		log.SetLevel(log.DebugLevel)
	}
	return nil
}

func applyLogLevel(level string) {
	if level == "" {
		return
	}
	parsed, err := log.ParseLevel(level)
	if err != nil {
		log.WithField("level", level).Warn("unknown log level in config")
		return
	}
	log.SetLevel(parsed)
}
