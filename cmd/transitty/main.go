package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/term"

	"transitty/internal/config"
	"transitty/internal/sources"
	"transitty/internal/terminal"
)

const (
	altScreenOn  = "\x1b[?1049h\x1b[?25l"
	altScreenOff = "\x1b[?25h\x1b[?1049l"

	fallbackWidth  = 80
	fallbackHeight = 40
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "transitty:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	logger.Info("starting transitty",
		"log_level", cfg.LogLevel.String(),
		"cache_dir", cfg.CacheDir,
		"pid_enabled", cfg.PIDEnabled,
		"gtfs_enabled", cfg.GTFSEnabled(),
		"location", cfg.LocationSource,
	)

	view, err := config.LoadView(cfg.ViewConfig)
	if err != nil {
		return fmt.Errorf("loading view: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	src, err := sources.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := src.Close(); err != nil {
			logger.Error("closing sources failed", "error", err)
		}
	}()
	src.StartMaintenance(ctx)

	live := src.NewLive()
	defer func() {
		for _, l := range live {
			l.Stop()
		}
	}()
	renderer := src.Renderer(live, logger)

	outFd := int(os.Stdout.Fd())
	if !term.IsTerminal(outFd) {
		if err := terminal.RenderOnce(ctx, renderer, view, fallbackWidth, fallbackHeight, os.Stdout); err != nil {
			logger.Warn("frame rendered with errors", "error", err)
		}
		return nil
	}

	inFd := int(os.Stdin.Fd())
	state, err := term.MakeRaw(inFd)
	if err != nil {
		return fmt.Errorf("entering raw mode: %w", err)
	}
	defer term.Restore(inFd, state)

	io.WriteString(os.Stdout, altScreenOn)
	defer io.WriteString(os.Stdout, altScreenOff)

	opts := terminal.Options{
		Renderer: renderer,
		Out:      os.Stdout,
		Size: func() (int, int, error) {
			return term.GetSize(outFd)
		},
		View:     view,
		ViewPath: cfg.ViewConfig,
		Refresh:  cfg.FrameInterval,
	}
	if src.Location != nil {
		opts.Locator = src.Location
	}
	if src.Lines != nil {
		opts.Lines = src.Lines
	}
	app := terminal.New(opts, logger)

	events := make(chan terminal.Event)
	go func() {
		if err := terminal.ReadEvents(ctx, os.Stdin, events); err != nil && ctx.Err() == nil {
			logger.Error("reading keyboard failed", "error", err)
		}
	}()

	err = app.Run(ctx, events)
	logger.Info("shutdown complete")
	return err
}

// newLogger writes JSON logs to the configured file, since stdout belongs to
// the map.
func newLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log dir: %w", err)
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(f, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	return logger, func() { f.Close() }, nil
}
