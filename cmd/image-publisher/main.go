package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/lyy666-lyy/ros2-compress/internal/config"
	"github.com/lyy666-lyy/ros2-compress/internal/core"
)

const shutdownTimeout = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	imageDir := flag.String("dir", "", "Image directory (overrides config)")
	freq := flag.Float64("freq", 0, "Publish frequency in Hz (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      logLevel,
			TimeFormat: "15:04:05",
		}),
	)
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Command line flags win over the file.
	if *imageDir != "" {
		cfg.ImageDir = *imageDir
	}
	if *freq != 0 {
		cfg.FrequencyHz = *freq
		if err := cfg.Validate(); err != nil {
			slog.Error("invalid configuration", "error", err)
			os.Exit(1)
		}
	}

	slog.Info("starting image publisher",
		"image_dir", cfg.ImageDir,
		"topic", cfg.Topic,
		"frequency_hz", cfg.FrequencyHz,
		"png_level", cfg.PNGCompressionLevel,
	)

	node, err := core.New(cfg)
	if err != nil {
		slog.Error("failed to create node", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	healthSrv := node.StartHealthServer()

	errChan := make(chan error, 1)
	go func() {
		errChan <- node.Run(ctx)
	}()

	select {
	case sig := <-sigChan:
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errChan:
		if err != nil {
			slog.Error("node error", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if healthSrv != nil {
		_ = healthSrv.Shutdown(shutdownCtx)
	}
	if err := node.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown failed", "error", err)
		os.Exit(1)
	}

	slog.Info("image publisher stopped")
}
