// Package core wires configuration, frame source, bus, publish loop, and
// the optional MQTT bridge into one service lifecycle.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lyy666-lyy/ros2-compress/internal/bus"
	"github.com/lyy666-lyy/ros2-compress/internal/config"
	"github.com/lyy666-lyy/ros2-compress/internal/emitter"
	"github.com/lyy666-lyy/ros2-compress/internal/publisher"
	"github.com/lyy666-lyy/ros2-compress/internal/source"
)

// Node is the service orchestrator.
type Node struct {
	cfg *config.Config

	bus     *bus.Bus
	src     *source.Source
	pub     *publisher.Publisher
	emitter *emitter.Emitter // nil when no broker configured

	mu        sync.RWMutex
	started   time.Time
	isRunning bool
}

// New builds a Node from configuration. Startup source conditions
// (missing directory, no images) degrade to an idle loop rather than
// failing, per the error taxonomy.
func New(cfg *config.Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("core: %w", err)
	}

	src, err := source.Load(cfg.ImageDir)
	if err != nil {
		switch {
		case errors.Is(err, source.ErrPathNotFound):
			slog.Error("image directory not found, running idle", "dir", cfg.ImageDir)
		case errors.Is(err, source.ErrNoFrames):
			slog.Warn("no images found, running idle", "dir", cfg.ImageDir)
		default:
			return nil, fmt.Errorf("core: loading frame source: %w", err)
		}
	} else {
		slog.Info("frame source loaded", "dir", cfg.ImageDir, "frames", src.Len())
	}

	b := bus.New()

	pub, err := publisher.New(publisher.Config{
		Topic:       cfg.Topic,
		FrameID:     cfg.FrameID,
		FrequencyHz: cfg.FrequencyHz,
		PNGLevel:    cfg.PNGCompressionLevel,
		LogEveryN:   cfg.LogEveryN,
	}, src, b)
	if err != nil {
		return nil, fmt.Errorf("core: creating publisher: %w", err)
	}

	n := &Node{
		cfg: cfg,
		bus: b,
		src: src,
		pub: pub,
	}

	if cfg.MQTT.Broker != "" {
		n.emitter = emitter.New(cfg.MQTT, cfg.Topic, b)
	}

	return n, nil
}

// Bus exposes the in-process bus so local subscribers can attach before Run.
func (n *Node) Bus() *bus.Bus {
	return n.bus
}

// Run starts all components and blocks until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	n.mu.Lock()
	if n.isRunning {
		n.mu.Unlock()
		return fmt.Errorf("core: node is already running")
	}
	n.isRunning = true
	n.started = time.Now()
	n.mu.Unlock()

	if n.emitter != nil {
		// Broker unavailability is not fatal: the in-process stream keeps
		// going and paho retries in the background.
		if err := n.emitter.Connect(ctx); err != nil {
			slog.Warn("mqtt connect failed, bridge degraded", "error", err)
		}
		if err := n.emitter.Start(); err != nil {
			return fmt.Errorf("core: starting mqtt bridge: %w", err)
		}
	}

	if err := n.pub.Start(ctx); err != nil {
		return fmt.Errorf("core: starting publish loop: %w", err)
	}

	slog.Info("node running",
		"topic", n.cfg.Topic,
		"frequency_hz", n.cfg.FrequencyHz,
		"mqtt_bridge", n.emitter != nil,
	)

	<-ctx.Done()
	return nil
}

// Shutdown stops the components in reverse order: loop first (no more
// publishes), then the bridge, then the bus.
func (n *Node) Shutdown(ctx context.Context) error {
	n.mu.Lock()
	if !n.isRunning {
		n.mu.Unlock()
		return nil
	}
	n.isRunning = false
	n.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = n.pub.Stop()
		if n.emitter != nil {
			n.emitter.Stop()
		}
		_ = n.bus.Close()
	}()

	select {
	case <-done:
		slog.Info("node stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("core: shutdown timed out: %w", ctx.Err())
	}
}
