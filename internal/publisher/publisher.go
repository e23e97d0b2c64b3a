// Package publisher implements the periodic publish loop that replays the
// frame source over the bus.
//
// Each timer firing triggers exactly one tick: fetch the next frame path,
// decode it, stamp one header, and emit the raw and compressed encodings on
// their two topics. Failures are isolated per step and per channel; nothing
// inside a tick terminates the loop.
package publisher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lyy666-lyy/ros2-compress/internal/bus"
	"github.com/lyy666-lyy/ros2-compress/internal/codec"
	"github.com/lyy666-lyy/ros2-compress/internal/source"
	"github.com/lyy666-lyy/ros2-compress/internal/types"
)

// CompressedSuffix is appended to the base topic for the compressed channel,
// mirroring the image_transport topic convention.
const CompressedSuffix = "/compressed"

// defaultLogEveryN throttles the "now publishing" notice.
const defaultLogEveryN = 15

// Codec abstracts the decode and compress steps of a tick.
//
// The default implementation delegates to the codec package; tests inject
// failing codecs to exercise per-channel degradation.
type Codec interface {
	DecodeFile(path string) (*codec.Raster, error)
	EncodePNG(r *codec.Raster, level int) ([]byte, error)
}

// stdCodec is the production Codec backed by the codec package.
type stdCodec struct{}

func (stdCodec) DecodeFile(path string) (*codec.Raster, error) { return codec.DecodeFile(path) }
func (stdCodec) EncodePNG(r *codec.Raster, level int) ([]byte, error) {
	return codec.EncodePNG(r, level)
}

// Config is the immutable publish configuration, set once at startup and
// read on every tick.
type Config struct {
	// Topic is the base topic; the compressed channel publishes on
	// Topic + CompressedSuffix.
	Topic string
	// FrameID is the coordinate-frame identifier stamped into headers.
	FrameID string
	// FrequencyHz is the target publish rate. Must be positive.
	FrequencyHz float64
	// PNGLevel is the 0-9 compression level passed through to the encoder.
	PNGLevel int
	// LogEveryN controls the throttled per-frame notice (default 15).
	LogEveryN int
}

// Stats is a snapshot of loop counters, keyed by the failure taxonomy.
type Stats struct {
	Ticks               uint64
	IdleTicks           uint64
	RawPublished        uint64
	CompressedPublished uint64
	DecodeFailures      uint64
	RawFailures         uint64
	CompressedFailures  uint64
}

// Publisher drives the periodic emission loop.
type Publisher struct {
	cfg             Config
	src             *source.Source
	bus             *bus.Bus
	codec           Codec
	period          time.Duration
	compressedTopic string

	// tickMu serializes ticks so the cursor and the twin-message header
	// are never touched concurrently, regardless of timer behavior.
	tickMu sync.Mutex
	seq    uint64 // guarded by tickMu

	ticks               atomic.Uint64
	idleTicks           atomic.Uint64
	rawPublished        atomic.Uint64
	compressedPublished atomic.Uint64
	decodeFailures      atomic.Uint64
	rawFailures         atomic.Uint64
	compressedFailures  atomic.Uint64

	mu        sync.Mutex
	isRunning bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New creates a Publisher over a loaded source and a bus.
func New(cfg Config, src *source.Source, b *bus.Bus) (*Publisher, error) {
	if cfg.FrequencyHz <= 0 {
		return nil, fmt.Errorf("publisher: frequency must be positive, got %v", cfg.FrequencyHz)
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("publisher: topic must not be empty")
	}
	if cfg.LogEveryN <= 0 {
		cfg.LogEveryN = defaultLogEveryN
	}

	return &Publisher{
		cfg:             cfg,
		src:             src,
		bus:             b,
		codec:           stdCodec{},
		period:          time.Duration(float64(time.Second) / cfg.FrequencyHz),
		compressedTopic: cfg.Topic + CompressedSuffix,
		stopCh:          make(chan struct{}),
	}, nil
}

// Period returns the timer period derived from the configured frequency.
func (p *Publisher) Period() time.Duration {
	return p.period
}

// Start launches the ticker loop in its own goroutine. The single loop
// goroutine is the only timer-driven caller of Tick, so ticks never overlap.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.isRunning {
		p.mu.Unlock()
		return fmt.Errorf("publisher: already running")
	}
	p.isRunning = true
	p.mu.Unlock()

	slog.Info("publish loop starting",
		"topic", p.cfg.Topic,
		"compressed_topic", p.compressedTopic,
		"frequency_hz", p.cfg.FrequencyHz,
		"period", p.period,
		"png_level", p.cfg.PNGLevel,
		"frames", p.src.Len(),
	)

	if p.src.Len() == 0 {
		slog.Warn("frame source is empty, loop will run idle")
	}

	p.wg.Add(1)
	go p.run(ctx)

	return nil
}

// run fires one tick per timer period until stopped.
func (p *Publisher) run(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Tick()
		}
	}
}

// Stop halts the loop, letting any in-flight tick finish. Idempotent.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.isRunning {
		p.mu.Unlock()
		return nil
	}
	p.isRunning = false
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()

	stats := p.Stats()
	slog.Info("publish loop stopped",
		"ticks", stats.Ticks,
		"raw_published", stats.RawPublished,
		"compressed_published", stats.CompressedPublished,
	)

	return nil
}

// Tick executes one publish cycle. Safe to call directly (tests do); a
// mutex guarantees ticks are serialized even if the caller is not the
// loop goroutine.
func (p *Publisher) Tick() {
	p.tickMu.Lock()
	defer p.tickMu.Unlock()

	tick := p.ticks.Add(1)

	if p.src.Len() == 0 {
		p.idleTicks.Add(1)
		return
	}

	// The cursor advances no matter what happens below: a corrupt frame is
	// skipped on the next tick, never retried forever.
	path := p.src.Next()

	raster, err := p.codec.DecodeFile(path)
	if err != nil {
		p.decodeFailures.Add(1)
		slog.Warn("frame decode failed, skipping tick",
			"path", path,
			"error", err,
		)
		return
	}

	// One timestamp and one header for both messages: the correlation
	// contract for subscribers consuming both channels.
	header := types.Header{
		Stamp:   time.Now(),
		FrameID: p.cfg.FrameID,
		Seq:     p.seq,
		TraceID: uuid.New().String(),
	}
	p.seq++

	p.publishRaw(header, raster, path)
	p.publishCompressed(header, raster, path)

	if (tick-1)%uint64(p.cfg.LogEveryN) == 0 {
		slog.Info("publishing frame",
			"frame", filepath.Base(path),
			"seq", header.Seq,
			"tick", tick,
		)
	}
}

// publishRaw emits the uncompressed message. Failures are counted and
// logged but never reach the compressed path.
func (p *Publisher) publishRaw(h types.Header, r *codec.Raster, path string) {
	msg, err := types.NewRawImage(h, r.Width, r.Height, r.Step, r.Data)
	if err != nil {
		p.rawFailures.Add(1)
		slog.Error("raw message construction failed",
			"path", path,
			"error", err,
		)
		return
	}

	if err := p.bus.Publish(p.cfg.Topic, msg); err != nil {
		p.rawFailures.Add(1)
		slog.Error("raw publish failed",
			"topic", p.cfg.Topic,
			"error", err,
		)
		return
	}

	p.rawPublished.Add(1)
}

// publishCompressed encodes and emits the PNG message, independent of
// whatever happened on the raw channel this tick.
func (p *Publisher) publishCompressed(h types.Header, r *codec.Raster, path string) {
	data, err := p.codec.EncodePNG(r, p.cfg.PNGLevel)
	if err != nil {
		p.compressedFailures.Add(1)
		slog.Error("compressed encode failed",
			"path", path,
			"error", err,
		)
		return
	}

	msg := &types.CompressedImage{
		Header: h,
		Format: types.CompressedFormat,
		Data:   data,
	}

	if err := p.bus.Publish(p.compressedTopic, msg); err != nil {
		p.compressedFailures.Add(1)
		slog.Error("compressed publish failed",
			"topic", p.compressedTopic,
			"error", err,
		)
		return
	}

	p.compressedPublished.Add(1)
}

// Stats returns a snapshot of loop counters.
func (p *Publisher) Stats() Stats {
	return Stats{
		Ticks:               p.ticks.Load(),
		IdleTicks:           p.idleTicks.Load(),
		RawPublished:        p.rawPublished.Load(),
		CompressedPublished: p.compressedPublished.Load(),
		DecodeFailures:      p.decodeFailures.Load(),
		RawFailures:         p.rawFailures.Load(),
		CompressedFailures:  p.compressedFailures.Load(),
	}
}
