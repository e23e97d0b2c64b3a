// Package emitter bridges the in-process bus to an MQTT broker so
// out-of-process subscribers can consume the image topics.
//
// The bridge subscribes keep-last to both bus topics and forwards at MQTT
// QoS 0, matching the best-effort, most-recent-only policy of the bus
// itself: a slow broker connection drops frames instead of building a
// backlog.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/lyy666-lyy/ros2-compress/internal/bus"
	"github.com/lyy666-lyy/ros2-compress/internal/config"
	"github.com/lyy666-lyy/ros2-compress/internal/types"
)

// metaSuffix is appended to the compressed topic for the JSON metadata
// sidecar (the PNG payload itself is opaque bytes).
const metaSuffix = "/meta"

// connectTimeout bounds the initial broker handshake.
const connectTimeout = 10 * time.Second

// Stats is a snapshot of bridge counters.
type Stats struct {
	ForwardedRaw        uint64
	ForwardedCompressed uint64
	Dropped             uint64
	Errors              uint64
	Connected           bool
}

// Emitter forwards bus messages to an MQTT broker.
type Emitter struct {
	cfg             config.MQTTConfig
	baseTopic       string
	compressedTopic string
	bus             *bus.Bus
	client          mqtt.Client

	forwardedRaw        atomic.Uint64
	forwardedCompressed atomic.Uint64
	dropped             atomic.Uint64
	errors              atomic.Uint64

	mu        sync.Mutex
	connected bool
	started   bool
	wg        sync.WaitGroup
}

// New creates a bridge for the given base topic. Call Connect, then Start.
func New(cfg config.MQTTConfig, baseTopic string, b *bus.Bus) *Emitter {
	return &Emitter{
		cfg:             cfg,
		baseTopic:       baseTopic,
		compressedTopic: baseTopic + "/compressed",
		bus:             b,
	}
}

// Connect establishes the broker connection with automatic reconnect.
func (e *Emitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		slog.Info("mqtt connected", "broker", e.cfg.Broker)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		slog.Warn("mqtt connection lost", "error", err)
	}

	e.client = mqtt.NewClient(opts)

	token := e.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("emitter: connecting to %s: %w", e.cfg.Broker, err)
		}
	case <-time.After(connectTimeout):
		return fmt.Errorf("emitter: connect to %s timed out", e.cfg.Broker)
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

// Start subscribes to both bus topics and launches the forwarding
// goroutines. They exit when the bus subscriptions are closed (Stop, bus
// Close, or unsubscribe).
func (e *Emitter) Start() error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return fmt.Errorf("emitter: already started")
	}
	e.started = true
	e.mu.Unlock()

	rawRecv, err := e.bus.SubscribeLatest(e.baseTopic, "mqtt-bridge-raw")
	if err != nil {
		return fmt.Errorf("emitter: subscribing raw topic: %w", err)
	}
	compRecv, err := e.bus.SubscribeLatest(e.compressedTopic, "mqtt-bridge-compressed")
	if err != nil {
		return fmt.Errorf("emitter: subscribing compressed topic: %w", err)
	}

	e.wg.Add(2)
	go e.forwardRawLoop(rawRecv)
	go e.forwardCompressedLoop(compRecv)

	slog.Info("mqtt bridge started",
		"raw_topic", e.baseTopic,
		"compressed_topic", e.compressedTopic,
	)

	return nil
}

func (e *Emitter) forwardRawLoop(recv *bus.Receiver) {
	defer e.wg.Done()

	for {
		msg, ok := recv.Receive()
		if !ok {
			return
		}

		raw, ok := msg.(*types.RawImage)
		if !ok {
			e.errors.Add(1)
			continue
		}

		if !e.IsConnected() {
			e.dropped.Add(1)
			continue
		}

		payload, err := json.Marshal(rawEnvelope(raw))
		if err != nil {
			e.errors.Add(1)
			slog.Error("raw envelope marshal failed", "error", err)
			continue
		}

		e.client.Publish(e.baseTopic, 0, false, payload)
		e.forwardedRaw.Add(1)
	}
}

func (e *Emitter) forwardCompressedLoop(recv *bus.Receiver) {
	defer e.wg.Done()

	for {
		msg, ok := recv.Receive()
		if !ok {
			return
		}

		comp, ok := msg.(*types.CompressedImage)
		if !ok {
			e.errors.Add(1)
			continue
		}

		if !e.IsConnected() {
			e.dropped.Add(1)
			continue
		}

		meta, err := json.Marshal(metaEnvelope(comp))
		if err != nil {
			e.errors.Add(1)
			slog.Error("compressed meta marshal failed", "error", err)
			continue
		}

		// Opaque PNG bytes on the topic, JSON header on the sidecar.
		e.client.Publish(e.compressedTopic, 0, false, comp.Data)
		e.client.Publish(e.compressedTopic+metaSuffix, 0, false, meta)
		e.forwardedCompressed.Add(1)
	}
}

// Stop detaches from the bus, waits for the forwarders, and disconnects.
// Idempotent.
func (e *Emitter) Stop() {
	e.mu.Lock()
	started := e.started
	e.started = false
	e.mu.Unlock()

	if !started {
		return
	}

	// Unsubscribing closes the receivers, which unblocks the loops.
	_ = e.bus.Unsubscribe(e.baseTopic, "mqtt-bridge-raw")
	_ = e.bus.Unsubscribe(e.compressedTopic, "mqtt-bridge-compressed")
	e.wg.Wait()

	if e.client != nil {
		e.client.Disconnect(250)
	}

	slog.Info("mqtt bridge stopped",
		"forwarded_raw", e.forwardedRaw.Load(),
		"forwarded_compressed", e.forwardedCompressed.Load(),
	)
}

// IsConnected reports broker connectivity.
func (e *Emitter) IsConnected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// Stats returns a snapshot of bridge counters.
func (e *Emitter) Stats() Stats {
	return Stats{
		ForwardedRaw:        e.forwardedRaw.Load(),
		ForwardedCompressed: e.forwardedCompressed.Load(),
		Dropped:             e.dropped.Load(),
		Errors:              e.errors.Load(),
		Connected:           e.IsConnected(),
	}
}
