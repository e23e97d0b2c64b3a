package core

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// HealthStatus is the JSON body of the /health endpoint.
type HealthStatus struct {
	Status              string  `json:"status"` // "publishing", "idle", "stopped"
	UptimeSeconds       int64   `json:"uptime_seconds"`
	FramesLoaded        int     `json:"frames_loaded"`
	Ticks               uint64  `json:"ticks"`
	RawPublished        uint64  `json:"raw_published"`
	CompressedPublished uint64  `json:"compressed_published"`
	DecodeFailures      uint64  `json:"decode_failures"`
	RawFailures         uint64  `json:"raw_failures"`
	CompressedFailures  uint64  `json:"compressed_failures"`
	BusPublished        uint64  `json:"bus_published"`
	MQTTBridge          bool    `json:"mqtt_bridge"`
	MQTTConnected       bool    `json:"mqtt_connected"`
	FrequencyHz         float64 `json:"frequency_hz"`
}

// HealthCheck assembles the current health snapshot.
func (n *Node) HealthCheck() HealthStatus {
	n.mu.RLock()
	running := n.isRunning
	started := n.started
	n.mu.RUnlock()

	pubStats := n.pub.Stats()

	status := HealthStatus{
		Status:              "stopped",
		FramesLoaded:        n.src.Len(),
		Ticks:               pubStats.Ticks,
		RawPublished:        pubStats.RawPublished,
		CompressedPublished: pubStats.CompressedPublished,
		DecodeFailures:      pubStats.DecodeFailures,
		RawFailures:         pubStats.RawFailures,
		CompressedFailures:  pubStats.CompressedFailures,
		BusPublished:        n.bus.Stats().TotalPublished,
		MQTTBridge:          n.emitter != nil,
		FrequencyHz:         n.cfg.FrequencyHz,
	}

	if running {
		status.UptimeSeconds = int64(time.Since(started).Seconds())
		if n.src.Len() > 0 {
			status.Status = "publishing"
		} else {
			status.Status = "idle"
		}
	}

	if n.emitter != nil {
		status.MQTTConnected = n.emitter.IsConnected()
	}

	return status
}

// HealthHandler serves the health snapshot as JSON.
func (n *Node) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(n.HealthCheck()); err != nil {
			http.Error(w, "encoding health status", http.StatusInternalServerError)
		}
	})
}

// StartHealthServer serves /health on the configured port (non-blocking).
// A zero port disables the endpoint.
func (n *Node) StartHealthServer() *http.Server {
	if n.cfg.HealthPort == 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/health", n.HealthHandler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", n.cfg.HealthPort),
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health server failed", "error", err)
		}
	}()

	slog.Info("health server listening", "port", n.cfg.HealthPort)
	return srv
}
