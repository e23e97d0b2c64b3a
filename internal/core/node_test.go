package core

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lyy666-lyy/ros2-compress/internal/config"
	"github.com/lyy666-lyy/ros2-compress/internal/types"
)

func writeTestPNG(t *testing.T, dir, name string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := 0; i < 16; i++ {
		img.Set(i%4, i/4, color.RGBA{R: uint8(i * 16), A: 255})
	}
	file, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("creating fixture: %v", err)
	}
	defer file.Close()
	if err := png.Encode(file, img); err != nil {
		t.Fatalf("encoding fixture: %v", err)
	}
}

func testNodeConfig(dir string) *config.Config {
	cfg := config.Default()
	cfg.ImageDir = dir
	cfg.FrequencyHz = 100.0
	cfg.HealthPort = 0 // not binding ports in tests
	return cfg
}

func TestNewWithMissingDirectoryRunsIdle(t *testing.T) {
	cfg := testNodeConfig(filepath.Join(t.TempDir(), "missing"))

	n, err := New(cfg)
	if err != nil {
		t.Fatalf("missing directory must not be fatal: %v", err)
	}

	status := n.HealthCheck()
	if status.FramesLoaded != 0 {
		t.Errorf("expected 0 frames, got %d", status.FramesLoaded)
	}
	if status.Status != "stopped" {
		t.Errorf("expected stopped before Run, got %s", status.Status)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testNodeConfig(t.TempDir())
	cfg.FrequencyHz = 0

	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for invalid config")
	}
}

func TestRunAndShutdown(t *testing.T) {
	dir := t.TempDir()
	writeTestPNG(t, dir, "frame.png")

	n, err := New(testNodeConfig(dir))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Attach a local subscriber before starting.
	ch := make(chan any, 64)
	if err := n.Bus().Subscribe("camera/image_raw", "test", ch); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- n.Run(ctx) }()

	select {
	case msg := <-ch:
		if _, ok := msg.(*types.RawImage); !ok {
			t.Errorf("expected *types.RawImage, got %T", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for published frame")
	}

	status := n.HealthCheck()
	if status.Status != "publishing" {
		t.Errorf("expected status publishing, got %s", status.Status)
	}

	cancel()
	if err := <-runErr; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := n.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := n.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("Shutdown should be idempotent: %v", err)
	}
}

func TestHealthHandler(t *testing.T) {
	dir := t.TempDir()
	writeTestPNG(t, dir, "frame.png")

	n, err := New(testNodeConfig(dir))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	req := httptest.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	n.HealthHandler().ServeHTTP(rec, req)

	if rec.Code != 200 {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var status HealthStatus
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decoding health body: %v", err)
	}
	if status.FramesLoaded != 1 {
		t.Errorf("expected 1 frame loaded, got %d", status.FramesLoaded)
	}
	if status.FrequencyHz != 100.0 {
		t.Errorf("expected frequency 100, got %v", status.FrequencyHz)
	}
	if status.MQTTBridge {
		t.Error("expected mqtt bridge disabled")
	}
}
