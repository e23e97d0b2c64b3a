// Package config loads the static publisher configuration: a YAML file
// consumed once at startup, read-only thereafter.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the complete service configuration.
type Config struct {
	// ImageDir is the directory scanned once at startup for frames.
	ImageDir string `yaml:"image_dir"`
	// FrequencyHz is the target publish rate in Hz.
	FrequencyHz float64 `yaml:"frequency_hz"`
	// Topic is the base topic name; the compressed channel is published
	// on Topic + "/compressed".
	Topic string `yaml:"topic"`
	// FrameID is the coordinate-frame identifier stamped into headers.
	FrameID string `yaml:"frame_id"`
	// PNGCompressionLevel trades size against encode cost (0-9, 0 fastest).
	PNGCompressionLevel int `yaml:"png_compression_level"`
	// LogEveryN throttles the periodic "publishing frame" notice.
	LogEveryN int `yaml:"log_every_n"`
	// HealthPort is the port of the health/metrics HTTP endpoint
	// (0 disables it).
	HealthPort int `yaml:"health_port"`
	// MQTT configures the optional out-of-process bridge.
	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig contains broker settings for the bridge. The bridge is
// disabled when Broker is empty.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
}

// Default returns the configuration used when no file is given. The values
// mirror the sensor defaults: 15 Hz, level 3 PNG (the size/speed balance
// point), log every 15th tick.
func Default() *Config {
	return &Config{
		FrequencyHz:         15.0,
		Topic:               "camera/image_raw",
		FrameID:             "camera_link",
		PNGCompressionLevel: 3,
		LogEveryN:           15,
		HealthPort:          8080,
		MQTT: MQTTConfig{
			ClientID: "image-publisher",
		},
	}
}

// Load reads a YAML configuration file over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration invariants.
func (c *Config) Validate() error {
	if c.FrequencyHz <= 0 {
		return fmt.Errorf("frequency_hz must be positive, got %v", c.FrequencyHz)
	}
	if c.Topic == "" {
		return fmt.Errorf("topic must not be empty")
	}
	if c.PNGCompressionLevel < 0 || c.PNGCompressionLevel > 9 {
		return fmt.Errorf("png_compression_level must be 0-9, got %d", c.PNGCompressionLevel)
	}
	if c.LogEveryN <= 0 {
		return fmt.Errorf("log_every_n must be positive, got %d", c.LogEveryN)
	}
	if c.HealthPort < 0 || c.HealthPort > 65535 {
		return fmt.Errorf("invalid health_port: %d", c.HealthPort)
	}
	return nil
}
