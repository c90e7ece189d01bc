// Package config loads and validates the daemon's YAML configuration file,
// structured the way the original daemon's config.cpp lays out its sections.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type NatsConfig struct {
	URL                   string `yaml:"url"`
	AutoReconnect         bool   `yaml:"auto_reconnect"`
	ReconnectIntervalSecs int    `yaml:"reconnect_interval_seconds"`
	MaxReconnectAttempts  int    `yaml:"max_reconnect_attempts"`
	ConnectionTimeoutMs   int    `yaml:"connection_timeout_ms"`
}

type StreamConfig struct {
	Width               int      `yaml:"width"`
	Height              int      `yaml:"height"`
	FPS                 int      `yaml:"fps"`
	ConfidenceThreshold float32  `yaml:"confidence_threshold"`
	ClassFilter         []string `yaml:"class_filter"`
}

type AcceleratorConfig struct {
	DeviceID  int `yaml:"device_id"`
	BatchSize int `yaml:"batch_size"`
}

type PerformanceConfig struct {
	MaxStreams    int  `yaml:"max_streams"`
	BufferSize    int  `yaml:"buffer_size"`
	DropFrames    bool `yaml:"drop_frames"`
	RTSPLatencyMs int  `yaml:"rtsp_latency_ms"`
	RTSPTimeoutUs int  `yaml:"rtsp_timeout_us"`
	RTSPRetry     int  `yaml:"rtsp_retry"`
}

type LogConfig struct {
	Level           string `yaml:"level"`
	FilePath        string `yaml:"file_path"`
	EnableColor     bool   `yaml:"enable_color"`
	EnableTimestamp bool   `yaml:"enable_timestamp"`
}

type ModelStorageConfig struct {
	ModelsDir string `yaml:"models_dir"`
}

// StreamDef bootstraps one stream at daemon startup, standing in for the
// out-of-scope RPC dispatch layer so the daemon is runnable standalone.
type StreamDef struct {
	StreamID    string   `yaml:"id"`
	RTSPUrl     string   `yaml:"rtsp_url"`
	ModelID     string   `yaml:"model_id"`
	ClassFilter []string `yaml:"class_filter"`
}

// DaemonConfig is the full, validated configuration for one daemon process.
type DaemonConfig struct {
	Nats        NatsConfig         `yaml:"nats"`
	Stream      StreamConfig       `yaml:"stream"`
	Accelerator AcceleratorConfig  `yaml:"accelerator"`
	Performance PerformanceConfig  `yaml:"performance"`
	Log         LogConfig          `yaml:"log"`
	Models      ModelStorageConfig `yaml:"models"`
	Streams     []StreamDef        `yaml:"streams"`
}

// Default returns a fully populated configuration with sane defaults,
// matching the original's GetDefault().
func Default() DaemonConfig {
	return DaemonConfig{
		Nats: NatsConfig{URL: "nats://127.0.0.1:4222", AutoReconnect: true, ReconnectIntervalSecs: 5, MaxReconnectAttempts: 3, ConnectionTimeoutMs: 5000},
		Stream: StreamConfig{Width: 1920, Height: 1080, FPS: 30, ConfidenceThreshold: 0.5},
		Accelerator: AcceleratorConfig{DeviceID: 0, BatchSize: 1},
		Performance: PerformanceConfig{MaxStreams: 4, BufferSize: 8, DropFrames: true, RTSPLatencyMs: 0, RTSPTimeoutUs: 10_000_000, RTSPRetry: 3},
		Log:    LogConfig{Level: "info", EnableColor: false, EnableTimestamp: true},
		Models: ModelStorageConfig{ModelsDir: "./models"},
	}
}

// LoadFromFile reads, parses and validates a YAML config file, filling in
// any zero-valued sections with the defaults first.
func LoadFromFile(path string) (DaemonConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return DaemonConfig{}, fmt.Errorf("read config %s: %w", path, err)
	}
	return LoadFromString(string(b))
}

// LoadFromString parses and validates a YAML config document.
func LoadFromString(doc string) (DaemonConfig, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(doc), &cfg); err != nil {
		return DaemonConfig{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return DaemonConfig{}, err
	}
	return cfg, nil
}

// SaveToFile writes cfg as YAML to path.
func (c DaemonConfig) SaveToFile(path string) error {
	doc, err := c.ToYamlString()
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(doc), 0644)
}

// ToYamlString serializes cfg as YAML.
func (c DaemonConfig) ToYamlString() (string, error) {
	b, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Validate range-checks stream fps, stream confidence threshold,
// accelerator batch size and max streams; other fields are not checked.
func (c DaemonConfig) Validate() error {
	if c.Stream.FPS < 1 || c.Stream.FPS > 120 {
		return fmt.Errorf("stream.fps must be in [1,120], got %d", c.Stream.FPS)
	}
	if c.Stream.ConfidenceThreshold < 0 || c.Stream.ConfidenceThreshold > 1 {
		return fmt.Errorf("stream.confidence_threshold must be in [0,1], got %v", c.Stream.ConfidenceThreshold)
	}
	if c.Accelerator.BatchSize < 1 {
		return fmt.Errorf("accelerator.batch_size must be >= 1, got %d", c.Accelerator.BatchSize)
	}
	if c.Performance.MaxStreams < 1 || c.Performance.MaxStreams > 16 {
		return fmt.Errorf("performance.max_streams must be in [1,16], got %d", c.Performance.MaxStreams)
	}
	return nil
}

// ReconnectInterval returns the NATS reconnect interval as a time.Duration.
func (c NatsConfig) ReconnectInterval() time.Duration {
	return time.Duration(c.ReconnectIntervalSecs) * time.Second
}
