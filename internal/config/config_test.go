package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadFromStringFillsDefaults(t *testing.T) {
	cfg, err := LoadFromString(`
nats:
  url: nats://broker:4222
stream:
  fps: 15
`)
	require.NoError(t, err)
	require.Equal(t, "nats://broker:4222", cfg.Nats.URL)
	require.Equal(t, 15, cfg.Stream.FPS)
	// untouched sections keep their defaults
	require.Equal(t, 4, cfg.Performance.MaxStreams)
	require.Equal(t, "./models", cfg.Models.ModelsDir)
}

func TestValidateRejectsOutOfRangeFPS(t *testing.T) {
	_, err := LoadFromString("stream:\n  fps: 0\n")
	require.Error(t, err)
}

func TestValidateRejectsBadConfidenceThreshold(t *testing.T) {
	_, err := LoadFromString("stream:\n  confidence_threshold: 1.5\n")
	require.Error(t, err)
}

func TestStreamBootstrapListParses(t *testing.T) {
	cfg, err := LoadFromString(`
streams:
  - id: cam1
    rtsp_url: rtsp://10.0.0.5/stream
    model_id: yolov8m
`)
	require.NoError(t, err)
	require.Len(t, cfg.Streams, 1)
	require.Equal(t, "cam1", cfg.Streams[0].StreamID)
	require.Equal(t, "yolov8m", cfg.Streams[0].ModelID)
}

func TestReconnectInterval(t *testing.T) {
	cfg := Default()
	require.Equal(t, 5, int(cfg.Nats.ReconnectInterval().Seconds()))
}
