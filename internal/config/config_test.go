package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/pkg/pose"
)

func writeTuning(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	p, err := cfg.Pipeline()
	require.NoError(t, err)
	assert.Equal(t, pose.NewPipeline(), p)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"confidence above one", func(c *Config) { c.ConfidenceThreshold = 1.5 }, "confidence_threshold"},
		{"negative iou", func(c *Config) { c.IOUThreshold = -0.1 }, "iou_threshold"},
		{"nan confidence", func(c *Config) { c.ConfidenceThreshold = math.NaN() }, "confidence_threshold"},
		{"nan iou", func(c *Config) { c.IOUThreshold = math.NaN() }, "iou_threshold"},
		{"unknown suppression", func(c *Config) { c.Suppression = "soft" }, "unknown suppression"},
		{"zero poll", func(c *Config) { c.PollInterval = 0 }, "poll interval"},
		{"jpeg quality", func(c *Config) { c.JPEGQuality = 0 }, "jpeg_quality"},
		{"history", func(c *Config) { c.HistorySize = 0 }, "history"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.errMsg)
		})
	}
}

func TestLoadTuningPartial(t *testing.T) {
	path := writeTuning(t, "tuning.json", `{"iou_threshold": 0.45, "suppression": "confidence", "poll_interval": "25ms"}`)

	tuning, err := LoadTuning(path)
	require.NoError(t, err)

	cfg := DefaultConfig()
	tuning.Apply(&cfg)

	assert.Equal(t, 0.45, cfg.IOUThreshold)
	assert.Equal(t, pose.SuppressionConfidence, cfg.Suppression)
	assert.Equal(t, 25*time.Millisecond, cfg.PollInterval)
	// untouched keys keep their defaults
	assert.Equal(t, pose.DefaultConfidenceThreshold, cfg.ConfidenceThreshold)
	assert.True(t, cfg.RenderOverlay)
	require.NoError(t, cfg.Validate())

	p, err := cfg.Pipeline()
	require.NoError(t, err)
	assert.Equal(t, pose.ConfidenceSuppression{IOUThreshold: 0.45}, p.Suppressor)
}

func TestLoadTuningRejects(t *testing.T) {
	_, err := LoadTuning(writeTuning(t, "tuning.yaml", `{}`))
	assert.ErrorContains(t, err, ".json extension")

	_, err = LoadTuning(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "stat")

	_, err = LoadTuning(writeTuning(t, "bad.json", `{"iou_threshold": `))
	assert.ErrorContains(t, err, "parse")

	_, err = LoadTuning(writeTuning(t, "range.json", `{"confidence_threshold": 2}`))
	assert.ErrorContains(t, err, "confidence_threshold")

	_, err = LoadTuning(writeTuning(t, "dur.json", `{"poll_interval": "soon"}`))
	assert.ErrorContains(t, err, "poll_interval")
}

func TestApplyNilTuning(t *testing.T) {
	var tuning *Tuning
	cfg := DefaultConfig()
	tuning.Apply(&cfg)
	assert.Equal(t, DefaultConfig(), cfg)
}
