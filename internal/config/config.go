package config

import (
	"fmt"
	"math"
	"path/filepath"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/pkg/pose"
)

// Config defines the runtime configuration for the pose server.
type Config struct {
	Addr                string
	MetricsAddr         string
	AssetsDir           string
	TensorShmName       string
	PollInterval        time.Duration
	StatusInterval      time.Duration
	RecordingOutputPath string
	MaxWebRTCClients    int
	DevReload           bool

	ConfidenceThreshold float64
	IOUThreshold        float64
	Suppression         string
	RenderOverlay       bool
	JPEGQuality         int
	HistorySize         int
}

// DefaultConfig returns the settings used when no flag or tuning file says otherwise.
func DefaultConfig() Config {
	return Config{
		Addr:                ":8080",
		MetricsAddr:         ":9090",
		AssetsDir:           filepath.Clean("./web"),
		TensorShmName:       "/pose_tensor",
		PollInterval:        10 * time.Millisecond,
		StatusInterval:      2 * time.Second,
		RecordingOutputPath: "./recordings",
		MaxWebRTCClients:    10,
		ConfidenceThreshold: pose.DefaultConfidenceThreshold,
		IOUThreshold:        pose.DefaultIOUThreshold,
		Suppression:         pose.SuppressionFirstSeen,
		RenderOverlay:       true,
		JPEGQuality:         80,
		HistorySize:         8,
	}
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	if err := checkUnit("confidence_threshold", c.ConfidenceThreshold); err != nil {
		return err
	}
	if err := checkUnit("iou_threshold", c.IOUThreshold); err != nil {
		return err
	}
	if _, err := pose.NewSuppressor(c.Suppression, c.IOUThreshold); err != nil {
		return err
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg_quality must be between 1 and 100, got %d", c.JPEGQuality)
	}
	if c.HistorySize < 1 {
		return fmt.Errorf("history size must be at least 1, got %d", c.HistorySize)
	}
	if c.MaxWebRTCClients < 0 {
		return fmt.Errorf("max webrtc clients must be non-negative, got %d", c.MaxWebRTCClients)
	}
	return nil
}

// Pipeline builds the pose pipeline described by the thresholds.
func (c Config) Pipeline() (*pose.Pipeline, error) {
	s, err := pose.NewSuppressor(c.Suppression, c.IOUThreshold)
	if err != nil {
		return nil, err
	}
	return &pose.Pipeline{
		Decoder:    pose.Decoder{ConfidenceThreshold: c.ConfidenceThreshold},
		Suppressor: s,
	}, nil
}

func checkUnit(name string, v float64) error {
	if math.IsNaN(v) || v < 0 || v > 1 {
		return fmt.Errorf("%s must be between 0 and 1, got %f", name, v)
	}
	return nil
}
