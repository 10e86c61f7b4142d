package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const maxTuningFileSize = 1 * 1024 * 1024 // 1MB

// Tuning holds the pipeline knobs that can be set from a JSON file.
// Omitted keys keep whatever the Config already has.
type Tuning struct {
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	IOUThreshold        *float64 `json:"iou_threshold,omitempty"`
	Suppression         *string  `json:"suppression,omitempty"`
	PollInterval        *string  `json:"poll_interval,omitempty"` // duration string like "10ms"
	RenderOverlay       *bool    `json:"render_overlay,omitempty"`
	JPEGQuality         *int     `json:"jpeg_quality,omitempty"`
	HistorySize         *int     `json:"history_size,omitempty"`
}

// LoadTuning reads a tuning file. The file must have a .json extension and be
// under 1MB.
func LoadTuning(path string) (*Tuning, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("tuning file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat tuning file: %w", err)
	}
	if info.Size() > maxTuningFileSize {
		return nil, fmt.Errorf("tuning file too large: %d bytes (max %d)", info.Size(), maxTuningFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read tuning file: %w", err)
	}

	t := &Tuning{}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("failed to parse tuning JSON: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tuning: %w", err)
	}
	return t, nil
}

// Validate checks the fields that are set.
func (t *Tuning) Validate() error {
	if t.ConfidenceThreshold != nil {
		if err := checkUnit("confidence_threshold", *t.ConfidenceThreshold); err != nil {
			return err
		}
	}
	if t.IOUThreshold != nil {
		if err := checkUnit("iou_threshold", *t.IOUThreshold); err != nil {
			return err
		}
	}
	if t.PollInterval != nil && *t.PollInterval != "" {
		if _, err := time.ParseDuration(*t.PollInterval); err != nil {
			return fmt.Errorf("invalid poll_interval '%s': %w", *t.PollInterval, err)
		}
	}
	if t.JPEGQuality != nil && (*t.JPEGQuality < 1 || *t.JPEGQuality > 100) {
		return fmt.Errorf("jpeg_quality must be between 1 and 100, got %d", *t.JPEGQuality)
	}
	return nil
}

// Apply copies the set fields onto cfg. The suppression name is checked by
// Config.Validate, not here.
func (t *Tuning) Apply(cfg *Config) {
	if t == nil {
		return
	}
	if t.ConfidenceThreshold != nil {
		cfg.ConfidenceThreshold = *t.ConfidenceThreshold
	}
	if t.IOUThreshold != nil {
		cfg.IOUThreshold = *t.IOUThreshold
	}
	if t.Suppression != nil {
		cfg.Suppression = *t.Suppression
	}
	if t.PollInterval != nil && *t.PollInterval != "" {
		if d, err := time.ParseDuration(*t.PollInterval); err == nil {
			cfg.PollInterval = d
		}
	}
	if t.RenderOverlay != nil {
		cfg.RenderOverlay = *t.RenderOverlay
	}
	if t.JPEGQuality != nil {
		cfg.JPEGQuality = *t.JPEGQuality
	}
	if t.HistorySize != nil {
		cfg.HistorySize = *t.HistorySize
	}
}
