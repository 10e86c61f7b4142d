// Package monitor serves the live pose view: MJPEG overlay, pose event
// streams, status, recording control and WebRTC signaling.
package monitor

import (
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/events"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/pkg/pose"
)

// Stats is the JSON shape of the monitor counters.
type Stats struct {
	FramesProcessed uint64  `json:"frames_processed"`
	EmptyFrames     uint64  `json:"empty_frames"`
	Candidates      uint64  `json:"candidates"`
	Suppressed      uint64  `json:"suppressed"`
	DetectionCount  int     `json:"detection_count"`
	CurrentFPS      float64 `json:"current_fps"`
	Version         uint64  `json:"version"`
	UptimeSeconds   float64 `json:"uptime_seconds"`
}

// Monitor keeps the newest pose event and a short history of frames in
// which somebody was found.
type Monitor struct {
	startTime   time.Time
	historySize int

	mu         sync.Mutex
	stats      Stats
	lastUpdate time.Time
	latest     *events.PoseEvent
	history    []events.PoseEvent
}

// NewMonitor creates a Monitor remembering up to historySize events.
func NewMonitor(historySize int) *Monitor {
	if historySize < 1 {
		historySize = 1
	}
	return &Monitor{
		startTime:   time.Now(),
		historySize: historySize,
	}
}

// Update records the outcome of one frame.
func (m *Monitor) Update(ev events.PoseEvent, res pose.Result) {
	m.update(ev, res, time.Now())
}

func (m *Monitor) update(ev events.PoseEvent, res pose.Result, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats.Version++
	m.stats.FramesProcessed++
	m.stats.Candidates += uint64(res.Candidates)
	m.stats.Suppressed += uint64(res.Suppressed())
	m.stats.DetectionCount = len(ev.Detections)
	if res.Empty() {
		m.stats.EmptyFrames++
	}

	if !m.lastUpdate.IsZero() {
		if dt := now.Sub(m.lastUpdate).Seconds(); dt > 0 {
			fps := 1 / dt
			if m.stats.CurrentFPS == 0 {
				m.stats.CurrentFPS = fps
			} else {
				m.stats.CurrentFPS = 0.9*m.stats.CurrentFPS + 0.1*fps
			}
		}
	}
	m.lastUpdate = now

	m.latest = &ev
	if len(ev.Detections) > 0 {
		m.history = append([]events.PoseEvent{ev}, m.history...)
		if len(m.history) > m.historySize {
			m.history = m.history[:m.historySize]
		}
	}
}

// Snapshot returns the counters, the newest event (nil before the first
// frame) and the history, newest first.
func (m *Monitor) Snapshot() (Stats, *events.PoseEvent, []events.PoseEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	stats.UptimeSeconds = time.Since(m.startTime).Seconds()

	var latest *events.PoseEvent
	if m.latest != nil {
		ev := *m.latest
		latest = &ev
	}
	history := make([]events.PoseEvent, len(m.history))
	copy(history, m.history)

	return stats, latest, history
}
