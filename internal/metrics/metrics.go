package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pose"

// Metrics holds all application metrics
type Metrics struct {
	// Tensor processing counters
	FramesRead    atomic.Uint64
	FramesDropped atomic.Uint64 // processor queue full
	FramesDecoded atomic.Uint64
	EmptyFrames   atomic.Uint64 // no candidate above the confidence threshold

	// Candidates above the confidence threshold, and what suppression did to them
	Candidates         atomic.Uint64
	DetectionsKept     atomic.Uint64
	DetectionsSuppress atomic.Uint64

	// Error counters
	ReadErrors     atomic.Uint64
	DecodeErrors   atomic.Uint64
	WebRTCErrors   atomic.Uint64
	RecorderErrors atomic.Uint64

	// Fan-out
	EventsDropped    atomic.Uint64
	WebRTCEventsSent atomic.Uint64

	// Subscribers
	EventSubscribers atomic.Int64
	FrameSubscribers atomic.Int64
	ActiveClients    atomic.Int64
	TotalClients     atomic.Uint64

	// Recording state
	RecordingActive atomic.Uint64 // 0 = inactive, 1 = active
	RecordingBytes  atomic.Uint64
	RecordingEvents atomic.Uint64

	decodeLatency prometheus.Histogram
	registry      *prometheus.Registry
}

// New creates a new Metrics instance with its own Prometheus registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		decodeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "decode_seconds",
			Help:      "Time spent decoding, suppressing and annotating one tensor",
			Buckets:   []float64{.0005, .001, .002, .005, .01, .02, .05, .1},
		}),
	}
	m.register()
	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) gauge(name, help string, value func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help},
		value,
	))
}

func (m *Metrics) register() {
	m.counter("frames_read_total", "Tensors read from shared memory", &m.FramesRead)
	m.counter("frames_dropped_total", "Tensors dropped because the processor queue was full", &m.FramesDropped)
	m.counter("frames_decoded_total", "Tensors decoded without error", &m.FramesDecoded)
	m.counter("frames_empty_total", "Decoded tensors with no candidate above the confidence threshold", &m.EmptyFrames)
	m.counter("candidates_total", "Candidates above the confidence threshold", &m.Candidates)
	m.counter("detections_kept_total", "Detections kept after suppression", &m.DetectionsKept)
	m.counter("detections_suppressed_total", "Detections removed as duplicates", &m.DetectionsSuppress)

	m.counter("read_errors_total", "Shared memory read errors", &m.ReadErrors)
	m.counter("decode_errors_total", "Tensors rejected by the decoder", &m.DecodeErrors)
	m.counter("webrtc_errors_total", "WebRTC errors", &m.WebRTCErrors)
	m.counter("recorder_errors_total", "Recorder errors", &m.RecorderErrors)

	m.counter("events_dropped_total", "Events dropped because a subscriber was slow", &m.EventsDropped)
	m.counter("webrtc_events_sent_total", "Events sent over WebRTC data channels", &m.WebRTCEventsSent)
	m.counter("webrtc_clients_total", "WebRTC clients ever connected", &m.TotalClients)

	m.gauge("event_subscribers", "Pose event stream subscribers", func() float64 { return float64(m.EventSubscribers.Load()) })
	m.gauge("frame_subscribers", "MJPEG overlay subscribers", func() float64 { return float64(m.FrameSubscribers.Load()) })
	m.gauge("webrtc_active_clients", "Connected WebRTC clients", func() float64 { return float64(m.ActiveClients.Load()) })

	m.gauge("recording_active", "Recording active (0=inactive, 1=active)", func() float64 { return float64(m.RecordingActive.Load()) })
	m.gauge("recording_bytes", "Bytes written to the current recording", func() float64 { return float64(m.RecordingBytes.Load()) })
	m.gauge("recording_events", "Events written to the current recording", func() float64 { return float64(m.RecordingEvents.Load()) })

	m.registry.MustRegister(m.decodeLatency)
}

// ObserveDecode records one pipeline run: its latency, how many candidates
// passed the confidence threshold and how many survived suppression.
func (m *Metrics) ObserveDecode(d time.Duration, candidates, kept int) {
	m.decodeLatency.Observe(d.Seconds())
	m.FramesDecoded.Add(1)
	m.Candidates.Add(uint64(candidates))
	m.DetectionsKept.Add(uint64(kept))
	if candidates > kept {
		m.DetectionsSuppress.Add(uint64(candidates - kept))
	}
	if candidates == 0 {
		m.EmptyFrames.Add(1)
	}
}

// Registry exposes the private registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on addr. It blocks like http.ListenAndServe.
func (m *Metrics) StartServer(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
