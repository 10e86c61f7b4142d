package monitor

import (
	"fmt"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/events"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/pkg/pose"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/pkg/types"
)

var log = logger.For("Processor")

// EventSink receives every serialized pose event. The recorder and the
// WebRTC server both satisfy it.
type EventSink interface {
	SendEvent(ev *events.SerializedEvent)
}

// recorderSink is a sink that reports whether it accepted the event.
type recorderSink interface {
	IsRecording() bool
	SendEvent(ev *events.SerializedEvent) bool
}

// Processor runs the pose pipeline on each tensor frame and hands the
// result to the monitor and every subscriber.
type Processor struct {
	pipeline *pose.Pipeline
	monitor  *Monitor
	events   *EventBroadcaster
	frames   *FrameBroadcaster // nil when overlay rendering is off
	recorder recorderSink      // may be nil
	sinks    []EventSink
	metrics  *metrics.Metrics // may be nil

	emptyCount int
}

// ProcessorOption configures optional Processor outputs.
type ProcessorOption func(*Processor)

// WithFrames renders overlays for MJPEG clients.
func WithFrames(fb *FrameBroadcaster) ProcessorOption {
	return func(p *Processor) { p.frames = fb }
}

// WithRecorder feeds events to a recorder.
func WithRecorder(r recorderSink) ProcessorOption {
	return func(p *Processor) { p.recorder = r }
}

// WithSink feeds events to an additional sink.
func WithSink(s EventSink) ProcessorOption {
	return func(p *Processor) { p.sinks = append(p.sinks, s) }
}

// WithMetrics records pipeline counters.
func WithMetrics(m *metrics.Metrics) ProcessorOption {
	return func(p *Processor) { p.metrics = m }
}

// NewProcessor creates a Processor.
func NewProcessor(pipeline *pose.Pipeline, monitor *Monitor, eb *EventBroadcaster, opts ...ProcessorOption) *Processor {
	p := &Processor{
		pipeline: pipeline,
		monitor:  monitor,
		events:   eb,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process decodes one frame. A frame without any candidate is not an
// error: it yields an event with no detections.
func (p *Processor) Process(frame *types.TensorFrame) (events.PoseEvent, error) {
	start := time.Now()
	res, err := p.pipeline.Run(frame.Tensor)
	if err != nil {
		if p.metrics != nil {
			p.metrics.DecodeErrors.Add(1)
		}
		return events.PoseEvent{}, fmt.Errorf("frame #%d: %w", frame.FrameNumber, err)
	}
	if p.metrics != nil {
		p.metrics.ObserveDecode(time.Since(start), res.Candidates, len(res.Detections))
	}

	if res.Empty() {
		p.emptyCount++
		if p.emptyCount == 1 || p.emptyCount%300 == 0 {
			log.Warn("No candidate above confidence threshold (frame #%d, %d empty frames)", frame.FrameNumber, p.emptyCount)
		}
	} else {
		if p.emptyCount > 0 {
			log.Debug("Candidates back after %d empty frames", p.emptyCount)
		}
		p.emptyCount = 0
	}

	ev := events.NewPoseEvent(frame.FrameNumber, frame.Timestamp, res.Detections)
	p.monitor.Update(ev, res)

	serialized, err := events.Serialize(ev)
	if err != nil {
		return ev, fmt.Errorf("serialize frame #%d: %w", frame.FrameNumber, err)
	}
	p.events.Publish(serialized)
	if p.recorder != nil && p.recorder.IsRecording() {
		if !p.recorder.SendEvent(serialized) && p.metrics != nil {
			p.metrics.RecorderErrors.Add(1)
		}
	}
	for _, s := range p.sinks {
		s.SendEvent(serialized)
	}
	if p.frames != nil {
		p.frames.Publish(frame, ev)
	}

	return ev, nil
}
