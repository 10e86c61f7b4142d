package monitor

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/events"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/overlay"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/pkg/types"
)

// hub fans values out to subscribers. Each subscriber has a small buffer;
// a full buffer drops the value for that subscriber only.
type hub[T any] struct {
	name    string
	mu      sync.Mutex
	clients map[int]chan T
	nextID  int
	dropped atomic.Uint64
	gauge   *atomic.Int64 // subscriber count, may be nil
}

func newHub[T any](name string, gauge *atomic.Int64) *hub[T] {
	return &hub[T]{name: name, clients: make(map[int]chan T), gauge: gauge}
}

// Subscribe adds a new client and returns a channel for receiving values.
func (h *hub[T]) Subscribe() (int, <-chan T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan T, 2)
	h.clients[id] = ch
	h.setGauge()

	logger.Debug(h.name, "Client #%d subscribed (total clients: %d)", id, len(h.clients))
	return id, ch
}

// Unsubscribe removes a client.
func (h *hub[T]) Unsubscribe(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[id]; ok {
		close(ch)
		delete(h.clients, id)
		h.setGauge()
		logger.Debug(h.name, "Client #%d unsubscribed (remaining clients: %d)", id, len(h.clients))
	}
}

// ClientCount returns the number of subscribers.
func (h *hub[T]) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub[T]) broadcast(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.clients {
		select {
		case ch <- v:
		default:
			h.dropped.Add(1)
		}
	}
}

// closeAll disconnects every subscriber.
func (h *hub[T]) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, ch := range h.clients {
		close(ch)
		delete(h.clients, id)
	}
	h.setGauge()
}

func (h *hub[T]) setGauge() {
	if h.gauge != nil {
		h.gauge.Store(int64(len(h.clients)))
	}
}

// EventBroadcaster fans pre-serialized pose events out to stream clients.
type EventBroadcaster struct {
	*hub[*events.SerializedEvent]
}

// NewEventBroadcaster creates an EventBroadcaster. gauge may be nil.
func NewEventBroadcaster(gauge *atomic.Int64) *EventBroadcaster {
	return &EventBroadcaster{newHub[*events.SerializedEvent]("EventBroadcaster", gauge)}
}

// Publish sends ev to every subscriber without blocking.
func (b *EventBroadcaster) Publish(ev *events.SerializedEvent) {
	b.broadcast(ev)
}

// Close disconnects every subscriber.
func (b *EventBroadcaster) Close() {
	b.closeAll()
}

type frameJob struct {
	frame *types.TensorFrame
	event events.PoseEvent
}

// FrameBroadcaster renders overlay JPEGs and fans them out to MJPEG clients.
// Rendering happens on its own goroutine and only while somebody watches;
// when frames arrive faster than they render, older ones are skipped.
type FrameBroadcaster struct {
	*hub[[]byte]
	renderer *overlay.Renderer
	quality  int

	jobs      chan frameJob
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
	skipCount int
}

// NewFrameBroadcaster creates a FrameBroadcaster. gauge may be nil.
func NewFrameBroadcaster(renderer *overlay.Renderer, quality int, gauge *atomic.Int64) *FrameBroadcaster {
	return &FrameBroadcaster{
		hub:      newHub[[]byte]("FrameBroadcaster", gauge),
		renderer: renderer,
		quality:  quality,
		jobs:     make(chan frameJob, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the render loop.
func (fb *FrameBroadcaster) Start() {
	go fb.run()
}

// Stop halts the render loop and disconnects every subscriber.
func (fb *FrameBroadcaster) Stop() {
	fb.stopOnce.Do(func() {
		close(fb.stop)
		<-fb.done
		fb.closeAll()
	})
}

// Publish offers a frame for rendering. It never blocks.
func (fb *FrameBroadcaster) Publish(frame *types.TensorFrame, ev events.PoseEvent) {
	if fb.ClientCount() == 0 {
		fb.skipCount++
		if fb.skipCount%300 == 0 {
			logger.Debug("FrameBroadcaster", "No clients connected, skipped %d frames", fb.skipCount)
		}
		return
	}
	fb.skipCount = 0

	job := frameJob{frame: frame, event: ev}
	select {
	case fb.jobs <- job:
		return
	default:
	}
	// replace the stale job with the newest one
	select {
	case <-fb.jobs:
	default:
	}
	select {
	case fb.jobs <- job:
	default:
	}
}

func (fb *FrameBroadcaster) run() {
	defer close(fb.done)
	for {
		select {
		case <-fb.stop:
			return
		case job := <-fb.jobs:
			start := time.Now()
			var bg []byte
			if job.frame != nil && job.frame.HasImage() {
				bg = job.frame.JPEG
			}
			data, err := fb.renderer.RenderJPEG(bg, job.event, fb.quality)
			if err != nil {
				logger.Warn("FrameBroadcaster", "Render frame #%d failed: %v", job.event.FrameNumber, err)
				continue
			}
			logger.Debug("FrameBroadcaster", "Rendered frame #%d in %v", job.event.FrameNumber, time.Since(start))
			fb.broadcast(data)
		}
	}
}
