// Package recorder appends pose events to length-delimited protobuf files.
package recorder

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/events"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/logger"
)

// FileExt is the extension of recording files.
const FileExt = ".pb"

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrNotRecording     = errors.New("not recording")
)

var log = logger.For("Recorder")

// Recorder writes serialized PoseEvents to a file, one varint length prefix
// followed by the message per event.
type Recorder struct {
	mu           sync.RWMutex
	basePath     string
	file         *os.File
	buf          *bufio.Writer
	filename     string
	sessionID    string
	recording    bool
	eventCount   uint64
	bytesWritten uint64
	startTime    time.Time
	writeErrors  uint64

	eventChan chan []byte
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

// NewRecorder creates a recorder writing into basePath.
func NewRecorder(basePath string) *Recorder {
	return &Recorder{
		basePath: basePath,
	}
}

// Start opens a new recording. An empty name gives poses_<timestamp>.pb.
// It returns the path of the file.
func (r *Recorder) Start(name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.recording {
		return "", ErrAlreadyRecording
	}

	filename := recordingName(name, time.Now())
	path := filepath.Join(r.basePath, filename)

	if err := os.MkdirAll(r.basePath, 0o755); err != nil {
		return "", fmt.Errorf("failed to create recordings directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	r.file = file
	r.buf = bufio.NewWriter(file)
	r.filename = filename
	r.sessionID = uuid.NewString()
	r.recording = true
	r.eventCount = 0
	r.bytesWritten = 0
	r.writeErrors = 0
	r.startTime = time.Now()
	r.eventChan = make(chan []byte, 120)
	r.stopChan = make(chan struct{})

	r.wg.Add(1)
	go r.writeEvents(r.eventChan, r.stopChan)

	log.Info("Recording started: %s (session %s)", path, r.sessionID)
	return path, nil
}

func recordingName(name string, now time.Time) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = fmt.Sprintf("poses_%s", now.Format("20060102_150405"))
	}
	if filepath.Ext(name) != FileExt {
		name += FileExt
	}
	return name
}

// Stop flushes pending events and closes the file.
func (r *Recorder) Stop() (RecordingStatus, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return RecordingStatus{}, ErrNotRecording
	}
	r.recording = false
	close(r.stopChan)
	r.mu.Unlock()

	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	status := r.statusLocked()
	if r.file == nil {
		return status, nil
	}
	var err error
	if ferr := r.buf.Flush(); ferr != nil {
		err = fmt.Errorf("failed to flush file: %w", ferr)
	} else if serr := r.file.Sync(); serr != nil {
		err = fmt.Errorf("failed to sync file: %w", serr)
	}
	if cerr := r.file.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close file: %w", cerr)
	}
	r.file = nil
	r.buf = nil

	log.Info("Recording stopped: %s (%d events, %d bytes)", r.filename, r.eventCount, r.bytesWritten)
	return status, err
}

// SendEvent queues an event without blocking. It returns false when not
// recording or when the queue is full.
func (r *Recorder) SendEvent(ev *events.SerializedEvent) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.recording {
		return false
	}

	select {
	case r.eventChan <- ev.ProtobufData:
		return true
	default:
		return false
	}
}

func (r *Recorder) writeEvents(in <-chan []byte, stop <-chan struct{}) {
	defer r.wg.Done()

	for {
		select {
		case msg := <-in:
			r.writeEvent(msg)
		case <-stop:
			// SendEvent holds the read lock while sending, so nothing new
			// arrives once recording is false.
			for {
				select {
				case msg := <-in:
					r.writeEvent(msg)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) writeEvent(msg []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.buf == nil {
		return
	}

	record := make([]byte, 0, protowire.SizeVarint(uint64(len(msg)))+len(msg))
	record = protowire.AppendVarint(record, uint64(len(msg)))
	record = append(record, msg...)

	n, err := r.buf.Write(record)
	if err != nil {
		r.writeErrors++
		if r.writeErrors == 1 {
			log.Error("Write failed: %v", err)
		}
		return
	}
	r.bytesWritten += uint64(n)
	r.eventCount++
}

// IsRecording returns true if currently recording
func (r *Recorder) IsRecording() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recording
}

// GetStatus returns the current recording status
func (r *Recorder) GetStatus() RecordingStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.statusLocked()
}

func (r *Recorder) statusLocked() RecordingStatus {
	var duration time.Duration
	if r.recording {
		duration = time.Since(r.startTime)
	}
	return RecordingStatus{
		Recording:    r.recording,
		SessionID:    r.sessionID,
		Filename:     r.filename,
		EventCount:   r.eventCount,
		BytesWritten: r.bytesWritten,
		WriteErrors:  r.writeErrors,
		DurationMs:   duration.Milliseconds(),
		StartTime:    r.startTime,
	}
}

// Close stops an active recording.
func (r *Recorder) Close() error {
	if !r.IsRecording() {
		return nil
	}
	_, err := r.Stop()
	return err
}

// RecordingStatus holds the current recording status
type RecordingStatus struct {
	Recording    bool      `json:"recording"`
	SessionID    string    `json:"session_id,omitempty"`
	Filename     string    `json:"filename"`
	EventCount   uint64    `json:"event_count"`
	BytesWritten uint64    `json:"bytes_written"`
	WriteErrors  uint64    `json:"write_errors"`
	DurationMs   int64     `json:"duration_ms"`
	StartTime    time.Time `json:"start_time"`
}
