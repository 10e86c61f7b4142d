package monitor

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/events"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/recorder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/webrtc"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/pkg/pose"
)

// RecordingControl starts and stops pose recordings.
type RecordingControl interface {
	Start(name string) (string, error)
	Stop() (recorder.RecordingStatus, error)
	GetStatus() recorder.RecordingStatus
}

// OfferHandler answers WebRTC offers.
type OfferHandler interface {
	HandleOffer(offerJSON []byte) ([]byte, error)
}

type clientCounter interface {
	GetClientCount() int
}

// Deps are the collaborators the HTTP server exposes. Optional fields may
// be left nil; their endpoints then answer 503 (or 404 for Reload).
type Deps struct {
	Monitor  *Monitor
	Events   *EventBroadcaster
	Frames   *FrameBroadcaster
	Pipeline *pose.Pipeline
	Recorder RecordingControl
	WebRTC   OfferHandler
	Reload   http.Handler
}

// Server serves the pose monitor endpoints.
type Server struct {
	deps           Deps
	assetsDir      string
	statusInterval time.Duration
	index          string
}

// NewServer returns a monitor server. statusInterval paces /api/status/stream.
func NewServer(deps Deps, assetsDir string, statusInterval time.Duration) *Server {
	if statusInterval <= 0 {
		statusInterval = 2 * time.Second
	}
	if deps.Pipeline == nil {
		deps.Pipeline = pose.NewPipeline()
	}
	return &Server{
		deps:           deps,
		assetsDir:      assetsDir,
		statusInterval: statusInterval,
		index:          renderIndex(deps.Reload != nil),
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.Handle("/assets/", http.StripPrefix("/assets/", assetHandler{dir: s.assetsDir}))
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/status/stream", s.handleStatusStream)
	mux.HandleFunc("/api/poses/stream", s.handlePosesStream)
	mux.HandleFunc("/api/decode", s.handleDecode)
	mux.HandleFunc("/api/recording/start", s.handleRecordingStart)
	mux.HandleFunc("/api/recording/stop", s.handleRecordingStop)
	mux.HandleFunc("/api/recording/status", s.handleRecordingStatus)
	mux.HandleFunc("/api/webrtc/offer", s.handleWebRTCOffer)
	if s.deps.Reload != nil {
		mux.Handle("/api/dev/reload", s.deps.Reload)
	}

	return mux
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(s.index))
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	var frameCh <-chan []byte
	if s.deps.Frames != nil {
		id, ch := s.deps.Frames.Subscribe()
		defer s.deps.Frames.Unsubscribe(id)
		frameCh = ch
	}
	streamMJPEG(r.Context(), w, frameCh)
}

func (s *Server) statusPayload() map[string]any {
	stats, latest, history := s.deps.Monitor.Snapshot()
	payload := map[string]any{
		"monitor":      stats,
		"latest_pose":  latest,
		"pose_history": history,
		"timestamp":    float64(time.Now().Unix()),
	}
	if s.deps.Events != nil {
		payload["event_subscribers"] = s.deps.Events.ClientCount()
	}
	if s.deps.Frames != nil {
		payload["frame_subscribers"] = s.deps.Frames.ClientCount()
	}
	if c, ok := s.deps.WebRTC.(clientCounter); ok {
		payload["webrtc_clients"] = c.GetClientCount()
	}
	return payload
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.statusPayload())
}

func (s *Server) handleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := startSSE(w)
	if !ok {
		return
	}

	ticker := time.NewTicker(s.statusInterval)
	defer ticker.Stop()

	for {
		if err := writeSSE(w, s.statusPayload()); err != nil {
			return
		}
		flusher.Flush()
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handlePosesStream(w http.ResponseWriter, r *http.Request) {
	if s.deps.Events == nil {
		writeJSONWithStatus(w, map[string]any{"error": "pose events unavailable"}, http.StatusServiceUnavailable)
		return
	}
	id, eventCh := s.deps.Events.Subscribe()
	defer s.deps.Events.Unsubscribe(id)

	accept := r.Header.Get("Accept")
	useProtobuf := strings.Contains(accept, "application/protobuf") ||
		strings.Contains(accept, "application/x-protobuf")

	streamPoseEvents(r.Context(), w, eventCh, useProtobuf)
}

// handleDecode runs the pipeline on a posted tensor: the raw little-endian
// float32 buffer exactly as the model writes it.
func (s *Server) handleDecode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	const want = pose.TensorLen * 4
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, want+1))
	if err != nil && !errors.As(err, new(*http.MaxBytesError)) {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid tensor data"}, http.StatusBadRequest)
		return
	}
	if len(body) != want {
		writeJSONWithStatus(w, map[string]any{
			"error": fmt.Sprintf("tensor must be %d bytes (%dx%d float32), got %d", want, pose.NumChannels, pose.NumCandidates, len(body)),
		}, http.StatusBadRequest)
		return
	}

	var frameNumber uint64
	if v := r.URL.Query().Get("frame"); v != "" {
		frameNumber, err = strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeJSONWithStatus(w, map[string]any{"error": "Invalid frame number"}, http.StatusBadRequest)
			return
		}
	}

	res, err := s.deps.Pipeline.Run(float32sLE(body))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}
	writeJSON(w, events.NewPoseEvent(frameNumber, time.Now(), res.Detections))
}

func float32sLE(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

func (s *Server) handleRecordingStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Recorder == nil {
		writeJSONWithStatus(w, map[string]any{"error": "recorder is not configured"}, http.StatusServiceUnavailable)
		return
	}

	filename, err := s.deps.Recorder.Start(r.URL.Query().Get("name"))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]any{
		"status":     "recording",
		"file":       filename,
		"started_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.Recorder == nil {
		writeJSONWithStatus(w, map[string]any{"error": "recorder is not configured"}, http.StatusServiceUnavailable)
		return
	}

	status, err := s.deps.Recorder.Stop()
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusBadRequest)
		return
	}

	writeJSON(w, map[string]any{
		"status":     "stopped",
		"file":       status.Filename,
		"stats":      status,
		"stopped_at": float64(time.Now().Unix()),
	})
}

func (s *Server) handleRecordingStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recorder == nil {
		writeJSON(w, recorder.RecordingStatus{})
		return
	}
	writeJSON(w, s.deps.Recorder.GetStatus())
}

func (s *Server) handleWebRTCOffer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.deps.WebRTC == nil {
		writeJSONWithStatus(w, map[string]any{"error": "WebRTC is not enabled"}, http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil || payload["sdp"] == nil || payload["type"] == nil {
		writeJSONWithStatus(w, map[string]any{"error": "Invalid offer data"}, http.StatusBadRequest)
		return
	}

	answer, err := s.deps.WebRTC.HandleOffer(body)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, webrtc.ErrTooManyClients) {
			status = http.StatusServiceUnavailable
		}
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(answer)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		_, _ = fmt.Fprintf(w, `{"error":"%s"}`, err.Error())
	}
}
