package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"net/http"
	"sync"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/events"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/overlay"
)

const (
	mjpegIdleTimeout = 5 * time.Second
	sseKeepalive     = 30 * time.Second
)

func writeSSE(w http.ResponseWriter, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func startSSE(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return flusher, true
}

var (
	blankOnce sync.Once
	blank     []byte
	blankErr  error
)

// blankJPEG returns color bars, shown while no overlay frame is available.
func blankJPEG() ([]byte, error) {
	blankOnce.Do(func() {
		img := image.NewRGBA(image.Rect(0, 0, 640, 480))
		bars := []color.RGBA{
			{R: 255, G: 255, B: 255, A: 255},
			{R: 255, G: 255, B: 0, A: 255},
			{R: 0, G: 255, B: 255, A: 255},
			{R: 0, G: 255, B: 0, A: 255},
			{R: 255, G: 0, B: 255, A: 255},
			{R: 255, G: 0, B: 0, A: 255},
			{R: 0, G: 0, B: 255, A: 255},
			{R: 0, G: 0, B: 0, A: 255},
		}
		barWidth := 640 / len(bars)
		for y := range 480 {
			for x := range 640 {
				img.SetRGBA(x, y, bars[min(x/barWidth, len(bars)-1)])
			}
		}
		blank, blankErr = overlay.EncodeJPEG(img, 75)
	})
	return blank, blankErr
}

var mjpegPartHeader = []byte("--frame\r\nContent-Type: image/jpeg\r\n\r\n")

// streamMJPEG writes frames from frameCh as multipart JPEG. A nil frameCh
// streams only the blank frame.
func streamMJPEG(ctx context.Context, w http.ResponseWriter, frameCh <-chan []byte) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")

	blank, err := blankJPEG()
	if err != nil {
		http.Error(w, "Failed to render frame", http.StatusInternalServerError)
		return
	}

	first := true
	for {
		jpegData := blank
		if first {
			first = false
		} else {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-frameCh:
				if !ok {
					return
				}
				if data != nil {
					jpegData = data
				}
			case <-time.After(mjpegIdleTimeout):
			}
		}

		var part bytes.Buffer
		part.Grow(len(mjpegPartHeader) + len(jpegData) + 2)
		part.Write(mjpegPartHeader)
		part.Write(jpegData)
		part.WriteString("\r\n")
		if _, err := w.Write(part.Bytes()); err != nil {
			logger.Debug("MJPEG", "Client disconnected during write: %v", err)
			return
		}
		flusher.Flush()
	}
}

// streamPoseEvents writes pre-serialized events as SSE. Protobuf payloads
// are sent base64 encoded since SSE data is text.
func streamPoseEvents(ctx context.Context, w http.ResponseWriter, eventCh <-chan *events.SerializedEvent, useProtobuf bool) {
	flusher, ok := startSSE(w)
	if !ok {
		return
	}
	if useProtobuf {
		w.Header().Set("X-Content-Format", "application/protobuf")
	} else {
		w.Header().Set("X-Content-Format", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			data := event.JSONData
			if useProtobuf {
				data = event.ProtobufBase64
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				logger.Debug("SSE", "Client disconnected during event write: %v", err)
				return
			}
			flusher.Flush()

		case <-time.After(sseKeepalive):
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				logger.Debug("SSE", "Client disconnected during keepalive: %v", err)
				return
			}
			flusher.Flush()
		}
	}
}
