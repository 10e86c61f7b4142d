// Package livecheck holds contract tests that run against a live pose
// server. They skip unless one answers at POSE_BASE_URL (default
// http://localhost:8080).
package livecheck

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

const (
	defaultBaseURL        = "http://localhost:8080"
	defaultRequestTimeout = 2 * time.Second
)

type liveClient struct {
	baseURL string
	client  *http.Client
}

func newLiveClient(t *testing.T) *liveClient {
	t.Helper()
	baseURL := os.Getenv("POSE_BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := &http.Client{Timeout: defaultRequestTimeout}

	if !isReachable(client, baseURL+"/api/status") {
		t.Skipf("pose server not reachable at %s (set POSE_BASE_URL to run)", baseURL)
	}
	return &liveClient{baseURL: baseURL, client: client}
}

func isReachable(client *http.Client, url string) bool {
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 500
}

func (c *liveClient) do(t *testing.T, method, path, contentType string, body []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	_ = resp.Body.Close()
	return resp, data
}

func (c *liveClient) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	return c.do(t, http.MethodGet, path, "", nil)
}

func (c *liveClient) post(t *testing.T, path, contentType string, body []byte) (*http.Response, []byte) {
	t.Helper()
	return c.do(t, http.MethodPost, path, contentType, body)
}

// openStream starts a streaming GET; cancel ends it.
func (c *liveClient) openStream(t *testing.T, path string, header http.Header) (*http.Response, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		cancel()
		t.Fatalf("build request: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("GET %s failed: %v", path, err)
	}
	return resp, func() {
		cancel()
		_ = resp.Body.Close()
	}
}

// readSSEEvent reads until the first event that carries data.
func readSSEEvent(body io.Reader, timeout time.Duration) (string, error) {
	type result struct {
		event string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		buf := make([]byte, 0, 4096)
		tmp := make([]byte, 256)
		for {
			n, err := body.Read(tmp)
			buf = append(buf, tmp[:n]...)
			for {
				idx := bytes.Index(buf, []byte("\n\n"))
				if idx < 0 {
					break
				}
				event := string(buf[:idx])
				buf = buf[idx+2:]
				if strings.Contains(event, "data:") {
					done <- result{event: event}
					return
				}
			}
			if err != nil {
				done <- result{err: fmt.Errorf("read sse: %w", err)}
				return
			}
		}
	}()

	select {
	case r := <-done:
		return r.event, r.err
	case <-time.After(timeout):
		return "", fmt.Errorf("timeout waiting for sse event")
	}
}

func sseData(t *testing.T, event string) string {
	t.Helper()
	for _, line := range strings.Split(event, "\n") {
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			data = strings.TrimSpace(data)
			if data == "" {
				t.Fatalf("empty sse data line")
			}
			return data
		}
	}
	t.Fatalf("no data line in sse event: %q", event)
	return ""
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

// requireAngle accepts null, which stands for an undefined angle.
func requireAngle(t *testing.T, value any, field string) {
	t.Helper()
	if value == nil {
		return
	}
	requireNumber(t, value, field)
}

func requireMap(t *testing.T, value any, field string) map[string]any {
	t.Helper()
	m, ok := value.(map[string]any)
	if !ok {
		t.Fatalf("expected %s to be object, got %T", field, value)
	}
	return m
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

func assertPoseEvent(t *testing.T, payload map[string]any, field string) {
	t.Helper()
	requireNumber(t, payload["frame_number"], field+".frame_number")
	requireNumber(t, payload["timestamp"], field+".timestamp")
	n := requireNumber(t, payload["num_detections"], field+".num_detections")
	detections := requireSlice(t, payload["detections"], field+".detections")
	if int(n) != len(detections) {
		t.Fatalf("%s.num_detections = %v, but %d detections", field, n, len(detections))
	}
	for i, raw := range detections {
		name := fmt.Sprintf("%s.detections[%d]", field, i)
		det := requireMap(t, raw, name)
		requireNumber(t, det["confidence"], name+".confidence")
		bbox := requireMap(t, det["bbox"], name+".bbox")
		for _, k := range []string{"x", "y", "w", "h"} {
			requireNumber(t, bbox[k], name+".bbox."+k)
		}
		keypoints := requireMap(t, det["keypoints"], name+".keypoints")
		if len(keypoints) != 17 {
			t.Fatalf("%s.keypoints has %d entries, want 17", name, len(keypoints))
		}
		requireMap(t, keypoints["Left Shoulder"], name+".keypoints.Left Shoulder")
		angles := requireMap(t, det["angles"], name+".angles")
		for _, k := range []string{"left_in", "right_in", "left_out", "right_out", "left_degrees", "right_degrees"} {
			requireAngle(t, angles[k], name+".angles."+k)
		}
	}
}

func assertStatusPayload(t *testing.T, payload map[string]any) {
	t.Helper()
	monitor := requireMap(t, payload["monitor"], "monitor")
	for _, k := range []string{"frames_processed", "empty_frames", "current_fps", "detection_count", "version"} {
		requireNumber(t, monitor[k], "monitor."+k)
	}
	requireNumber(t, payload["timestamp"], "timestamp")

	if payload["latest_pose"] != nil {
		assertPoseEvent(t, requireMap(t, payload["latest_pose"], "latest_pose"), "latest_pose")
	}
	for i, raw := range requireSlice(t, payload["pose_history"], "pose_history") {
		field := fmt.Sprintf("pose_history[%d]", i)
		assertPoseEvent(t, requireMap(t, raw, field), field)
	}
}
