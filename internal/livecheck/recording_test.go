package livecheck

import (
	"net/http"
	"os"
	"testing"
)

func TestLiveRecordingLifecycle(t *testing.T) {
	if os.Getenv("POSE_RECORDING") == "" {
		t.Skip("set POSE_RECORDING=1 to enable the recording lifecycle check")
	}
	client := newLiveClient(t)

	resp, body := client.get(t, "/api/recording/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/recording/status status = %d", resp.StatusCode)
	}
	if decodeJSONMap(t, body)["recording"] == nil {
		t.Fatalf("recording status missing 'recording'")
	}

	resp, body = client.post(t, "/api/recording/start", "application/json", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/recording/start status = %d: %s", resp.StatusCode, body)
	}
	started := decodeJSONMap(t, body)
	if status := requireString(t, started["status"], "status"); status != "recording" {
		t.Fatalf("start status = %q", status)
	}
	requireString(t, started["file"], "file")
	requireNumber(t, started["started_at"], "started_at")

	resp, body = client.get(t, "/api/recording/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/recording/status status = %d", resp.StatusCode)
	}
	status := decodeJSONMap(t, body)
	if status["recording"] != true {
		t.Fatalf("recording status expected true, got %v", status["recording"])
	}
	requireString(t, status["session_id"], "session_id")
	requireNumber(t, status["event_count"], "event_count")
	requireNumber(t, status["bytes_written"], "bytes_written")

	resp, body = client.post(t, "/api/recording/stop", "application/json", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /api/recording/stop status = %d", resp.StatusCode)
	}
	stopped := decodeJSONMap(t, body)
	if s := requireString(t, stopped["status"], "status"); s != "stopped" {
		t.Fatalf("stop status = %q", s)
	}
	requireString(t, stopped["file"], "file")
	requireNumber(t, stopped["stopped_at"], "stopped_at")
	requireMap(t, stopped["stats"], "stats")
}
