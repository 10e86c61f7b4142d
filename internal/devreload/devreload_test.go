package devreload

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startReloader(t *testing.T, dir string) *Reloader {
	t.Helper()
	r, err := New(dir, 50*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go r.Run(ctx)
	t.Cleanup(func() {
		cancel()
		r.Close()
	})
	return r
}

func TestReloadDebouncesBursts(t *testing.T) {
	dir := t.TempDir()
	r := startReloader(t, dir)
	id, ch := r.Subscribe()
	defer r.Unsubscribe(id)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "index.js"), []byte(strings.Repeat("x", i)), 0o644))
	}

	select {
	case msg := <-ch:
		assert.Equal(t, Message, msg)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload notice")
	}

	select {
	case msg := <-ch:
		t.Fatalf("unexpected second notice %q", msg)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestReloadWatchesNewDirectories(t *testing.T) {
	dir := t.TempDir()
	r := startReloader(t, dir)
	id, ch := r.Subscribe()
	defer r.Unsubscribe(id)

	sub := filepath.Join(dir, "css")
	require.NoError(t, os.Mkdir(sub, 0o755))
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("no notice for mkdir")
	}

	require.NoError(t, os.WriteFile(filepath.Join(sub, "app.css"), []byte("body{}"), 0o644))
	select {
	case <-ch:
	case <-time.After(3 * time.Second):
		t.Fatal("no notice for a file in the new directory")
	}
}

func TestServeHTTP(t *testing.T) {
	dir := t.TempDir()
	r := startReloader(t, dir)
	srv := httptest.NewServer(r)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := bufio.NewReader(resp.Body)
	first, err := lines.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, ": connected\n", first)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>"), 0o644))

	for {
		line, err := lines.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			assert.Equal(t, "data: reload\n", line)
			return
		}
	}
}

func TestNewMissingDir(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing"), time.Millisecond)
	assert.Error(t, err)
}
