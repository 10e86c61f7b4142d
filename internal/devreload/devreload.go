// Package devreload tells open browser tabs to reload when the web assets
// change on disk.
package devreload

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/logger"
)

// Message is sent to subscribers after a burst of changes settles.
const Message = "reload"

var log = logger.For("DevReload")

// Reloader watches a directory tree and fans reload notices out to subscribers.
type Reloader struct {
	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	clients map[int]chan string
	nextID  int
}

// New watches dir and every directory below it.
func New(dir string, debounce time.Duration) (*Reloader, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	r := &Reloader{
		watcher:  w,
		debounce: debounce,
		clients:  make(map[int]chan string),
	}
	if err := r.addTree(dir); err != nil {
		w.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reloader) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := r.watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

// Run handles file events until ctx is done.
func (r *Reloader) Run(ctx context.Context) {
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := r.addTree(ev.Name); err != nil {
						log.Warn("%v", err)
					}
				}
			}
			log.Debug("%s", ev)
			pending = time.After(r.debounce)
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("Watcher error: %v", err)
		case <-pending:
			pending = nil
			n := r.broadcast(Message)
			log.Info("Assets changed, reloading %d client(s)", n)
		}
	}
}

// Subscribe adds a client and returns a channel for receiving notices.
func (r *Reloader) Subscribe() (int, <-chan string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	ch := make(chan string, 1)
	r.clients[id] = ch
	return id, ch
}

// Unsubscribe removes a client.
func (r *Reloader) Unsubscribe(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ch, ok := r.clients[id]; ok {
		close(ch)
		delete(r.clients, id)
	}
}

func (r *Reloader) broadcast(msg string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, ch := range r.clients {
		select {
		case ch <- msg:
		default:
		}
	}
	return len(r.clients)
}

// Close stops watching.
func (r *Reloader) Close() error {
	return r.watcher.Close()
}

// ServeHTTP streams reload notices as server-sent events.
func (r *Reloader) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	id, ch := r.Subscribe()
	defer r.Unsubscribe(id)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-req.Context().Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}
