package monitor

import (
	"bytes"
	"image/jpeg"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/events"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/overlay"
)

func TestEventBroadcaster(t *testing.T) {
	var gauge atomic.Int64
	b := NewEventBroadcaster(&gauge)

	id1, ch1 := b.Subscribe()
	_, ch2 := b.Subscribe()
	assert.Equal(t, 2, b.ClientCount())
	assert.Equal(t, int64(2), gauge.Load())

	ev := serializedFrame(t, 7)
	b.Publish(ev)
	assert.Same(t, ev, <-ch1)
	assert.Same(t, ev, <-ch2)

	b.Unsubscribe(id1)
	_, open := <-ch1
	assert.False(t, open, "unsubscribe closes the channel")
	assert.Equal(t, int64(1), gauge.Load())

	b.Unsubscribe(id1) // already gone

	b.Close()
	_, open = <-ch2
	assert.False(t, open)
	assert.Zero(t, b.ClientCount())
}

func TestEventBroadcasterDropsForSlowClient(t *testing.T) {
	b := NewEventBroadcaster(nil)
	_, ch := b.Subscribe()

	for i := range 5 {
		b.Publish(serializedFrame(t, uint64(i)))
	}

	assert.Len(t, ch, cap(ch))
	assert.Equal(t, uint64(5-cap(ch)), b.dropped.Load())
	assert.Equal(t, uint64(0), (<-ch).FrameNumber, "oldest events are kept")
}

func TestFrameBroadcasterRendersOnlyWithClients(t *testing.T) {
	fb := NewFrameBroadcaster(overlay.NewRenderer(), 80, nil)
	fb.Start()
	defer fb.Stop()

	ev := events.NewPoseEvent(1, time.Now(), nil)
	fb.Publish(testFrame(1), ev)
	assert.Equal(t, 1, fb.skipCount)
	assert.Empty(t, fb.jobs)

	_, ch := fb.Subscribe()
	fb.Publish(testFrame(2), ev)
	assert.Zero(t, fb.skipCount)

	select {
	case data := <-ch:
		img, err := jpeg.Decode(bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, 640, img.Bounds().Dx())
	case <-time.After(5 * time.Second):
		t.Fatal("no frame rendered")
	}
}

func TestFrameBroadcasterStopClosesClients(t *testing.T) {
	fb := NewFrameBroadcaster(overlay.NewRenderer(), 80, nil)
	fb.Start()
	_, ch := fb.Subscribe()

	fb.Stop()
	fb.Stop()

	_, open := <-ch
	assert.False(t, open)
}
