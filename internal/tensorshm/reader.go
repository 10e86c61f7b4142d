package tensorshm

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/pkg/pose"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/pkg/types"
)

var log = logger.For("TensorShm")

// Reader reads the newest tensor from a ring written by the inference engine.
type Reader struct {
	path      string
	data      []byte
	layout    layout
	lastIndex uint32
}

// Open maps the ring read-only and checks its header.
func Open(name string) (*Reader, error) {
	path := Path(name)
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer unix.Close(fd)

	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if st.Size < HeaderSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrLayoutMismatch, path, st.Size)
	}

	data, err := unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	l, err := parseHeader(data, pose.TensorLen)
	if err != nil {
		unix.Munmap(data)
		return nil, err
	}

	return &Reader{path: path, data: data, layout: l}, nil
}

// WaitOpen retries Open once a second until it succeeds, ctx is done or
// timeout passes. Layout mismatches are returned immediately.
func WaitOpen(ctx context.Context, name string, timeout time.Duration) (*Reader, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		r, err := Open(name)
		if err == nil {
			log.Info("Opened tensor ring %s (%d slots)", r.path, r.layout.slotCount)
			return r, nil
		}
		if errors.Is(err, ErrLayoutMismatch) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("tensor ring %s did not appear within %s: %w", name, timeout, err)
		}
		if attempt%5 == 1 {
			log.Info("Waiting for tensor ring %s to appear... (%v)", name, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close unmaps the ring.
func (r *Reader) Close() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	return err
}

func (r *Reader) writeIndex() uint32 {
	// mmap is page aligned so the header word is 4 byte aligned
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&r.data[offWriteIndex])))
}

// ReadLatest copies the newest slot. It returns nil, nil when nothing was
// written since the previous call.
func (r *Reader) ReadLatest() (*types.TensorFrame, error) {
	if r.data == nil {
		return nil, fmt.Errorf("tensor ring not open")
	}

	w := r.writeIndex()
	if w == 0 || w == r.lastIndex {
		return nil, nil
	}

	frame, err := r.readSlot(w - 1)
	if err != nil {
		return nil, err
	}

	if err := r.checkOverrun(w - 1); err != nil {
		return nil, err
	}

	r.lastIndex = w
	return frame, nil
}

// checkOverrun reports whether the slot holding index may have been rewritten.
// The producer writes index+slotCount into the same slot while the published
// write index still reads index+slotCount, so that value already counts.
func (r *Reader) checkOverrun(index uint32) error {
	if now := r.writeIndex(); now-index >= r.layout.slotCount {
		return fmt.Errorf("%w: index %d, producer at %d", ErrOverrun, index, now)
	}
	return nil
}

func (r *Reader) readSlot(index uint32) (*types.TensorFrame, error) {
	le := binary.LittleEndian
	slot := r.data[r.layout.slotOffset(index):]

	jpegSize := le.Uint32(slot[24:])
	if jpegSize > r.layout.jpegCap {
		return nil, fmt.Errorf("%w: jpeg_size %d exceeds capacity %d", ErrLayoutMismatch, jpegSize, r.layout.jpegCap)
	}

	frame := &types.TensorFrame{
		FrameNumber: le.Uint64(slot[0:]),
		Timestamp:   time.Unix(int64(le.Uint64(slot[8:])), int64(le.Uint64(slot[16:]))),
		Tensor:      make([]float32, r.layout.tensorLen),
	}

	tensor := slot[slotHeaderSize:]
	for i := range frame.Tensor {
		frame.Tensor[i] = math.Float32frombits(le.Uint32(tensor[i*4:]))
	}

	if jpegSize > 0 {
		jpeg := tensor[int(r.layout.tensorLen)*4:]
		frame.JPEG = make([]byte, jpegSize)
		copy(frame.JPEG, jpeg[:jpegSize])
	}
	return frame, nil
}
