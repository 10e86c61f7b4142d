package tensorshm

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/pkg/types"
)

// Writer produces a ring in the layout Reader expects. The inference engine
// has its own writer; this one feeds tests and local replays.
type Writer struct {
	path   string
	data   []byte
	layout layout
}

// Create makes (or truncates) the ring file and writes its header.
func Create(name string, slots, tensorLen, jpegCap int) (*Writer, error) {
	if slots <= 0 || tensorLen <= 0 || jpegCap < 0 {
		return nil, fmt.Errorf("invalid ring geometry: %d slots, tensor %d, jpeg %d", slots, tensorLen, jpegCap)
	}
	l := layout{slotCount: uint32(slots), tensorLen: uint32(tensorLen), jpegCap: uint32(jpegCap)}
	path := Path(name)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := f.Truncate(int64(l.size())); err != nil {
		return nil, fmt.Errorf("truncate %s: %w", path, err)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, l.size(), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	putHeader(data, l)

	return &Writer{path: path, data: data, layout: l}, nil
}

// Write stores frame in the next slot and then publishes it.
func (w *Writer) Write(frame *types.TensorFrame) error {
	if len(frame.Tensor) != int(w.layout.tensorLen) {
		return fmt.Errorf("%w: tensor has %d values, ring holds %d", ErrLayoutMismatch, len(frame.Tensor), w.layout.tensorLen)
	}
	if len(frame.JPEG) > int(w.layout.jpegCap) {
		return fmt.Errorf("jpeg of %d bytes exceeds capacity %d", len(frame.JPEG), w.layout.jpegCap)
	}

	index := w.writeIndex()
	slot := w.data[w.layout.slotOffset(index):]
	le := binary.LittleEndian

	le.PutUint64(slot[0:], frame.FrameNumber)
	le.PutUint64(slot[8:], uint64(frame.Timestamp.Unix()))
	le.PutUint64(slot[16:], uint64(frame.Timestamp.Nanosecond()))
	le.PutUint32(slot[24:], uint32(len(frame.JPEG)))
	le.PutUint32(slot[28:], 0)

	tensor := slot[slotHeaderSize:]
	for i, v := range frame.Tensor {
		le.PutUint32(tensor[i*4:], math.Float32bits(v))
	}
	copy(tensor[int(w.layout.tensorLen)*4:], frame.JPEG)

	atomic.StoreUint32(w.indexWord(), index+1)
	return nil
}

func (w *Writer) indexWord() *uint32 {
	return (*uint32)(unsafe.Pointer(&w.data[offWriteIndex]))
}

func (w *Writer) writeIndex() uint32 {
	return atomic.LoadUint32(w.indexWord())
}

// Path returns the file backing the ring.
func (w *Writer) Path() string {
	return w.path
}

// Close unmaps the ring. The file is left in place for readers.
func (w *Writer) Close() error {
	if w.data == nil {
		return nil
	}
	err := unix.Munmap(w.data)
	w.data = nil
	return err
}
