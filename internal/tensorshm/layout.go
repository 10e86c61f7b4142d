// Package tensorshm exchanges model output tensors through a shared-memory
// ring buffer.
//
// The file starts with a 24 byte little-endian header
//
//	magic "PTNS" | version | slot_count | tensor_len | jpeg_cap | write_index
//
// followed by slot_count slots of
//
//	frame_number u64 | ts_sec i64 | ts_nsec i64 | jpeg_size u32 | pad u32 |
//	tensor [tensor_len]f32 | jpeg [jpeg_cap]u8
//
// write_index counts completed writes; the newest slot is
// (write_index-1) % slot_count.
package tensorshm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
)

const (
	Magic   = 0x534e5450 // "PTNS" read as little-endian u32
	Version = 1

	HeaderSize     = 24
	slotHeaderSize = 32

	offMagic      = 0
	offVersion    = 4
	offSlotCount  = 8
	offTensorLen  = 12
	offJPEGCap    = 16
	offWriteIndex = 20
)

var (
	// ErrLayoutMismatch means the ring was written by a producer with a
	// different header or tensor shape.
	ErrLayoutMismatch = errors.New("tensor ring layout mismatch")
	// ErrOverrun means the producer lapped the reader while a slot was copied.
	ErrOverrun = errors.New("tensor ring slot overwritten during read")
)

type layout struct {
	slotCount uint32
	tensorLen uint32
	jpegCap   uint32
}

func (l layout) slotSize() int {
	return slotHeaderSize + int(l.tensorLen)*4 + int(l.jpegCap)
}

func (l layout) size() int {
	return HeaderSize + int(l.slotCount)*l.slotSize()
}

func (l layout) slotOffset(index uint32) int {
	return HeaderSize + int(index%l.slotCount)*l.slotSize()
}

func parseHeader(b []byte, wantTensorLen int) (layout, error) {
	if len(b) < HeaderSize {
		return layout{}, fmt.Errorf("%w: %d bytes is shorter than the header", ErrLayoutMismatch, len(b))
	}
	le := binary.LittleEndian
	if m := le.Uint32(b[offMagic:]); m != Magic {
		return layout{}, fmt.Errorf("%w: bad magic %#x", ErrLayoutMismatch, m)
	}
	if v := le.Uint32(b[offVersion:]); v != Version {
		return layout{}, fmt.Errorf("%w: version %d, want %d", ErrLayoutMismatch, v, Version)
	}
	l := layout{
		slotCount: le.Uint32(b[offSlotCount:]),
		tensorLen: le.Uint32(b[offTensorLen:]),
		jpegCap:   le.Uint32(b[offJPEGCap:]),
	}
	if l.slotCount == 0 {
		return layout{}, fmt.Errorf("%w: zero slots", ErrLayoutMismatch)
	}
	if int(l.tensorLen) != wantTensorLen {
		return layout{}, fmt.Errorf("%w: tensor_len %d, want %d", ErrLayoutMismatch, l.tensorLen, wantTensorLen)
	}
	if l.size() > len(b) {
		return layout{}, fmt.Errorf("%w: need %d bytes, mapping has %d", ErrLayoutMismatch, l.size(), len(b))
	}
	return l, nil
}

func putHeader(b []byte, l layout) {
	le := binary.LittleEndian
	le.PutUint32(b[offMagic:], Magic)
	le.PutUint32(b[offVersion:], Version)
	le.PutUint32(b[offSlotCount:], l.slotCount)
	le.PutUint32(b[offTensorLen:], l.tensorLen)
	le.PutUint32(b[offJPEGCap:], l.jpegCap)
	le.PutUint32(b[offWriteIndex:], 0)
}

// Path maps a POSIX shm name like "/pose_tensor" to its file under /dev/shm.
// Any other path is used as is.
func Path(name string) string {
	if filepath.Dir(name) == "/" {
		return filepath.Join("/dev/shm", name)
	}
	return name
}
