package tensorshm

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/pkg/pose"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/pkg/types"
)

func testFrame(n uint64) *types.TensorFrame {
	tensor := make([]float32, pose.TensorLen)
	tensor[0] = float32(n)
	tensor[len(tensor)-1] = -float32(n)
	return &types.TensorFrame{
		FrameNumber: n,
		Timestamp:   time.Unix(1700000000+int64(n), 250),
		Tensor:      tensor,
	}
}

func TestPath(t *testing.T) {
	assert.Equal(t, "/dev/shm/pose_tensor", Path("/pose_tensor"))
	assert.Equal(t, "/tmp/x/ring", Path("/tmp/x/ring"))
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring")
	w, err := Create(path, 3, pose.TensorLen, 64)
	require.NoError(t, err)
	defer w.Close()

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	frame, err := r.ReadLatest()
	require.NoError(t, err)
	assert.Nil(t, frame, "empty ring")

	in := testFrame(7)
	in.JPEG = []byte{0xff, 0xd8, 0xff, 0xd9}
	require.NoError(t, w.Write(in))

	out, err := r.ReadLatest()
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in.FrameNumber, out.FrameNumber)
	assert.True(t, in.Timestamp.Equal(out.Timestamp))
	assert.Equal(t, in.Tensor, out.Tensor)
	assert.Equal(t, in.JPEG, out.JPEG)
	assert.True(t, out.HasImage())

	again, err := r.ReadLatest()
	require.NoError(t, err)
	assert.Nil(t, again, "nothing new since the last read")
}

func TestReadLatestSkipsToNewest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring")
	w, err := Create(path, 4, pose.TensorLen, 0)
	require.NoError(t, err)
	defer w.Close()

	for n := uint64(1); n <= 6; n++ {
		require.NoError(t, w.Write(testFrame(n)))
	}

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	out, err := r.ReadLatest()
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, uint64(6), out.FrameNumber)
	assert.Equal(t, float32(-6), out.Tensor[pose.TensorLen-1])
	assert.Nil(t, out.JPEG)
}

func TestCheckOverrun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring")
	w, err := Create(path, 2, pose.TensorLen, 0)
	require.NoError(t, err)
	defer w.Close()

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, w.Write(testFrame(1)))
	require.NoError(t, w.Write(testFrame(2)))
	seen := r.writeIndex()
	require.Equal(t, uint32(2), seen)

	_, err = r.readSlot(seen - 1)
	require.NoError(t, err)
	assert.NoError(t, r.checkOverrun(seen-1), "producer has not reached the slot yet")

	// index 3 lands in the slot just copied; the producer may be mid-write
	require.NoError(t, w.Write(testFrame(3)))
	err = r.checkOverrun(seen - 1)
	assert.True(t, errors.Is(err, ErrOverrun), "%v", err)

	require.NoError(t, w.Write(testFrame(4)))
	err = r.checkOverrun(seen - 1)
	assert.True(t, errors.Is(err, ErrOverrun), "%v", err)

	out, err := r.ReadLatest()
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, uint64(4), out.FrameNumber)
}

func TestOpenRejectsForeignLayout(t *testing.T) {
	dir := t.TempDir()

	w, err := Create(filepath.Join(dir, "small"), 2, 100, 0)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	_, err = Open(filepath.Join(dir, "small"))
	assert.True(t, errors.Is(err, ErrLayoutMismatch), "%v", err)

	junk := make([]byte, 64)
	binary.LittleEndian.PutUint32(junk, 0xdeadbeef)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "junk"), junk, 0o644))
	_, err = Open(filepath.Join(dir, "junk"))
	assert.True(t, errors.Is(err, ErrLayoutMismatch), "%v", err)

	_, err = Open(filepath.Join(dir, "missing"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrLayoutMismatch))
}

func TestWriterRejectsWrongTensor(t *testing.T) {
	w, err := Create(filepath.Join(t.TempDir(), "ring"), 1, pose.TensorLen, 2)
	require.NoError(t, err)
	defer w.Close()

	err = w.Write(&types.TensorFrame{Tensor: make([]float32, 10)})
	assert.True(t, errors.Is(err, ErrLayoutMismatch))

	f := testFrame(1)
	f.JPEG = []byte{1, 2, 3}
	assert.ErrorContains(t, w.Write(f), "exceeds capacity")
}
