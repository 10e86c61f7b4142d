package pose

import (
	"errors"
	"fmt"
)

// Model output geometry for a 640x640 YOLO pose model.
const (
	InputSize     = 640
	NumCandidates = 8400
	NumKeypoints  = 17
	NumChannels   = 5 + NumKeypoints*3 // 4 bbox + 1 confidence + 17*(x,y,visibility)
	TensorLen     = NumChannels * NumCandidates
)

// Channel indexes inside the tensor.
const (
	ChannelX          = 0
	ChannelY          = 1
	ChannelW          = 2
	ChannelH          = 3
	ChannelConfidence = 4
	channelKeypoints  = 5
)

// ErrShapeMismatch is returned when a buffer does not have TensorLen values.
// It means the decoder and the model disagree on the output layout.
var ErrShapeMismatch = errors.New("tensor shape mismatch")

// Tensor is the raw model output. The layout is channel-major: the value of
// channel c for candidate j lives at c*NumCandidates + j. Use At to read it.
type Tensor struct {
	data []float32
}

// NewTensor wraps data without copying it.
func NewTensor(data []float32) (*Tensor, error) {
	if len(data) != TensorLen {
		return nil, fmt.Errorf("%w: got %d values, want %d (%dx%d)",
			ErrShapeMismatch, len(data), TensorLen, NumChannels, NumCandidates)
	}
	return &Tensor{data: data}, nil
}

// At returns channel c of candidate j.
func (t *Tensor) At(c, j int) float32 {
	return t.data[c*NumCandidates+j]
}

// KeypointChannel returns the channel holding component (0=x, 1=y,
// 2=visibility) of keypoint k.
func KeypointChannel(k KeypointID, component int) int {
	return channelKeypoints + int(k)*3 + component
}
