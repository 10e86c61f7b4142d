package types

import "time"

// TensorFrame is one inference result read from the engine.
type TensorFrame struct {
	FrameNumber uint64    // Sequential frame number assigned by the engine
	Timestamp   time.Time // Capture timestamp of the source image
	Tensor      []float32 // Raw channel-major model output
	JPEG        []byte    // Optional JPEG of the model input, nil when absent
}

// HasImage reports whether the engine attached the input image.
func (f *TensorFrame) HasImage() bool {
	return len(f.JPEG) > 0
}
