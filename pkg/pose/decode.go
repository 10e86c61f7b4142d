package pose

// DefaultConfidenceThreshold drops candidates the model is unsure about.
const DefaultConfidenceThreshold = 0.5

// Decoder turns a Tensor into detections.
type Decoder struct {
	// ConfidenceThreshold is exclusive: a candidate is kept when its
	// confidence is strictly greater.
	ConfidenceThreshold float64
}

// NewDecoder returns a Decoder using DefaultConfidenceThreshold.
func NewDecoder() Decoder {
	return Decoder{ConfidenceThreshold: DefaultConfidenceThreshold}
}

// Decode scans the candidates in ascending index order and returns those above
// the threshold, in that same order. The order matters to FirstSeenSuppression.
// An empty result is valid and means nobody is in the frame.
func (d Decoder) Decode(t *Tensor) []Detection {
	out := make([]Detection, 0)
	for j := 0; j < NumCandidates; j++ {
		conf := float64(t.At(ChannelConfidence, j))
		if !(conf > d.ConfidenceThreshold) {
			continue
		}
		out = append(out, decodeCandidate(t, j, conf))
	}
	return out
}

// DecodeRaw checks the buffer length and decodes it.
func (d Decoder) DecodeRaw(raw []float32) ([]Detection, error) {
	t, err := NewTensor(raw)
	if err != nil {
		return nil, err
	}
	return d.Decode(t), nil
}

func decodeCandidate(t *Tensor, j int, conf float64) Detection {
	det := Detection{
		BBox: BBox{
			X: float64(t.At(ChannelX, j)),
			Y: float64(t.At(ChannelY, j)),
			W: float64(t.At(ChannelW, j)),
			H: float64(t.At(ChannelH, j)),
		},
		Confidence: conf,
	}
	for k := KeypointID(0); k < NumKeypoints; k++ {
		det.Keypoints[k] = Keypoint{
			X:          float64(t.At(KeypointChannel(k, 0), j)),
			Y:          float64(t.At(KeypointChannel(k, 1), j)),
			Visibility: float64(t.At(KeypointChannel(k, 2), j)),
		}
	}
	return det
}
