package pose

import (
	"fmt"
	"sort"
)

// DefaultIOUThreshold marks two detections as the same person when their
// overlap is above it.
const DefaultIOUThreshold = 0.8

// Suppression strategy names, as used in configuration.
const (
	SuppressionFirstSeen  = "first_seen"
	SuppressionConfidence = "confidence"
)

// Suppressor removes duplicate detections of the same person.
type Suppressor interface {
	Name() string
	Suppress(dets []Detection) []Detection
}

// FirstSeenSuppression keeps a detection only if it does not overlap any
// detection already kept, walking the input once from left to right. The
// survivor of an overlapping group is the one with the lowest candidate
// index, not the most confident one.
type FirstSeenSuppression struct {
	IOUThreshold float64
}

// Name implements Suppressor.
func (FirstSeenSuppression) Name() string { return SuppressionFirstSeen }

// Suppress implements Suppressor.
func (s FirstSeenSuppression) Suppress(dets []Detection) []Detection {
	kept := make([]Detection, 0, len(dets))
	for _, det := range dets {
		if !overlapsAny(det, kept, s.IOUThreshold) {
			kept = append(kept, det)
		}
	}
	return kept
}

// ConfidenceSuppression is classic non-max suppression: detections are
// visited by descending confidence, so the most confident member of an
// overlapping group survives. The output is in that order.
type ConfidenceSuppression struct {
	IOUThreshold float64
}

// Name implements Suppressor.
func (ConfidenceSuppression) Name() string { return SuppressionConfidence }

// Suppress implements Suppressor.
func (s ConfidenceSuppression) Suppress(dets []Detection) []Detection {
	sorted := make([]Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})
	return FirstSeenSuppression(s).Suppress(sorted)
}

// NewSuppressor builds the strategy registered under name.
func NewSuppressor(name string, iouThreshold float64) (Suppressor, error) {
	switch name {
	case SuppressionFirstSeen, "":
		return FirstSeenSuppression{IOUThreshold: iouThreshold}, nil
	case SuppressionConfidence:
		return ConfidenceSuppression{IOUThreshold: iouThreshold}, nil
	default:
		return nil, fmt.Errorf("unknown suppression strategy %q", name)
	}
}

func overlapsAny(det Detection, kept []Detection, threshold float64) bool {
	for _, k := range kept {
		if IOU(det.BBox, k.BBox) > threshold {
			return true
		}
	}
	return false
}
