package pose

// Annotated is a detection together with its arm angles.
type Annotated struct {
	Detection
	Angles JointAngles `json:"angles"`
}

// Pipeline chains decoding, suppression and geometry for one frame.
type Pipeline struct {
	Decoder    Decoder
	Suppressor Suppressor
}

// NewPipeline returns a pipeline with the default thresholds and
// FirstSeenSuppression.
func NewPipeline() *Pipeline {
	return &Pipeline{
		Decoder:    NewDecoder(),
		Suppressor: FirstSeenSuppression{IOUThreshold: DefaultIOUThreshold},
	}
}

// Result describes what happened to one frame.
type Result struct {
	// Candidates is the number of candidates above the confidence threshold.
	Candidates int
	// Detections survived suppression, each with its arm angles.
	Detections []Annotated
}

// Empty reports whether no candidate passed the confidence threshold.
func (r Result) Empty() bool {
	return r.Candidates == 0
}

// Suppressed is the number of candidates removed as duplicates.
func (r Result) Suppressed() int {
	return r.Candidates - len(r.Detections)
}

// Process decodes and suppresses one tensor.
func (p *Pipeline) Process(t *Tensor) []Detection {
	return p.Suppressor.Suppress(p.Decoder.Decode(t))
}

// Run checks the buffer, then decodes, suppresses and annotates it.
func (p *Pipeline) Run(raw []float32) (Result, error) {
	t, err := NewTensor(raw)
	if err != nil {
		return Result{}, err
	}
	candidates := p.Decoder.Decode(t)
	kept := p.Suppressor.Suppress(candidates)
	return Result{
		Candidates: len(candidates),
		Detections: Annotate(kept),
	}, nil
}

// Annotate computes the arm angles of every detection.
func Annotate(dets []Detection) []Annotated {
	out := make([]Annotated, len(dets))
	for i, d := range dets {
		out[i] = Annotated{Detection: d, Angles: ArmAngles(d.Keypoints)}
	}
	return out
}
