package pose

// tensorBuilder fills a channel-major buffer one candidate at a time.
type tensorBuilder struct {
	data []float32
}

func newTensorBuilder() *tensorBuilder {
	return &tensorBuilder{data: make([]float32, TensorLen)}
}

func (b *tensorBuilder) set(c, j int, v float32) *tensorBuilder {
	b.data[c*NumCandidates+j] = v
	return b
}

// candidate writes a full candidate. Keypoint k gets x=base+k, y=base+100+k and
// visibility 0.5 so that every channel holds a distinct value.
func (b *tensorBuilder) candidate(j int, box BBox, conf float32, base float32) *tensorBuilder {
	b.set(ChannelX, j, float32(box.X))
	b.set(ChannelY, j, float32(box.Y))
	b.set(ChannelW, j, float32(box.W))
	b.set(ChannelH, j, float32(box.H))
	b.set(ChannelConfidence, j, conf)
	for k := KeypointID(0); k < NumKeypoints; k++ {
		b.set(KeypointChannel(k, 0), j, base+float32(k))
		b.set(KeypointChannel(k, 1), j, base+100+float32(k))
		b.set(KeypointChannel(k, 2), j, 0.5)
	}
	return b
}

func (b *tensorBuilder) fill(v float32) *tensorBuilder {
	for i := range b.data {
		b.data[i] = v
	}
	return b
}

func (b *tensorBuilder) tensor() *Tensor {
	t, err := NewTensor(b.data)
	if err != nil {
		panic(err)
	}
	return t
}

func detAt(x, y, w, h, conf float64) Detection {
	return Detection{BBox: BBox{X: x, Y: y, W: w, H: h}, Confidence: conf}
}
