package pose

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineRun(t *testing.T) {
	b := newTensorBuilder()
	b.candidate(10, BBox{X: 100, Y: 100, W: 80, H: 160}, 0.7, 0)
	b.candidate(11, BBox{X: 101, Y: 101, W: 80, H: 160}, 0.9, 0) // duplicate of 10
	b.candidate(500, BBox{X: 400, Y: 300, W: 60, H: 120}, 0.8, 50)
	b.candidate(501, BBox{X: 10, Y: 10, W: 5, H: 5}, 0.3, 0) // below threshold

	res, err := NewPipeline().Run(b.data)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Candidates)
	assert.Equal(t, 1, res.Suppressed())
	assert.False(t, res.Empty())
	require.Len(t, res.Detections, 2)
	assert.Equal(t, 100.0, res.Detections[0].BBox.X)
	assert.Equal(t, 400.0, res.Detections[1].BBox.X)
	assert.Equal(t, ArmAngles(res.Detections[1].Keypoints), res.Detections[1].Angles)
}

func TestPipelineEmptyFrame(t *testing.T) {
	b := newTensorBuilder().fill(0.1)

	res, err := NewPipeline().Run(b.data)
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Empty(t, res.Detections)
	assert.Empty(t, NewPipeline().Process(b.tensor()))
}

func TestPipelineRejectsWrongShape(t *testing.T) {
	_, err := NewPipeline().Run(make([]float32, 100))
	assert.True(t, errors.Is(err, ErrShapeMismatch))
}
