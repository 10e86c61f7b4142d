package overlay

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/events"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/pkg/pose"
)

var gray = color.RGBA{128, 128, 128, 255}

func solid(size int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

func armsEvent() events.PoseEvent {
	var kp pose.Keypoints
	kp[pose.LeftShoulder] = pose.Keypoint{X: 200, Y: 200}
	kp[pose.RightShoulder] = pose.Keypoint{X: 300, Y: 200}
	kp[pose.LeftElbow] = pose.Keypoint{X: 200, Y: 300}
	kp[pose.RightElbow] = pose.Keypoint{X: 300, Y: 100}
	det := pose.Detection{
		BBox:       pose.BBox{X: 250, Y: 250, W: 400, H: 400},
		Confidence: 0.9,
		Keypoints:  kp,
	}
	return events.NewPoseEvent(3, time.Unix(1700000000, 0), pose.Annotate([]pose.Detection{det}))
}

func rgbaAt(img *image.RGBA, x, y int) color.RGBA {
	return img.RGBAAt(x, y)
}

func TestRenderDrawsDetection(t *testing.T) {
	r := NewRenderer()
	r.ShowStats = false
	out := r.Render(solid(pose.InputSize, gray), armsEvent())

	// box edge, converted from center form: left edge at x=50
	box := rgbaAt(out, 50, 300)
	assert.Less(t, box.R, uint8(40), "box edge %v", box)

	// inside the left shoulder joint, away from limbs and labels
	assert.Equal(t, color.RGBA{255, 0, 0, 255}, rgbaAt(out, 195, 205))

	// the right shoulder arc goes from pi round to 3pi/2, through the upper left
	arc := rgbaAt(out, 264, 164)
	assert.Greater(t, arc.G, uint8(200), "arc %v", arc)
	assert.Less(t, arc.B, uint8(100), "arc %v", arc)

	// and not the short way back through the lower half
	assert.Equal(t, gray, rgbaAt(out, 300, 250))

	// far from everything
	assert.Equal(t, gray, rgbaAt(out, 600, 600))
}

func TestRenderEmptyEventKeepsBackground(t *testing.T) {
	r := NewRenderer()
	r.ShowStats = false
	bg := solid(pose.InputSize, gray)

	out := r.Render(bg, events.NewPoseEvent(1, time.Unix(0, 0), nil))
	assert.Equal(t, bg.Pix, out.Pix)
}

func TestRenderScalesBackground(t *testing.T) {
	r := NewRenderer()
	r.ShowStats = false
	red := color.RGBA{200, 10, 10, 255}

	out := r.Render(solid(320, red), events.NewPoseEvent(1, time.Unix(0, 0), nil))
	assert.Equal(t, image.Rect(0, 0, pose.InputSize, pose.InputSize), out.Bounds())
	c := rgbaAt(out, 320, 320)
	assert.InDelta(t, int(red.R), int(c.R), 2)
	assert.InDelta(t, int(red.G), int(c.G), 2)

	black := r.Render(nil, events.PoseEvent{})
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, rgbaAt(black, 320, 320))
}

func TestRenderStats(t *testing.T) {
	r := NewRenderer()
	with := r.Render(solid(pose.InputSize, gray), armsEvent())
	r.ShowStats = false
	without := r.Render(solid(pose.InputSize, gray), armsEvent())

	assert.NotEqual(t, with.Pix, without.Pix)
	assert.Equal(t, rgbaAt(without, 600, 600), rgbaAt(with, 600, 600))
}

func TestRenderJPEG(t *testing.T) {
	bgJPEG, err := EncodeJPEG(solid(pose.InputSize, gray), 90)
	require.NoError(t, err)

	r := NewRenderer()
	data, err := r.RenderJPEG(bgJPEG, armsEvent(), 80)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, pose.InputSize, img.Bounds().Dx())

	_, err = r.RenderJPEG(nil, armsEvent(), 80)
	require.NoError(t, err)

	_, err = r.RenderJPEG([]byte("not a jpeg"), armsEvent(), 80)
	assert.ErrorContains(t, err, "decode background")
}
