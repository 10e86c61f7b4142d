// Package overlay draws pose events on top of the model input image.
package overlay

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"

	"github.com/fogleman/gg"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/events"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/pkg/pose"
)

var (
	colorBox    = color.RGBA{0, 0, 0, 255}
	colorJoint  = color.RGBA{255, 0, 0, 255}
	colorAngle  = color.RGBA{255, 255, 0, 255}
	colorStats  = color.RGBA{255, 255, 255, 255}
	colorStatBG = color.RGBA{0, 0, 0, 160}
)

// Renderer draws boxes, shoulder and elbow joints, shoulder angle arcs and
// labels, and the elbow-shoulder-shoulder-elbow line of every detection.
type Renderer struct {
	Size        int     // output is Size x Size, the model input size
	LineWidth   float64 // stroke width of boxes, arcs and limbs
	JointRadius float64
	ArcRadius   float64
	ShowStats   bool // frame number and time in the top left corner
	Face        font.Face
}

// NewRenderer returns a Renderer for the model input size.
func NewRenderer() *Renderer {
	return &Renderer{
		Size:        pose.InputSize,
		LineWidth:   2,
		JointRadius: 10,
		ArcRadius:   50,
		ShowStats:   true,
		Face:        basicfont.Face7x13,
	}
}

// Render draws ev over background. A nil background gives a black canvas.
// The background is scaled to the canvas when its size differs.
func (r *Renderer) Render(background image.Image, ev events.PoseEvent) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, r.Size, r.Size))
	if background != nil {
		if background.Bounds().Size() == canvas.Bounds().Size() {
			draw.Draw(canvas, canvas.Bounds(), background, background.Bounds().Min, draw.Src)
		} else {
			draw.ApproxBiLinear.Scale(canvas, canvas.Bounds(), background, background.Bounds(), draw.Src, nil)
		}
	} else {
		draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.Black), image.Point{}, draw.Src)
	}

	dc := gg.NewContextForRGBA(canvas)
	dc.SetLineWidth(r.LineWidth)
	if r.Face != nil {
		dc.SetFontFace(r.Face)
	}

	for _, det := range ev.Detections {
		r.drawDetection(dc, det)
	}
	if r.ShowStats {
		r.drawStats(dc, ev)
	}
	return canvas
}

func (r *Renderer) drawDetection(dc *gg.Context, det pose.Annotated) {
	kp := det.Keypoints
	ls, rs := kp[pose.LeftShoulder], kp[pose.RightShoulder]
	le, re := kp[pose.LeftElbow], kp[pose.RightElbow]

	x, y := det.BBox.TopLeft()
	dc.SetColor(colorBox)
	dc.DrawRectangle(x, y, det.BBox.W, det.BBox.H)
	dc.Stroke()

	dc.SetColor(colorJoint)
	for _, k := range []pose.Keypoint{ls, rs, le, re} {
		dc.DrawCircle(k.X, k.Y, r.JointRadius)
		dc.Fill()
	}

	dc.SetColor(colorAngle)
	r.drawArc(dc, ls, det.Angles.LeftIn, det.Angles.LeftOut)
	r.drawArc(dc, rs, det.Angles.RightIn, det.Angles.RightOut)
	drawLabel(dc, ls, det.Angles.LeftDegrees())
	drawLabel(dc, rs, det.Angles.RightDegrees())

	for _, limb := range [][2]pose.Keypoint{{le, ls}, {re, rs}, {ls, rs}} {
		dc.DrawLine(limb[0].X, limb[0].Y, limb[1].X, limb[1].Y)
		dc.Stroke()
	}
}

// drawArc sweeps clockwise on screen from start to end, going round through
// 2*pi when end is smaller, like a canvas arc.
func (r *Renderer) drawArc(dc *gg.Context, center pose.Keypoint, start, end float64) {
	if math.IsNaN(start) || math.IsNaN(end) {
		return
	}
	if end < start {
		end += 2 * math.Pi
	}
	dc.NewSubPath()
	dc.DrawArc(center.X, center.Y, r.ArcRadius, start, end)
	dc.Stroke()
}

func drawLabel(dc *gg.Context, at pose.Keypoint, degrees float64) {
	if math.IsNaN(degrees) {
		return
	}
	dc.DrawString(fmt.Sprintf("%.1f", degrees), at.X, at.Y)
}

func (r *Renderer) drawStats(dc *gg.Context, ev events.PoseEvent) {
	text := fmt.Sprintf("Frame: %d  Poses: %d  Time: %s",
		ev.FrameNumber, len(ev.Detections), ev.Time().Format("2006/01/02 15:04:05"))
	w, h := dc.MeasureString(text)
	dc.SetColor(colorStatBG)
	dc.DrawRectangle(8, 8, w+4, h+6)
	dc.Fill()
	dc.SetColor(colorStats)
	dc.DrawString(text, 10, 10+h)
}

// RenderJPEG decodes the background JPEG (which may be empty), draws ev on
// it and encodes the result.
func (r *Renderer) RenderJPEG(background []byte, ev events.PoseEvent, quality int) ([]byte, error) {
	var bg image.Image
	if len(background) > 0 {
		img, err := jpeg.Decode(bytes.NewReader(background))
		if err != nil {
			return nil, fmt.Errorf("decode background: %w", err)
		}
		bg = img
	}
	return EncodeJPEG(r.Render(bg, ev), quality)
}

// EncodeJPEG encodes img at the given quality (1-100).
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
