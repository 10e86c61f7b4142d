package events

import (
	"errors"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/pkg/pose"
)

// Field numbers from api/proto/pose.proto.
const (
	fieldEventFrameNumber protowire.Number = 1
	fieldEventTimestamp   protowire.Number = 2
	fieldEventDetections  protowire.Number = 3

	fieldDetBBox       protowire.Number = 1
	fieldDetConfidence protowire.Number = 2
	fieldDetKeypoints  protowire.Number = 3
	fieldDetAngles     protowire.Number = 4
)

// skip is returned by field visitors for fields they do not handle. It is
// outside the range of protowire error codes.
const skip = math.MinInt32

var errTooManyKeypoints = errors.New("more keypoints than the skeleton has")

// MarshalProto encodes the event as a pose.v1.PoseEvent message.
func (e PoseEvent) MarshalProto() []byte {
	var b []byte
	if e.FrameNumber != 0 {
		b = protowire.AppendTag(b, fieldEventFrameNumber, protowire.VarintType)
		b = protowire.AppendVarint(b, e.FrameNumber)
	}
	b = appendDouble(b, fieldEventTimestamp, e.Timestamp)
	for _, d := range e.Detections {
		b = protowire.AppendTag(b, fieldEventDetections, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalDetection(d))
	}
	return b
}

func marshalDetection(d pose.Annotated) []byte {
	var b []byte

	var box []byte
	box = appendFloat(box, 1, d.BBox.X)
	box = appendFloat(box, 2, d.BBox.Y)
	box = appendFloat(box, 3, d.BBox.W)
	box = appendFloat(box, 4, d.BBox.H)
	b = protowire.AppendTag(b, fieldDetBBox, protowire.BytesType)
	b = protowire.AppendBytes(b, box)

	b = appendFloat(b, fieldDetConfidence, d.Confidence)

	for _, kp := range d.Keypoints {
		var k []byte
		k = appendFloat(k, 1, kp.X)
		k = appendFloat(k, 2, kp.Y)
		k = appendFloat(k, 3, kp.Visibility)
		b = protowire.AppendTag(b, fieldDetKeypoints, protowire.BytesType)
		b = protowire.AppendBytes(b, k)
	}

	var a []byte
	a = appendDouble(a, 1, d.Angles.LeftIn)
	a = appendDouble(a, 2, d.Angles.RightIn)
	a = appendDouble(a, 3, d.Angles.LeftOut)
	a = appendDouble(a, 4, d.Angles.RightOut)
	b = protowire.AppendTag(b, fieldDetAngles, protowire.BytesType)
	b = protowire.AppendBytes(b, a)
	return b
}

// appendFloat writes a proto3 float field, skipping the zero default.
func appendFloat(b []byte, num protowire.Number, v float64) []byte {
	bits := math.Float32bits(float32(v))
	if bits == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed32Type)
	return protowire.AppendFixed32(b, bits)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	bits := math.Float64bits(v)
	if bits == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, bits)
}

// UnmarshalProto decodes a pose.v1.PoseEvent message. Unknown fields are skipped.
func UnmarshalProto(b []byte) (PoseEvent, error) {
	ev := PoseEvent{Detections: []pose.Annotated{}}
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == fieldEventFrameNumber && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			ev.FrameNumber = x
			return n, nil
		case num == fieldEventTimestamp && typ == protowire.Fixed64Type:
			x, n := protowire.ConsumeFixed64(v)
			ev.Timestamp = math.Float64frombits(x)
			return n, nil
		case num == fieldEventDetections && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			d, err := unmarshalDetection(msg)
			if err != nil {
				return 0, err
			}
			ev.Detections = append(ev.Detections, d)
			return n, nil
		}
		return skip, nil
	})
	if err != nil {
		return PoseEvent{}, fmt.Errorf("decode PoseEvent: %w", err)
	}
	return ev, nil
}

func unmarshalDetection(b []byte) (pose.Annotated, error) {
	var d pose.Annotated
	nkp := 0
	err := walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == fieldDetBBox && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			var f [5]float64
			if err := floats(msg, f[:]); err != nil {
				return 0, err
			}
			d.BBox = pose.BBox{X: f[1], Y: f[2], W: f[3], H: f[4]}
			return n, nil
		case num == fieldDetConfidence && typ == protowire.Fixed32Type:
			x, n := protowire.ConsumeFixed32(v)
			d.Confidence = float64(math.Float32frombits(x))
			return n, nil
		case num == fieldDetKeypoints && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			if nkp >= pose.NumKeypoints {
				return 0, errTooManyKeypoints
			}
			var f [4]float64
			if err := floats(msg, f[:]); err != nil {
				return 0, err
			}
			d.Keypoints[nkp] = pose.Keypoint{X: f[1], Y: f[2], Visibility: f[3]}
			nkp++
			return n, nil
		case num == fieldDetAngles && typ == protowire.BytesType:
			msg, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			var f [5]float64
			if err := floats(msg, f[:]); err != nil {
				return 0, err
			}
			d.Angles = pose.JointAngles{LeftIn: f[1], RightIn: f[2], LeftOut: f[3], RightOut: f[4]}
			return n, nil
		}
		return skip, nil
	})
	return d, err
}

// floats reads a message made only of float or double fields into out,
// indexed by field number.
func floats(b []byte, out []float64) error {
	return walk(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		if int(num) >= len(out) {
			return skip, nil
		}
		switch typ {
		case protowire.Fixed32Type:
			x, n := protowire.ConsumeFixed32(v)
			out[num] = float64(math.Float32frombits(x))
			return n, nil
		case protowire.Fixed64Type:
			x, n := protowire.ConsumeFixed64(v)
			out[num] = math.Float64frombits(x)
			return n, nil
		}
		return skip, nil
	})
}

// walk calls field for every field of a message. field returns the number of
// value bytes it consumed, a negative protowire error code, or skip to let
// walk step over the field.
func walk(b []byte, field func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		n, err := field(num, typ, b)
		if err != nil {
			return err
		}
		if n == skip {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
	}
	return nil
}
