// Package events carries the poses found in one frame to the HTTP, WebRTC
// and recording outputs, as JSON or as the protobuf message in
// api/proto/pose.proto.
package events

import (
	"encoding/base64"
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/pkg/pose"
)

// PoseEvent is the result of one frame.
type PoseEvent struct {
	FrameNumber uint64
	Timestamp   float64 // unix seconds
	Detections  []pose.Annotated
}

// NewPoseEvent stamps the detections of a frame.
func NewPoseEvent(frameNumber uint64, ts time.Time, dets []pose.Annotated) PoseEvent {
	if dets == nil {
		dets = []pose.Annotated{}
	}
	return PoseEvent{
		FrameNumber: frameNumber,
		Timestamp:   float64(ts.UnixNano()) / 1e9,
		Detections:  dets,
	}
}

// Time converts Timestamp back to a time.Time.
func (e PoseEvent) Time() time.Time {
	sec, frac := math.Modf(e.Timestamp)
	return time.Unix(int64(sec), int64(frac*1e9))
}

// jsonFloat writes NaN and infinities as null. Degenerate arm vectors yield NaN.
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

type jsonAngles struct {
	LeftIn       jsonFloat `json:"left_in"`
	RightIn      jsonFloat `json:"right_in"`
	LeftOut      jsonFloat `json:"left_out"`
	RightOut     jsonFloat `json:"right_out"`
	LeftDegrees  jsonFloat `json:"left_degrees"`
	RightDegrees jsonFloat `json:"right_degrees"`
}

type jsonDetection struct {
	BBox       pose.BBox      `json:"bbox"`
	Confidence jsonFloat      `json:"confidence"`
	Keypoints  pose.Keypoints `json:"keypoints"`
	Angles     jsonAngles     `json:"angles"`
}

type jsonEvent struct {
	FrameNumber   uint64          `json:"frame_number"`
	Timestamp     float64         `json:"timestamp"`
	NumDetections int             `json:"num_detections"`
	Detections    []jsonDetection `json:"detections"`
}

// MarshalJSON implements json.Marshaler.
func (e PoseEvent) MarshalJSON() ([]byte, error) {
	out := jsonEvent{
		FrameNumber:   e.FrameNumber,
		Timestamp:     e.Timestamp,
		NumDetections: len(e.Detections),
		Detections:    make([]jsonDetection, len(e.Detections)),
	}
	for i, d := range e.Detections {
		out.Detections[i] = jsonDetection{
			BBox:       d.BBox,
			Confidence: jsonFloat(d.Confidence),
			Keypoints:  d.Keypoints,
			Angles: jsonAngles{
				LeftIn:       jsonFloat(d.Angles.LeftIn),
				RightIn:      jsonFloat(d.Angles.RightIn),
				LeftOut:      jsonFloat(d.Angles.LeftOut),
				RightOut:     jsonFloat(d.Angles.RightOut),
				LeftDegrees:  jsonFloat(d.Angles.LeftDegrees()),
				RightDegrees: jsonFloat(d.Angles.RightDegrees()),
			},
		}
	}
	return json.Marshal(out)
}

// SerializedEvent holds an event encoded once for every subscriber.
type SerializedEvent struct {
	FrameNumber    uint64
	JSONData       []byte
	ProtobufData   []byte // raw protobuf, for WebRTC and recordings
	ProtobufBase64 []byte // for SSE
}

// Serialize encodes ev in every wire form.
func Serialize(ev PoseEvent) (*SerializedEvent, error) {
	jsonData, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	pb := ev.MarshalProto()
	b64 := make([]byte, base64.StdEncoding.EncodedLen(len(pb)))
	base64.StdEncoding.Encode(b64, pb)
	return &SerializedEvent{
		FrameNumber:    ev.FrameNumber,
		JSONData:       jsonData,
		ProtobufData:   pb,
		ProtobufBase64: b64,
	}, nil
}
