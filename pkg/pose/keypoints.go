package pose

import (
	"bytes"
	"encoding/json"
)

// KeypointID indexes the 17 COCO body keypoints in model output order.
type KeypointID int

// Keypoint ids.
const (
	Nose KeypointID = iota
	LeftEye
	RightEye
	LeftEar
	RightEar
	LeftShoulder
	RightShoulder
	LeftElbow
	RightElbow
	LeftWrist
	RightWrist
	LeftHip
	RightHip
	LeftKnee
	RightKnee
	LeftAnkle
	RightAnkle
)

var keypointNames = [NumKeypoints]string{
	"Nose",
	"Left Eye",
	"Right Eye",
	"Left Ear",
	"Right Ear",
	"Left Shoulder",
	"Right Shoulder",
	"Left Elbow",
	"Right Elbow",
	"Left Wrist",
	"Right Wrist",
	"Left Hip",
	"Right Hip",
	"Left Knee",
	"Right Knee",
	"Left Ankle",
	"Right Ankle",
}

// String returns the anatomical label, e.g. "Left Shoulder".
func (id KeypointID) String() string {
	if id < 0 || int(id) >= NumKeypoints {
		return "Unknown"
	}
	return keypointNames[id]
}

// KeypointByName maps a label back to its id.
func KeypointByName(name string) (KeypointID, bool) {
	for i, n := range keypointNames {
		if n == name {
			return KeypointID(i), true
		}
	}
	return 0, false
}

// Keypoint is one joint position in model input pixels.
type Keypoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Visibility float64 `json:"visible"`
}

// Keypoints always holds one entry per label, whatever the model thinks of
// the individual joints.
type Keypoints [NumKeypoints]Keypoint

// Get looks a keypoint up by label.
func (k Keypoints) Get(name string) (Keypoint, bool) {
	id, ok := KeypointByName(name)
	if !ok {
		return Keypoint{}, false
	}
	return k[id], true
}

// MarshalJSON encodes the keypoints as an object keyed by label, in model order.
func (k Keypoints) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, kp := range k {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, _ := json.Marshal(keypointNames[i])
		value, err := json.Marshal(kp)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		buf.Write(value)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts the object form written by MarshalJSON. Labels that
// are missing keep their zero value; unknown labels are ignored.
func (k *Keypoints) UnmarshalJSON(data []byte) error {
	var named map[string]Keypoint
	if err := json.Unmarshal(data, &named); err != nil {
		return err
	}
	for name, kp := range named {
		if id, ok := KeypointByName(name); ok {
			k[id] = kp
		}
	}
	return nil
}
