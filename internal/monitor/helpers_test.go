package monitor

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/events"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/pkg/pose"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/pkg/types"
)

// person places one confident candidate at index j, centered at (cx, cy),
// with arms spread out horizontally.
func person(data []float32, j int, cx, cy float32) {
	set := func(c int, v float32) { data[c*pose.NumCandidates+j] = v }
	set(pose.ChannelX, cx)
	set(pose.ChannelY, cy)
	set(pose.ChannelW, 100)
	set(pose.ChannelH, 200)
	set(pose.ChannelConfidence, 0.9)
	kp := func(id pose.KeypointID, x, y float32) {
		set(pose.KeypointChannel(id, 0), x)
		set(pose.KeypointChannel(id, 1), y)
		set(pose.KeypointChannel(id, 2), 0.9)
	}
	kp(pose.LeftShoulder, cx+20, cy-50)
	kp(pose.RightShoulder, cx-20, cy-50)
	kp(pose.LeftElbow, cx+60, cy-50)
	kp(pose.RightElbow, cx-60, cy-50)
}

func tensorWith(people ...[2]float32) []float32 {
	data := make([]float32, pose.TensorLen)
	for i, p := range people {
		person(data, 100+i*50, p[0], p[1])
	}
	return data
}

func testFrame(n uint64, people ...[2]float32) *types.TensorFrame {
	return &types.TensorFrame{
		FrameNumber: n,
		Timestamp:   time.Unix(1700000000, 0),
		Tensor:      tensorWith(people...),
	}
}

func tensorBytes(data []float32) []byte {
	var buf bytes.Buffer
	for _, v := range data {
		_ = binary.Write(&buf, binary.LittleEndian, math.Float32bits(v))
	}
	return buf.Bytes()
}

func serializedFrame(t interface{ Fatalf(string, ...any) }, n uint64) *events.SerializedEvent {
	ev := events.NewPoseEvent(n, time.Unix(1700000000, 0), nil)
	s, err := events.Serialize(ev)
	if err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return s
}
