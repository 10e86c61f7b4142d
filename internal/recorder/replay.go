package recorder

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/events"
)

// maxRecordSize bounds a single message so a corrupt prefix cannot make
// Replay allocate gigabytes.
const maxRecordSize = 16 << 20

// Replay calls fn for every event in a recording, in file order. It stops at
// the first error fn returns.
func Replay(r io.Reader, fn func(events.PoseEvent) error) error {
	br := bufio.NewReader(r)
	for index := 0; ; index++ {
		size, err := binary.ReadUvarint(br)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("record %d: read length: %w", index, err)
		}
		if size > maxRecordSize {
			return fmt.Errorf("record %d: length %d exceeds %d", index, size, maxRecordSize)
		}

		msg := make([]byte, size)
		if _, err := io.ReadFull(br, msg); err != nil {
			return fmt.Errorf("record %d: %w", index, err)
		}
		ev, err := events.UnmarshalProto(msg)
		if err != nil {
			return fmt.Errorf("record %d: %w", index, err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
}

// ReadAll returns every event of a recording.
func ReadAll(r io.Reader) ([]events.PoseEvent, error) {
	var out []events.PoseEvent
	err := Replay(r, func(ev events.PoseEvent) error {
		out = append(out, ev)
		return nil
	})
	return out, err
}
