// Command posedecode decodes a raw pose tensor file, or replays a pose
// recording, and prints the events as JSON.
//
//	posedecode [flags] tensor.bin
//	posedecode -replay recordings/poses_20250101_120000.pb
package main

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/events"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/overlay"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/recorder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/pkg/pose"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "posedecode: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	cfg := config.DefaultConfig()

	fs := flag.NewFlagSet("posedecode", flag.ContinueOnError)
	fs.SetOutput(stderr)
	replay := fs.Bool("replay", false, "Treat the input as a pose recording")
	frame := fs.Uint64("frame", 0, "Frame number to report")
	background := fs.String("image", "", "Model input JPEG to draw the overlay on")
	overlayOut := fs.String("overlay", "", "Write the overlay JPEG here")
	compact := fs.Bool("compact", false, "One JSON object per line")
	logLevel := fs.String("log-level", "warn", "Log level (debug, info, warn, error, silent)")
	fs.Float64Var(&cfg.ConfidenceThreshold, "conf", cfg.ConfidenceThreshold, "Confidence threshold (exclusive)")
	fs.Float64Var(&cfg.IOUThreshold, "iou", cfg.IOUThreshold, "IOU threshold for duplicate suppression")
	fs.StringVar(&cfg.Suppression, "suppression", cfg.Suppression, "Duplicate suppression (first_seen, confidence)")
	fs.IntVar(&cfg.JPEGQuality, "jpeg-quality", cfg.JPEGQuality, "Overlay JPEG quality")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return fmt.Errorf("expected one input file, got %d", fs.NArg())
	}

	level, err := logger.ParseLevel(*logLevel)
	if err != nil {
		return err
	}
	lg := logger.New(level, stderr, false)

	if err := cfg.Validate(); err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	if !*compact {
		enc.SetIndent("", "  ")
	}

	in, err := os.Open(fs.Arg(0))
	if err != nil {
		return err
	}
	defer in.Close()

	if *replay {
		n := 0
		err := recorder.Replay(in, func(ev events.PoseEvent) error {
			n++
			return enc.Encode(ev)
		})
		lg.Info("Replay", "%d events", n)
		return err
	}

	tensor, err := readTensor(in)
	if err != nil {
		return err
	}
	pipeline, err := cfg.Pipeline()
	if err != nil {
		return err
	}
	res, err := pipeline.Run(tensor)
	if err != nil {
		return err
	}
	if res.Empty() {
		lg.Warn("Decode", "No candidate above confidence threshold %.2f", cfg.ConfidenceThreshold)
	} else {
		lg.Info("Decode", "%d candidates, %d kept", res.Candidates, len(res.Detections))
	}

	ev := events.NewPoseEvent(*frame, time.Now(), res.Detections)
	if *overlayOut != "" {
		if err := writeOverlay(*overlayOut, *background, ev, cfg.JPEGQuality); err != nil {
			return err
		}
	}
	return enc.Encode(ev)
}

// readTensor reads exactly one tensor of little-endian float32 values.
func readTensor(r io.Reader) ([]float32, error) {
	data := make([]float32, pose.TensorLen)
	if err := binary.Read(r, binary.LittleEndian, data); err != nil {
		return nil, fmt.Errorf("read tensor (%d float32 values): %w", pose.TensorLen, err)
	}
	if n, _ := io.CopyN(io.Discard, r, 1); n > 0 {
		return nil, fmt.Errorf("read tensor: %w: trailing data after %d values", pose.ErrShapeMismatch, pose.TensorLen)
	}
	return data, nil
}

func writeOverlay(path, background string, ev events.PoseEvent, quality int) error {
	var bg []byte
	if background != "" {
		data, err := os.ReadFile(background)
		if err != nil {
			return err
		}
		bg = data
	}
	img, err := overlay.NewRenderer().RenderJPEG(bg, ev, quality)
	if err != nil {
		return err
	}
	return os.WriteFile(path, img, 0o644)
}
