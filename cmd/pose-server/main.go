package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/config"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/devreload"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/monitor"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/overlay"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/recorder"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/tensorshm"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/internal/webrtc"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/pose-server/pkg/types"
)

// Server reads tensors from shared memory and serves the decoded poses.
type Server struct {
	cfg        config.Config
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	metrics    *metrics.Metrics
	reader     *tensorshm.Reader
	processor  *monitor.Processor
	events     *monitor.EventBroadcaster
	frames     *monitor.FrameBroadcaster
	webrtc     *webrtc.Server
	recorder   *recorder.Recorder
	reloader   *devreload.Reloader
	httpServer *http.Server

	processChan chan *types.TensorFrame
}

func main() {
	cfg := config.DefaultConfig()

	var (
		tuningPath  string
		pprofAddr   string
		stunServers string
		shmWait     time.Duration
		logLevel    string
		logColor    bool
	)

	flag.StringVar(&cfg.Addr, "http", cfg.Addr, "HTTP server address")
	flag.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Metrics server address")
	flag.StringVar(&cfg.AssetsDir, "assets", cfg.AssetsDir, "Web assets directory")
	flag.StringVar(&cfg.TensorShmName, "shm", cfg.TensorShmName, "Tensor shared memory name or path")
	flag.DurationVar(&cfg.PollInterval, "poll", cfg.PollInterval, "Tensor ring polling interval")
	flag.DurationVar(&cfg.StatusInterval, "status-interval", cfg.StatusInterval, "Status stream interval")
	flag.StringVar(&cfg.RecordingOutputPath, "record-path", cfg.RecordingOutputPath, "Recording output path")
	flag.IntVar(&cfg.MaxWebRTCClients, "max-clients", cfg.MaxWebRTCClients, "Maximum WebRTC clients (0 disables WebRTC)")
	flag.BoolVar(&cfg.DevReload, "dev", cfg.DevReload, "Reload browsers when assets change")
	flag.Float64Var(&cfg.ConfidenceThreshold, "conf", cfg.ConfidenceThreshold, "Confidence threshold (exclusive)")
	flag.Float64Var(&cfg.IOUThreshold, "iou", cfg.IOUThreshold, "IOU threshold for duplicate suppression")
	flag.StringVar(&cfg.Suppression, "suppression", cfg.Suppression, "Duplicate suppression (first_seen, confidence)")
	flag.BoolVar(&cfg.RenderOverlay, "overlay", cfg.RenderOverlay, "Render the MJPEG overlay")
	flag.IntVar(&cfg.JPEGQuality, "jpeg-quality", cfg.JPEGQuality, "Overlay JPEG quality")
	flag.IntVar(&cfg.HistorySize, "history", cfg.HistorySize, "Number of non-empty events kept for /api/status")
	flag.StringVar(&tuningPath, "tuning", "", "JSON tuning file (command line flags take precedence)")
	flag.StringVar(&pprofAddr, "pprof", ":6060", "pprof server address (empty disables)")
	flag.StringVar(&stunServers, "stun", "", "STUN server URLs (comma-separated)")
	flag.DurationVar(&shmWait, "shm-wait", 0, "How long to wait for the tensor ring (0 waits forever)")
	flag.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, silent)")
	flag.BoolVar(&logColor, "log-color", true, "Enable colored log output")
	flag.Parse()

	level, err := logger.ParseLevel(logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, logColor)

	if tuningPath != "" {
		if err := applyTuning(&cfg, tuningPath); err != nil {
			log.Fatalf("Failed to load tuning: %v", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Info("Main", "Pose server starting...")
	logger.Info("Main", "Log level: %s", level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if shmWait <= 0 {
		shmWait = 24 * time.Hour * 365
	}
	reader, err := tensorshm.WaitOpen(ctx, cfg.TensorShmName, shmWait)
	if err != nil {
		log.Fatalf("Failed to open tensor ring: %v", err)
	}

	srv, err := NewServer(cfg, reader, splitList(stunServers))
	if err != nil {
		reader.Close()
		log.Fatalf("Failed to create server: %v", err)
	}

	srv.Start(pprofAddr)

	<-ctx.Done()
	logger.Info("Main", "Shutting down...")

	if err := srv.Shutdown(); err != nil {
		logger.Error("Main", "Error during shutdown: %v", err)
	}
	logger.Info("Main", "Server stopped")
}

// applyTuning loads the tuning file onto cfg, then re-applies the flags that
// were set explicitly.
func applyTuning(cfg *config.Config, path string) error {
	t, err := config.LoadTuning(path)
	if err != nil {
		return err
	}
	explicit := map[string]string{}
	flag.Visit(func(f *flag.Flag) {
		explicit[f.Name] = f.Value.String()
	})
	t.Apply(cfg)
	for name, value := range explicit {
		if err := flag.Set(name, value); err != nil {
			return err
		}
	}
	logger.Info("Main", "Loaded tuning from %s", path)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// NewServer wires the pipeline to its outputs.
func NewServer(cfg config.Config, reader *tensorshm.Reader, stunServers []string) (*Server, error) {
	pipeline, err := cfg.Pipeline()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := metrics.New()

	s := &Server{
		cfg:         cfg,
		ctx:         ctx,
		cancel:      cancel,
		metrics:     m,
		reader:      reader,
		events:      monitor.NewEventBroadcaster(&m.EventSubscribers),
		recorder:    recorder.NewRecorder(cfg.RecordingOutputPath),
		processChan: make(chan *types.TensorFrame, 4),
	}

	mon := monitor.NewMonitor(cfg.HistorySize)
	opts := []monitor.ProcessorOption{
		monitor.WithMetrics(m),
		monitor.WithRecorder(s.recorder),
	}
	deps := monitor.Deps{
		Monitor:  mon,
		Events:   s.events,
		Pipeline: pipeline,
		Recorder: s.recorder,
	}

	if cfg.RenderOverlay {
		s.frames = monitor.NewFrameBroadcaster(overlay.NewRenderer(), cfg.JPEGQuality, &m.FrameSubscribers)
		opts = append(opts, monitor.WithFrames(s.frames))
		deps.Frames = s.frames
	}
	if cfg.MaxWebRTCClients > 0 {
		s.webrtc = webrtc.NewServer(stunServers, cfg.MaxWebRTCClients, m)
		opts = append(opts, monitor.WithSink(s.webrtc))
		deps.WebRTC = s.webrtc
	}
	if cfg.DevReload {
		r, err := devreload.New(cfg.AssetsDir, 200*time.Millisecond)
		if err != nil {
			logger.Warn("Main", "Dev reload disabled: %v", err)
		} else {
			s.reloader = r
			deps.Reload = r
		}
	}

	s.processor = monitor.NewProcessor(pipeline, mon, s.events, opts...)
	s.httpServer = &http.Server{
		Addr:    cfg.Addr,
		Handler: monitor.NewServer(deps, cfg.AssetsDir, cfg.StatusInterval).Handler(),
		// streaming handlers end when the server context is cancelled
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	return s, nil
}

// Start launches the HTTP servers and the processing goroutines.
func (s *Server) Start(pprofAddr string) {
	logger.Info("Main", "  Tensor ring: %s", tensorshm.Path(s.cfg.TensorShmName))
	logger.Info("Main", "  HTTP server: %s", s.cfg.Addr)
	logger.Info("Main", "  Metrics server: %s", s.cfg.MetricsAddr)
	logger.Info("Main", "  Recording path: %s", s.cfg.RecordingOutputPath)
	logger.Info("Main", "  Thresholds: conf>%.2f iou>%.2f (%s)", s.cfg.ConfidenceThreshold, s.cfg.IOUThreshold, s.cfg.Suppression)

	if pprofAddr != "" {
		go func() {
			logger.Info("Main", "Starting pprof server on %s", pprofAddr)
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				logger.Warn("Main", "pprof server error: %v", err)
			}
		}()
	}

	go func() {
		if err := s.metrics.StartServer(s.cfg.MetricsAddr); err != nil {
			logger.Warn("Main", "Metrics server error: %v", err)
		}
	}()

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Main", "HTTP server error: %v", err)
		}
	}()

	if s.frames != nil {
		s.frames.Start()
	}
	if s.reloader != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.reloader.Run(s.ctx)
		}()
	}

	s.wg.Add(3)
	go s.readTensors()
	go s.processTensors()
	go s.updateRecordingMetrics()

	logger.Info("Main", "Server started successfully")
}

// readTensors polls the tensor ring for new frames.
func (s *Server) readTensors() {
	defer s.wg.Done()

	logger.Info("Reader", "Polling tensor ring every %s", s.cfg.PollInterval)
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			frame, err := s.reader.ReadLatest()
			if err != nil {
				s.metrics.ReadErrors.Add(1)
				logger.Warn("Reader", "Read error: %v", err)
				continue
			}
			if frame == nil {
				continue
			}
			s.enqueue(frame)
		}
	}
}

// enqueue hands a frame to the processor, dropping it when the queue is full.
func (s *Server) enqueue(frame *types.TensorFrame) bool {
	s.metrics.FramesRead.Add(1)
	select {
	case s.processChan <- frame:
		return true
	default:
		s.metrics.FramesDropped.Add(1)
		logger.Debug("Reader", "Processor busy, dropped frame #%d", frame.FrameNumber)
		return false
	}
}

// processTensors runs the pipeline on each frame.
func (s *Server) processTensors() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.processChan:
			if _, err := s.processor.Process(frame); err != nil {
				logger.Warn("Processor", "Error: %v", err)
			}
		}
	}
}

func (s *Server) updateRecordingMetrics() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			status := s.recorder.GetStatus()
			if status.Recording {
				s.metrics.RecordingActive.Store(1)
				s.metrics.RecordingBytes.Store(status.BytesWritten)
				s.metrics.RecordingEvents.Store(status.EventCount)
			} else {
				s.metrics.RecordingActive.Store(0)
			}
		}
	}
}

// Shutdown stops the goroutines, then closes every component.
func (s *Server) Shutdown() error {
	s.cancel()
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.httpServer.Shutdown(ctx)

	if s.frames != nil {
		s.frames.Stop()
	}
	s.events.Close()
	if rerr := s.recorder.Close(); rerr != nil {
		logger.Error("Main", "Failed to close recording: %v", rerr)
	}
	if s.webrtc != nil {
		s.webrtc.Close()
	}
	if s.reloader != nil {
		s.reloader.Close()
	}
	s.reader.Close()
	return err
}
