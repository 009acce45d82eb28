// Command edge-vision runs the on-device inventory pipeline: camera capture,
// privacy cropping, motion gating, object tracking, inventory debouncing and
// periodic delta pushes to the fleet backend.
package main

import (
	"context"
	"flag"
	"image"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/shelfsight/edge-vision/capture"
	"github.com/shelfsight/edge-vision/config"
	"github.com/shelfsight/edge-vision/detect"
	"github.com/shelfsight/edge-vision/inventory"
	"github.com/shelfsight/edge-vision/motion"
	"github.com/shelfsight/edge-vision/pipeline"
	"github.com/shelfsight/edge-vision/preview"
	"github.com/shelfsight/edge-vision/privacy"
	"github.com/shelfsight/edge-vision/push"
	"github.com/shelfsight/edge-vision/tracking"
)

func main() {
	configPath := flag.String("config", "edge-vision.json", "Path to the JSON settings file")
	camera := flag.Int("camera", -1, "Camera device index (overrides config)")
	video := flag.String("video", "", "Process a video file instead of a camera")
	previewAddr := flag.String("preview", "", "Preview stream address (overrides config)")
	noMotion := flag.Bool("no-motion-gate", false, "Run inference on every frame")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := zerolog.InfoLevel
	if *debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().Timestamp().Logger()

	settings, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load settings")
	}
	if *camera >= 0 {
		settings.CameraIndex = *camera
	}
	if *video != "" {
		settings.VideoFile = *video
	}
	if *previewAddr != "" {
		settings.PreviewAddr = *previewAddr
	}
	logger = logger.With().Str("machine_id", settings.MachineID).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, settings, *noMotion, logger); err != nil {
		logger.Fatal().Err(err).Msg("pipeline exited")
	}
}

func run(ctx context.Context, settings config.Settings, disableGate bool, logger zerolog.Logger) error {
	detector, closeDetector := buildDetector(settings, logger)
	defer closeDetector()

	tracker := tracking.NewIOUTracker(detector, tracking.DefaultIOUConfig(), logger)

	projector := privacy.NewProjector(settings.BlurRadius, logger)
	bounds := image.Rect(0, 0, settings.FrameWidth, settings.FrameHeight)
	if settings.Region != nil {
		if err := projector.SetRegion(settings.Region, bounds); err != nil {
			return err
		}
	}

	var gate *motion.Gate
	if !disableGate {
		gate = motion.NewGate(motion.Config{
			Threshold:      settings.MotionThreshold,
			CooldownFrames: settings.CooldownFrames,
		}, logger)
		defer gate.Close()
	}

	batcher := inventory.NewBatcher(settings.MachineID)
	state := inventory.NewStateMachine(settings.DebounceFrames, batcher, logger)

	pipe := pipeline.New(pipeline.Config{
		ProcessEveryN: settings.ProcessEveryN,
		FrameWidth:    settings.FrameWidth,
		FrameHeight:   settings.FrameHeight,
	}, projector, gate, tracker, state, batcher, logger)
	defer pipe.Close()

	if sinks := buildSinks(settings, logger); len(sinks) > 0 {
		pusher := push.NewPusher(pipe, push.NewMultiSink(sinks...), settings.BatchInterval(), logger)
		go pusher.Run(ctx)
	}

	var onDisplay pipeline.DisplayFunc
	if settings.PreviewAddr != "" {
		server := preview.NewServer(settings.PreviewAddr, logger)
		server.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			server.Shutdown(shutdownCtx)
		}()
		onDisplay = func(img *image.RGBA) { server.Update(img) }
	}

	source, err := openSource(settings)
	if err != nil {
		return err
	}
	defer source.Close()

	logger.Info().
		Int("debounce_frames", settings.DebounceFrames).
		Float64("motion_threshold", settings.MotionThreshold).
		Bool("motion_gate", gate != nil).
		Msg("pipeline starting")

	return pipe.Run(ctx, source, onDisplay)
}

// buildDetector opens the ONNX session, falling back to a detector that
// reports nothing when the model or runtime library is unavailable. The
// fallback keeps capture, privacy rendering and the preview stream alive
// on machines that have not been provisioned with a model yet.
func buildDetector(settings config.Settings, logger zerolog.Logger) (tracking.Detector, func()) {
	session, err := detect.NewSession(detect.Config{
		ModelPath:           settings.ModelPath,
		LibraryPath:         settings.OnnxLibrary,
		InputSize:           settings.InputSize,
		ConfidenceThreshold: settings.Confidence,
		NMSThreshold:        settings.NMSThreshold,
		AllowedClasses:      settings.AllowedClasses,
	}, logger)
	if err != nil {
		logger.Warn().Err(err).Msg("detector unavailable, running without inference")
		return nullDetector{}, func() {}
	}
	return session, func() { session.Close() }
}

type nullDetector struct{}

func (nullDetector) Detect(context.Context, image.Image) ([]tracking.Prediction, error) {
	return nil, nil
}

func openSource(settings config.Settings) (capture.Source, error) {
	if settings.VideoFile != "" {
		return capture.OpenFile(settings.VideoFile)
	}
	return capture.OpenDevice(settings.CameraIndex, settings.FrameWidth, settings.FrameHeight)
}

func buildSinks(settings config.Settings, logger zerolog.Logger) []push.Sink {
	var sinks []push.Sink
	if settings.APIURL != "" {
		sinks = append(sinks, push.NewHTTPSink(settings.APIURL, settings.APIKey, 10*time.Second, 3, logger))
	}
	if settings.MQTT != nil && settings.MQTT.Broker != "" {
		sink, err := push.NewMQTTSink(*settings.MQTT, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("mqtt sink unavailable")
		} else {
			sinks = append(sinks, sink)
		}
	}
	if len(sinks) == 0 {
		logger.Info().Msg("no push sinks configured, deltas accumulate until drained")
	}
	return sinks
}
