// Package detect runs ONNX object detection. It is the model half of the
// tracking capability: raw per-frame predictions that the tracker layers
// identities on.
package detect

import (
	"context"
	"image"
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/shelfsight/edge-vision/tracking"
)

// Session is an ONNX Runtime inference session producing predictions for the
// tracker. It implements tracking.Detector.
type Session struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	config       Config
	allowed      map[string]bool
	log          zerolog.Logger
}

// sharedLibPath returns the ONNX Runtime shared library for the current
// platform unless the config overrides it.
func sharedLibPath(override string) string {
	if override != "" {
		return override
	}
	switch runtime.GOOS {
	case "darwin":
		return "/opt/shelfsight/lib/libonnxruntime.dylib"
	case "windows":
		return "C:\\shelfsight\\lib\\onnxruntime.dll"
	default:
		if runtime.GOARCH == "arm64" {
			return "/opt/shelfsight/lib/libonnxruntime_arm64.so"
		}
		return "/opt/shelfsight/lib/libonnxruntime.so"
	}
}

// NewSession loads the model and prepares reusable input/output tensors.
//
// The ONNX Runtime environment is initialized on first use; the shared
// library must exist at the configured (or platform default) path.
func NewSession(config Config, logger zerolog.Logger) (*Session, error) {
	if config.InputSize <= 0 {
		config.InputSize = 640
	}

	libPath := sharedLibPath(config.LibraryPath)
	if _, err := os.Stat(libPath); os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "ONNX Runtime library not found at %s", libPath)
	}
	if _, err := os.Stat(config.ModelPath); err != nil {
		return nil, errors.Wrapf(err, "model not found at %s", config.ModelPath)
	}

	if !ort.IsInitialized() {
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, errors.Wrap(err, "error initializing ORT environment")
		}
	}

	size := int64(config.InputSize)
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}

	cells := int64(outputCells(config.InputSize))
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(NumClasses()+4), cells))
	if err != nil {
		inputTensor.Destroy()
		return nil, errors.Wrap(err, "error creating output tensor")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, errors.Wrap(err, "error creating ORT session options")
	}
	defer options.Destroy()
	options.SetIntraOpNumThreads(4)
	options.SetInterOpNumThreads(2)
	options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended)

	session, err := ort.NewAdvancedSession(
		config.ModelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, errors.Wrap(err, "error creating ORT session")
	}

	var allowed map[string]bool
	if len(config.AllowedClasses) > 0 {
		allowed = make(map[string]bool, len(config.AllowedClasses))
		for _, name := range config.AllowedClasses {
			allowed[name] = true
		}
	}

	logger = logger.With().Str("component", "detector").Logger()
	logger.Info().
		Str("model", config.ModelPath).
		Int("input_size", config.InputSize).
		Float32("confidence", config.ConfidenceThreshold).
		Msg("ONNX session ready")

	return &Session{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		config:       config,
		allowed:      allowed,
		log:          logger,
	}, nil
}

// Detect runs inference on one frame and returns filtered, NMS-suppressed
// predictions in frame pixel coordinates. The session serializes concurrent
// callers; the pipeline only ever calls it from the frame loop.
func (s *Session) Detect(ctx context.Context, frame image.Image) ([]tracking.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := prepareInput(frame, s.inputTensor, s.config.InputSize); err != nil {
		return nil, errors.Wrap(err, "failed to prepare input")
	}
	if err := s.session.Run(); err != nil {
		return nil, errors.Wrap(err, "inference failed")
	}

	bounds := frame.Bounds()
	predictions := decodeOutput(
		s.outputTensor.GetData(),
		s.config.InputSize,
		bounds.Dx(), bounds.Dy(),
		s.config.ConfidenceThreshold,
	)
	predictions = filterClasses(predictions, s.allowed)
	return applyNMS(predictions, s.config.NMSThreshold), nil
}

// Close releases the ORT session and tensors.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	if s.inputTensor != nil {
		s.inputTensor.Destroy()
		s.inputTensor = nil
	}
	if s.outputTensor != nil {
		s.outputTensor.Destroy()
		s.outputTensor = nil
	}
	return nil
}
