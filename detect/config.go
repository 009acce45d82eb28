package detect

// Config holds the ONNX detector settings.
type Config struct {
	// ModelPath is the YOLO ONNX model file.
	ModelPath string `json:"model_path"`
	// LibraryPath overrides the ONNX Runtime shared library location.
	// Empty selects a platform default.
	LibraryPath string `json:"library_path,omitempty"`
	// InputSize is the square model input edge in pixels.
	InputSize int `json:"input_size"`
	// ConfidenceThreshold filters detections below this score.
	ConfidenceThreshold float32 `json:"confidence_threshold"`
	// NMSThreshold is the IoU above which overlapping same-class boxes are
	// suppressed.
	NMSThreshold float32 `json:"nms_threshold"`
	// AllowedClasses restricts output to these labels; empty means all.
	AllowedClasses []string `json:"allowed_classes"`
}

// DefaultConfig returns a detector configuration tuned for shelf inventory.
func DefaultConfig() Config {
	return Config{
		InputSize:           640,
		ConfidenceThreshold: 0.4,
		NMSThreshold:        0.7,
		AllowedClasses:      FoodClasses,
	}
}
