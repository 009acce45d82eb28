// Package config loads and persists pipeline settings from a JSON file.
package config

import (
	"encoding/json"
	"image"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/shelfsight/edge-vision/detect"
	"github.com/shelfsight/edge-vision/privacy"
	"github.com/shelfsight/edge-vision/push"
)

// Settings holds every tunable for the edge pipeline. Zero values are
// filled in by Default; Load applies file values on top of the defaults.
type Settings struct {
	MachineID string `json:"machine_id"`

	CameraIndex int    `json:"camera_index"`
	VideoFile   string `json:"video_file,omitempty"`
	FrameWidth  int    `json:"frame_width"`
	FrameHeight int    `json:"frame_height"`

	ModelPath     string  `json:"model_path"`
	OnnxLibrary   string  `json:"onnx_library,omitempty"`
	InputSize     int     `json:"input_size"`
	Confidence    float32 `json:"confidence"`
	NMSThreshold  float32 `json:"nms_threshold"`
	ProcessEveryN int     `json:"process_every_n"`

	AllowedClasses []string `json:"allowed_classes"`

	MotionThreshold float64 `json:"motion_threshold"`
	CooldownFrames  int     `json:"cooldown_frames"`

	DebounceFrames int `json:"debounce_frames"`

	BlurRadius int             `json:"blur_radius"`
	Region     *privacy.Region `json:"region,omitempty"`

	APIURL               string `json:"api_url,omitempty"`
	APIKey               string `json:"api_key,omitempty"`
	BatchIntervalSeconds int    `json:"batch_interval_seconds"`

	MQTT *push.MQTTConfig `json:"mqtt,omitempty"`

	PreviewAddr string `json:"preview_addr"`
}

// Default returns settings matching a single-camera vending deployment.
func Default() Settings {
	dc := detect.DefaultConfig()
	return Settings{
		MachineID:            "machine-001",
		CameraIndex:          0,
		FrameWidth:           1280,
		FrameHeight:          720,
		ModelPath:            "models/yolov8n.onnx",
		InputSize:            dc.InputSize,
		Confidence:           dc.ConfidenceThreshold,
		NMSThreshold:         dc.NMSThreshold,
		ProcessEveryN:        3,
		AllowedClasses:       dc.AllowedClasses,
		MotionThreshold:      0.02,
		CooldownFrames:       30,
		DebounceFrames:       30,
		BlurRadius:           12,
		BatchIntervalSeconds: 30,
		PreviewAddr:          ":8090",
	}
}

// Load reads path into a Settings value layered over Default. A missing
// file is not an error, the defaults are returned as-is.
func Load(path string) (Settings, error) {
	s := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return s, errors.Wrapf(err, "failed to read config %s", path)
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, errors.Wrapf(err, "failed to parse config %s", path)
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// Save writes the settings to path as indented JSON.
func (s Settings) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode config")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write config %s", path)
	}
	return nil
}

// Validate rejects settings that would misconfigure the pipeline.
func (s Settings) Validate() error {
	if s.MachineID == "" {
		return errors.New("machine_id must not be empty")
	}
	if s.MotionThreshold < 0 || s.MotionThreshold > 1 {
		return errors.Errorf("motion_threshold %f outside [0, 1]", s.MotionThreshold)
	}
	if s.DebounceFrames < 1 {
		return errors.Errorf("debounce_frames must be at least 1, got %d", s.DebounceFrames)
	}
	if s.ProcessEveryN < 1 {
		return errors.Errorf("process_every_n must be at least 1, got %d", s.ProcessEveryN)
	}
	if s.InputSize <= 0 || s.InputSize%32 != 0 {
		return errors.Errorf("input_size must be a positive multiple of 32, got %d", s.InputSize)
	}
	if s.BatchIntervalSeconds < 1 {
		return errors.Errorf("batch_interval_seconds must be at least 1, got %d", s.BatchIntervalSeconds)
	}
	if s.Region != nil {
		bounds := image.Rect(0, 0, s.FrameWidth, s.FrameHeight)
		if err := s.Region.Validate(bounds); err != nil {
			return errors.Wrap(err, "invalid region")
		}
	}
	return nil
}

// BatchInterval returns the push cadence as a duration.
func (s Settings) BatchInterval() time.Duration {
	return time.Duration(s.BatchIntervalSeconds) * time.Second
}
