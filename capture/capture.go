// Package capture abstracts the pull-based frame source. The pipeline only
// consumes frames; capture lifecycle stays here.
package capture

import (
	"context"
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ErrNoFrame is returned when the source has no frame available, e.g. a
// finished video file or a camera glitch.
var ErrNoFrame = errors.New("no frame available")

// Source supplies frames one at a time.
type Source interface {
	// NextFrame blocks until the next frame is available or the context is
	// canceled.
	NextFrame(ctx context.Context) (image.Image, error)
	Close() error
}

// Device reads frames from a camera or video file via OpenCV.
type Device struct {
	capture *gocv.VideoCapture
	mat     gocv.Mat
}

// OpenDevice opens a camera by index and requests the given capture size.
func OpenDevice(index, width, height int) (*Device, error) {
	cap, err := gocv.VideoCaptureDevice(index)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open camera %d", index)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, errors.Errorf("camera %d did not open", index)
	}
	if width > 0 {
		cap.Set(gocv.VideoCaptureFrameWidth, float64(width))
	}
	if height > 0 {
		cap.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	return &Device{capture: cap, mat: gocv.NewMat()}, nil
}

// OpenFile opens a video file for development and replay.
func OpenFile(path string) (*Device, error) {
	cap, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open video %s", path)
	}
	return &Device{capture: cap, mat: gocv.NewMat()}, nil
}

// NextFrame reads and decodes one frame.
func (d *Device) NextFrame(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ok := d.capture.Read(&d.mat); !ok || d.mat.Empty() {
		return nil, ErrNoFrame
	}
	img, err := d.mat.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode frame")
	}
	return img, nil
}

// Close releases the capture device and the reusable frame buffer.
func (d *Device) Close() error {
	d.mat.Close()
	return d.capture.Close()
}
