// Package capture grabs frame sequences from a local webcam.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"
)

// ErrReadFailed is returned when the device stops delivering frames.
var ErrReadFailed = errors.New("could not capture image from webcam")

// Options controls a capture run.
type Options struct {
	Device       int
	Frames       int
	Delay        time.Duration
	InitialDelay time.Duration
	// OnFrame is called after each frame is encoded.
	OnFrame func(index int)
}

// Webcam captures JPEG-encoded frames from a video device.
type Webcam struct {
	opts Options
}

// NewWebcam builds a capturer.
func NewWebcam(opts Options) *Webcam {
	return &Webcam{opts: opts}
}

// Capture waits the initial delay, then reads Frames frames spaced by Delay.
func (w *Webcam) Capture(ctx context.Context) ([][]byte, error) {
	cam, err := gocv.OpenVideoCapture(w.opts.Device)
	if err != nil {
		return nil, fmt.Errorf("error opening video device %d: %w", w.opts.Device, err)
	}
	defer cam.Close()

	if err := sleep(ctx, w.opts.InitialDelay); err != nil {
		return nil, err
	}

	mat := gocv.NewMat()
	defer mat.Close()

	frames := make([][]byte, 0, w.opts.Frames)
	for i := 0; i < w.opts.Frames; i++ {
		if ok := cam.Read(&mat); !ok || mat.Empty() {
			return nil, ErrReadFailed
		}
		encoded, err := encodeJPEG(mat)
		if err != nil {
			return nil, err
		}
		frames = append(frames, encoded)
		if w.opts.OnFrame != nil {
			w.opts.OnFrame(i)
		}
		if i < w.opts.Frames-1 {
			if err := sleep(ctx, w.opts.Delay); err != nil {
				return nil, err
			}
		}
	}
	return frames, nil
}

// Probe opens the device and reads a single frame, returning its size.
func (w *Webcam) Probe() (image.Point, error) {
	cam, err := gocv.OpenVideoCapture(w.opts.Device)
	if err != nil {
		return image.Point{}, fmt.Errorf("could not open webcam: %w", err)
	}
	defer cam.Close()
	if !cam.IsOpened() {
		return image.Point{}, errors.New("could not open webcam")
	}

	mat := gocv.NewMat()
	defer mat.Close()
	if ok := cam.Read(&mat); !ok || mat.Empty() {
		return image.Point{}, ErrReadFailed
	}
	return image.Point{X: mat.Cols(), Y: mat.Rows()}, nil
}

func encodeJPEG(mat gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("error encoding frame: %w", err)
	}
	defer buf.Close()

	data := buf.GetBytes()
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
