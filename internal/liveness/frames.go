package liveness

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

var (
	// ErrUnreadableFrame is returned when frame bytes cannot be decoded as an image.
	ErrUnreadableFrame = errors.New("unreadable frame")
	// ErrFrameSizeMismatch is returned when adjacent frames do not share dimensions.
	ErrFrameSizeMismatch = errors.New("frame size mismatch")
)

// DefaultMaxFramePixels bounds the canvas a frame header may declare.
const DefaultMaxFramePixels = 4096 * 4096

// Frame is a single-channel intensity image.
type Frame = *image.Gray

// DecodeFrame decodes a JPEG or PNG image within DefaultMaxFramePixels and
// converts it to grayscale.
func DecodeFrame(data []byte) (Frame, error) {
	return DecodeFrameLimit(data, DefaultMaxFramePixels)
}

// DecodeFrameLimit reads the image header first and refuses frames declaring more
// than maxPixels, so the canvas is never allocated. A maxPixels of zero or less
// disables the bound.
func DecodeFrameLimit(data []byte, maxPixels int) (Frame, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableFrame, err)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrUnreadableFrame, cfg.Width, cfg.Height, maxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadableFrame, err)
	}
	return ToGray(img), nil
}

// DecodeFrames decodes every frame, failing on the first unreadable one.
func DecodeFrames(data [][]byte) ([]Frame, error) {
	return DecodeFramesLimit(data, DefaultMaxFramePixels)
}

// DecodeFramesLimit is DecodeFrames with an explicit pixel bound per frame.
func DecodeFramesLimit(data [][]byte, maxPixels int) ([]Frame, error) {
	frames := make([]Frame, 0, len(data))
	for i, raw := range data {
		frame, err := DecodeFrameLimit(raw, maxPixels)
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// LoadFrames reads and decodes image files in order.
func LoadFrames(paths []string) ([]Frame, error) {
	frames := make([]Frame, 0, len(paths))
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnreadableFrame, path, err)
		}
		frame, err := DecodeFrame(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// ToGray converts any image to an 8-bit gray image anchored at the origin.
// Luma uses the ITU-R 601 weights, matching OpenCV's BGR2GRAY conversion.
func ToGray(img image.Image) Frame {
	if gray, ok := img.(*image.Gray); ok && gray.Rect.Min == (image.Point{}) {
		return gray
	}
	bounds := img.Bounds()
	gray := image.NewGray(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(gray, gray.Bounds(), img, bounds.Min, draw.Src)
	return gray
}
