package liveness

import (
	"errors"
	"fmt"
	"image"
)

// ErrDetectorUnavailable marks blink analysis that could not run. Callers treat it as
// insufficient evidence, never as a pass.
var ErrDetectorUnavailable = errors.New("eye detector unavailable")

// EyeDetector locates faces in a frame and eyes inside a face region.
type EyeDetector interface {
	DetectFaces(frame Frame) ([]image.Rectangle, error)
	DetectEyes(frame Frame, face image.Rectangle) ([]image.Rectangle, error)
}

// BlinkResult carries the per-frame eye presence signal.
type BlinkResult struct {
	Detected    bool   `json:"detected"`
	EyePresence []bool `json:"eye_presence,omitempty"`
}

// BlinkAnalyzer looks for an open/closed transition between adjacent frames.
type BlinkAnalyzer struct {
	detector EyeDetector
}

// NewBlinkAnalyzer wraps a detector. A nil detector yields an analyzer that always
// reports ErrDetectorUnavailable.
func NewBlinkAnalyzer(detector EyeDetector) *BlinkAnalyzer {
	return &BlinkAnalyzer{detector: detector}
}

// Available reports whether a detector is configured.
func (b *BlinkAnalyzer) Available() bool {
	return b != nil && b.detector != nil
}

// Analyze records eye presence per frame and reports a blink when the signal flips.
func (b *BlinkAnalyzer) Analyze(frames []Frame) (BlinkResult, error) {
	if !b.Available() {
		return BlinkResult{}, ErrDetectorUnavailable
	}

	presence := make([]bool, 0, len(frames))
	for i, frame := range frames {
		found, err := b.eyesPresent(frame)
		if err != nil {
			return BlinkResult{}, fmt.Errorf("%w: frame %d: %v", ErrDetectorUnavailable, i, err)
		}
		presence = append(presence, found)
	}

	result := BlinkResult{EyePresence: presence}
	for i := 1; i < len(presence); i++ {
		if presence[i] != presence[i-1] {
			result.Detected = true
			break
		}
	}
	return result, nil
}

func (b *BlinkAnalyzer) eyesPresent(frame Frame) (bool, error) {
	if frame == nil {
		return false, ErrUnreadableFrame
	}
	faces, err := b.detector.DetectFaces(frame)
	if err != nil {
		return false, err
	}
	for _, face := range faces {
		eyes, err := b.detector.DetectEyes(frame, face)
		if err != nil {
			return false, err
		}
		if len(eyes) > 0 {
			return true, nil
		}
	}
	return false, nil
}
