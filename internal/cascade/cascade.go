// Package cascade locates faces and eyes with OpenCV Haar cascades.
package cascade

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/example/livecheck/internal/liveness"
)

// Params mirrors the detectMultiScale tuning knobs.
type Params struct {
	ScaleFactor  float64
	MinNeighbors int
	MinFaceSize  image.Point
}

// DefaultParams are the usual frontal face settings: scale 1.1, four neighbours.
func DefaultParams() Params {
	return Params{ScaleFactor: 1.1, MinNeighbors: 4}
}

// Detector holds a face cascade and an optional eye cascade. Cascade classifiers
// are not safe for concurrent use, so calls are serialized.
type Detector struct {
	mu     sync.Mutex
	face   gocv.CascadeClassifier
	eye    *gocv.CascadeClassifier
	params Params
}

// New loads the face cascade and, when eyePath is not empty, the eye cascade.
func New(facePath, eyePath string, params Params) (*Detector, error) {
	face := gocv.NewCascadeClassifier()
	if !face.Load(facePath) {
		face.Close()
		return nil, fmt.Errorf("error loading face cascade %s", facePath)
	}

	d := &Detector{face: face, params: params}
	if eyePath != "" {
		eye := gocv.NewCascadeClassifier()
		if !eye.Load(eyePath) {
			eye.Close()
			face.Close()
			return nil, fmt.Errorf("error loading eye cascade %s", eyePath)
		}
		d.eye = &eye
	}
	return d, nil
}

// Close releases the native classifiers.
func (d *Detector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.eye != nil {
		d.eye.Close()
		d.eye = nil
	}
	return d.face.Close()
}

// DetectFaces returns face bounding boxes in frame coordinates.
func (d *Detector) DetectFaces(frame liveness.Frame) ([]image.Rectangle, error) {
	mat, err := gocv.ImageGrayToMatGray(frame)
	if err != nil {
		return nil, fmt.Errorf("error converting frame: %w", err)
	}
	defer mat.Close()

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.face.DetectMultiScaleWithParams(mat, d.params.ScaleFactor, d.params.MinNeighbors, 0, d.params.MinFaceSize, image.Point{}), nil
}

// DetectEyes searches for eyes inside face and returns boxes in frame coordinates.
func (d *Detector) DetectEyes(frame liveness.Frame, face image.Rectangle) ([]image.Rectangle, error) {
	if d.eye == nil {
		return nil, liveness.ErrDetectorUnavailable
	}
	face = face.Intersect(frame.Rect)
	if face.Empty() {
		return nil, nil
	}

	mat, err := gocv.ImageGrayToMatGray(frame)
	if err != nil {
		return nil, fmt.Errorf("error converting frame: %w", err)
	}
	defer mat.Close()

	local := face.Sub(frame.Rect.Min)
	region := mat.Region(local)
	defer region.Close()

	d.mu.Lock()
	eyes := d.eye.DetectMultiScale(region)
	d.mu.Unlock()

	for i := range eyes {
		eyes[i] = eyes[i].Add(face.Min)
	}
	return eyes, nil
}
