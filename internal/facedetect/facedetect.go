// Package facedetect defines the external face analysis contract and its
// Rekognition implementation.
package facedetect

import (
	"context"
	"errors"

	"github.com/example/livecheck/internal/liveness"
)

// ErrNoImage is returned when an ImageRef carries neither an object nor bytes.
var ErrNoImage = errors.New("image reference is empty")

// ImageRef points at an image either in object storage or inline.
type ImageRef struct {
	Bucket string
	Key    string
	Bytes  []byte
}

// InStorage reports whether the reference names a stored object.
func (r ImageRef) InStorage() bool {
	return r.Bucket != "" && r.Key != ""
}

// Detector exposes the subset of face analysis used by the liveness flow.
type Detector interface {
	DetectFaces(ctx context.Context, ref ImageRef) ([]liveness.FaceAttributes, error)
}
