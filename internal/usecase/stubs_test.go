package usecase

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"testing"
	"time"

	"github.com/example/livecheck/internal/facedetect"
	"github.com/example/livecheck/internal/liveness"
	"github.com/example/livecheck/internal/repository"
	"github.com/example/livecheck/internal/retry"
)

var fastRetry = retry.Policy{Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}

type transientError struct{}

func (transientError) Error() string   { return "transient" }
func (transientError) Timeout() bool   { return true }
func (transientError) Temporary() bool { return true }

func encodeFrame(t *testing.T, size int, value uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, size, size))
	for i := range img.Pix {
		img.Pix[i] = value
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	return buf.Bytes()
}

// movingFrames changes every pixel of a 100x100 frame, well above the default threshold.
func movingFrames(t *testing.T) [][]byte {
	return [][]byte{encodeFrame(t, 100, 0), encodeFrame(t, 100, 255)}
}

func staticFrames(t *testing.T) [][]byte {
	return [][]byte{encodeFrame(t, 100, 10), encodeFrame(t, 100, 10)}
}

func livePtr(v float64) *float64 { return &v }

func liveFace() liveness.FaceAttributes {
	return liveness.FaceAttributes{
		Confidence: livePtr(99.9),
		EyesOpen:   &liveness.Attribute{Value: true, Confidence: 98},
		MouthOpen:  &liveness.Attribute{Value: false, Confidence: 97},
		Smile:      &liveness.Attribute{Value: false, Confidence: 96},
		Sunglasses: &liveness.Attribute{Value: false, Confidence: 99},
	}
}

type stubDetector struct {
	faces []liveness.FaceAttributes
	errs  []error
	refs  []facedetect.ImageRef
}

func (s *stubDetector) DetectFaces(ctx context.Context, ref facedetect.ImageRef) ([]liveness.FaceAttributes, error) {
	s.refs = append(s.refs, ref)
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return s.faces, nil
}

type stubStore struct {
	uploaded  [][]byte
	deleted   []string
	uploadErr error
	failAfter int
}

func (s *stubStore) Bucket() string { return "frames" }

func (s *stubStore) Upload(ctx context.Context, data []byte) (string, error) {
	if s.uploadErr != nil && len(s.uploaded) >= s.failAfter {
		return "", s.uploadErr
	}
	s.uploaded = append(s.uploaded, data)
	return "frame-" + string(rune('a'+len(s.uploaded)-1)) + ".png", nil
}

func (s *stubStore) Delete(ctx context.Context, keys ...string) error {
	s.deleted = append(s.deleted, keys...)
	return nil
}

type stubLocator struct {
	boxes []image.Rectangle
}

func (s *stubLocator) DetectFaces(frame liveness.Frame) ([]image.Rectangle, error) {
	return s.boxes, nil
}

type stubRepository struct {
	saved     []*repository.LivenessCheck
	saveErr   error
	findCheck *repository.LivenessCheck
	findErr   error
	findCalls int
	agg       *repository.MetricsAggregation
	recent    []*repository.LivenessCheck
	limit     int

	duplicates   []*repository.LivenessCheck
	duplicateErr error
	dupHash      string
	dupExclude   string
}

func (s *stubRepository) SaveCheck(ctx context.Context, check *repository.LivenessCheck) error {
	s.saved = append(s.saved, check)
	return s.saveErr
}

func (s *stubRepository) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.LivenessCheck, error) {
	s.findCalls++
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.findCheck != nil {
		return s.findCheck, nil
	}
	return nil, errors.New("not found")
}

func (s *stubRepository) FindRecentByUser(ctx context.Context, userID string, limit int) ([]*repository.LivenessCheck, error) {
	s.limit = limit
	return s.recent, nil
}

func (s *stubRepository) FindDuplicatesByHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*repository.LivenessCheck, error) {
	s.dupHash = hash
	s.dupExclude = excludeRequestID
	return s.duplicates, s.duplicateErr
}

func (s *stubRepository) AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error) {
	if s.agg == nil {
		return &repository.MetricsAggregation{}, nil
	}
	return s.agg, nil
}

type stubCache struct {
	setErrs   []error
	getErrs   []error
	getValues []string
	setKeys   []string
	setValues []interface{}
	getKeys   []string
}

func (s *stubCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	s.setKeys = append(s.setKeys, key)
	s.setValues = append(s.setValues, value)
	if len(s.setErrs) == 0 {
		return nil
	}
	err := s.setErrs[0]
	s.setErrs = s.setErrs[1:]
	return err
}

func (s *stubCache) Get(ctx context.Context, key string) (string, error) {
	s.getKeys = append(s.getKeys, key)
	var value string
	if len(s.getValues) > 0 {
		value = s.getValues[0]
		s.getValues = s.getValues[1:]
	}
	var err error
	if len(s.getErrs) > 0 {
		err = s.getErrs[0]
		s.getErrs = s.getErrs[1:]
	}
	return value, err
}
