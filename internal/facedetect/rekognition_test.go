package facedetect

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/example/livecheck/internal/liveness"
	"github.com/example/livecheck/internal/logging"
)

type stubRekognition struct {
	input *rekognition.DetectFacesInput
	out   *rekognition.DetectFacesOutput
	err   error
}

func (s *stubRekognition) DetectFaces(ctx context.Context, params *rekognition.DetectFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error) {
	s.input = params
	if s.err != nil {
		return nil, s.err
	}
	return s.out, nil
}

func liveDetail() types.FaceDetail {
	return types.FaceDetail{
		Confidence: aws.Float32(99.5),
		EyesOpen:   &types.EyeOpen{Value: true, Confidence: aws.Float32(95)},
		MouthOpen:  &types.MouthOpen{Value: false, Confidence: aws.Float32(95)},
		Smile:      &types.Smile{Value: false, Confidence: aws.Float32(95)},
		Sunglasses: &types.Sunglasses{Value: false, Confidence: aws.Float32(95)},
	}
}

func TestDetectFacesUsesStoredObject(t *testing.T) {
	stub := &stubRekognition{out: &rekognition.DetectFacesOutput{FaceDetails: []types.FaceDetail{liveDetail()}}}
	detector := NewRekognitionDetector(stub, zap.NewNop())

	faces, err := detector.DetectFaces(context.Background(), ImageRef{Bucket: "frames", Key: "a.jpg", Bytes: []byte("ignored")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(faces) != 1 {
		t.Fatalf("expected one face, got %d", len(faces))
	}
	if stub.input.Image.S3Object == nil || aws.ToString(stub.input.Image.S3Object.Name) != "a.jpg" {
		t.Fatalf("expected S3 object reference, got %+v", stub.input.Image)
	}
	if stub.input.Image.Bytes != nil {
		t.Fatal("bytes should not be sent when the object is stored")
	}
	if len(stub.input.Attributes) != 1 || stub.input.Attributes[0] != types.AttributeAll {
		t.Fatalf("expected ALL attributes, got %v", stub.input.Attributes)
	}

	verdict := liveness.NewClassifier(liveness.DefaultRules()).Classify(faces[0])
	if !verdict.IsLive {
		t.Fatalf("expected mapped face to be live, got %+v", verdict)
	}
}

func TestDetectFacesFallsBackToBytes(t *testing.T) {
	stub := &stubRekognition{out: &rekognition.DetectFacesOutput{}}
	detector := NewRekognitionDetector(stub, zap.NewNop())

	faces, err := detector.DetectFaces(context.Background(), ImageRef{Bytes: []byte{1, 2, 3}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(faces) != 0 {
		t.Fatalf("expected no faces, got %d", len(faces))
	}
	if len(stub.input.Image.Bytes) != 3 || stub.input.Image.S3Object != nil {
		t.Fatalf("expected inline bytes, got %+v", stub.input.Image)
	}
}

func TestDetectFacesWrapsErrors(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	detector := NewRekognitionDetector(&stubRekognition{err: errors.New("throttled")}, zap.New(core))

	_, err := detector.DetectFaces(context.Background(), ImageRef{Bucket: "b", Key: "frames/k.png"})
	var opErr *logging.OperationError
	if !errors.As(err, &opErr) || opErr.Operation != "facedetect.detect_faces" {
		t.Fatalf("expected OperationError, got %v", err)
	}
	if opErr.RequestID != "" {
		t.Fatalf("object key must not be reported as a request id, got %q", opErr.RequestID)
	}
	entries := logs.FilterField(zap.String("object_key", "frames/k.png")).All()
	if len(entries) != 1 {
		t.Fatalf("expected one error log carrying the object key, got %d", len(entries))
	}

	if _, err := detector.DetectFaces(context.Background(), ImageRef{}); !errors.Is(err, ErrNoImage) {
		t.Fatalf("expected ErrNoImage, got %v", err)
	}
}

func TestFromFaceDetailKeepsMissingFieldsNil(t *testing.T) {
	attrs := FromFaceDetail(types.FaceDetail{
		EyesOpen: &types.EyeOpen{Value: true},
		Smile:    &types.Smile{Value: false, Confidence: aws.Float32(92)},
	})
	if attrs.Confidence != nil || attrs.EyesOpen != nil || attrs.MouthOpen != nil || attrs.Sunglasses != nil {
		t.Fatalf("expected missing fields to stay nil, got %+v", attrs)
	}
	if attrs.Smile == nil || attrs.Smile.Confidence != 92 {
		t.Fatalf("unexpected smile %+v", attrs.Smile)
	}
}
