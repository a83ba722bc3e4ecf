package facedetect

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"go.uber.org/zap"

	"github.com/example/livecheck/internal/liveness"
	"github.com/example/livecheck/internal/logging"
)

// RekognitionAPI is the slice of the Rekognition client used here.
type RekognitionAPI interface {
	DetectFaces(
		ctx context.Context,
		params *rekognition.DetectFacesInput,
		optFns ...func(*rekognition.Options),
	) (*rekognition.DetectFacesOutput, error)
}

// RekognitionDetector requests all face attributes from Amazon Rekognition.
type RekognitionDetector struct {
	client RekognitionAPI
	logger *zap.Logger
}

// NewRekognitionDetector wraps a Rekognition client.
func NewRekognitionDetector(client RekognitionAPI, logger *zap.Logger) *RekognitionDetector {
	return &RekognitionDetector{client: client, logger: logger.Named("rekognition")}
}

// DetectFaces analyzes a stored object when the reference names one, otherwise the inline bytes.
func (d *RekognitionDetector) DetectFaces(ctx context.Context, ref ImageRef) ([]liveness.FaceAttributes, error) {
	image := &types.Image{}
	switch {
	case ref.InStorage():
		image.S3Object = &types.S3Object{Bucket: aws.String(ref.Bucket), Name: aws.String(ref.Key)}
	case len(ref.Bytes) > 0:
		image.Bytes = ref.Bytes
	default:
		return nil, logging.NewOperationError("facedetect.detect_faces", "", ErrNoImage)
	}

	out, err := d.client.DetectFaces(ctx, &rekognition.DetectFacesInput{
		Image:      image,
		Attributes: []types.Attribute{types.AttributeAll},
	})
	if err != nil {
		wrapped := logging.NewOperationError("facedetect.detect_faces", "", err)
		d.logger.Error("rekognition call failed", zap.Error(wrapped), zap.String("object_key", ref.Key))
		return nil, wrapped
	}

	faces := make([]liveness.FaceAttributes, 0, len(out.FaceDetails))
	for _, detail := range out.FaceDetails {
		faces = append(faces, FromFaceDetail(detail))
	}
	d.logger.Debug("faces detected", zap.Int("count", len(faces)), zap.String("object_key", ref.Key))
	return faces, nil
}

// FromFaceDetail maps a Rekognition face record onto the classifier input.
func FromFaceDetail(detail types.FaceDetail) liveness.FaceAttributes {
	attrs := liveness.FaceAttributes{Confidence: float64Ptr(detail.Confidence)}
	if detail.EyesOpen != nil {
		attrs.EyesOpen = attribute(detail.EyesOpen.Value, detail.EyesOpen.Confidence)
	}
	if detail.MouthOpen != nil {
		attrs.MouthOpen = attribute(detail.MouthOpen.Value, detail.MouthOpen.Confidence)
	}
	if detail.Smile != nil {
		attrs.Smile = attribute(detail.Smile.Value, detail.Smile.Confidence)
	}
	if detail.Sunglasses != nil {
		attrs.Sunglasses = attribute(detail.Sunglasses.Value, detail.Sunglasses.Confidence)
	}
	return attrs
}

// attribute drops traits reported without a confidence; they cannot satisfy a rule.
func attribute(value bool, confidence *float32) *liveness.Attribute {
	if confidence == nil {
		return nil
	}
	return &liveness.Attribute{Value: value, Confidence: float64(*confidence)}
}

func float64Ptr(v *float32) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}
