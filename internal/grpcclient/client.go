// Package grpcclient talks to a remote face analysis service over gRPC.
package grpcclient

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"

	"github.com/example/livecheck/internal/facedetect"
	"github.com/example/livecheck/internal/liveness"
	"github.com/example/livecheck/internal/logging"
)

// DetectFacesMethod is the full method name served by the analyzer.
const DetectFacesMethod = "/livecheck.FaceAnalyzer/DetectFaces"

// DetectFacesRequest is the analyzer request payload.
type DetectFacesRequest struct {
	Bucket    string `json:"bucket,omitempty"`
	Key       string `json:"key,omitempty"`
	ImageData []byte `json:"image_data,omitempty"`
}

// DetectFacesResponse lists one attribute record per detected face.
type DetectFacesResponse struct {
	FaceDetails []liveness.FaceAttributes `json:"FaceDetails"`
}

// Codec returns the codec the analyzer speaks. Servers register it with grpc.ForceServerCodec.
func Codec() encoding.Codec {
	return jsonCodec{}
}

// DialFaceAnalyzer returns a ready-to-use detector backed by the remote analyzer.
func DialFaceAnalyzer(ctx context.Context, addr string, logger *zap.Logger, opts ...grpc.DialOption) (facedetect.Detector, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
		grpc.WithBlock(),
	}, opts...)

	conn, err := grpc.DialContext(dialCtx, addr, dialOpts...)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_face_analyzer", "", err)
		logger.Error("failed to dial face analyzer", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return &FaceAnalyzer{conn: conn, logger: logger.Named("face_analyzer")}, conn, nil
}

// FaceAnalyzer implements facedetect.Detector over a gRPC connection.
type FaceAnalyzer struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

// NewFaceAnalyzer wraps an existing connection.
func NewFaceAnalyzer(conn grpc.ClientConnInterface, logger *zap.Logger) *FaceAnalyzer {
	return &FaceAnalyzer{conn: conn, logger: logger.Named("face_analyzer")}
}

// DetectFaces forwards the reference; inline bytes are only sent when no object is named.
func (g *FaceAnalyzer) DetectFaces(ctx context.Context, ref facedetect.ImageRef) ([]liveness.FaceAttributes, error) {
	req := &DetectFacesRequest{}
	switch {
	case ref.InStorage():
		req.Bucket, req.Key = ref.Bucket, ref.Key
	case len(ref.Bytes) > 0:
		req.ImageData = ref.Bytes
	default:
		return nil, logging.NewOperationError("grpcclient.detect_faces", "", facedetect.ErrNoImage)
	}

	resp := &DetectFacesResponse{}
	if err := g.conn.Invoke(ctx, DetectFacesMethod, req, resp, grpc.ForceCodec(jsonCodec{})); err != nil {
		wrapped := logging.NewOperationError("grpcclient.detect_faces", "", err)
		g.logger.Error("face analyzer call failed", zap.Error(wrapped), zap.String("object_key", ref.Key))
		return nil, wrapped
	}
	return resp.FaceDetails, nil
}
