package usecase

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"

	"github.com/example/livecheck/internal/facedetect"
	"github.com/example/livecheck/internal/liveness"
	"github.com/example/livecheck/internal/logging"
	"github.com/example/livecheck/internal/retry"
)

var (
	// ErrNoFrames is returned when a check is started without frames.
	ErrNoFrames = errors.New("at least one frame is required")
	// ErrTooManyFrames is returned when a check exceeds the configured frame limit.
	ErrTooManyFrames = errors.New("too many frames")
	// ErrFaceLocatorUnavailable is returned when local face detection is not configured.
	ErrFaceLocatorUnavailable = errors.New("local face detection is not configured")
)

// FrameStore keeps uploaded frames for the external detector.
type FrameStore interface {
	Bucket() string
	Upload(ctx context.Context, data []byte) (string, error)
	Delete(ctx context.Context, keys ...string) error
}

// FaceLocator finds face boxes locally, without the external service.
type FaceLocator interface {
	DetectFaces(frame liveness.Frame) ([]image.Rectangle, error)
}

// PipelineDeps wires the collaborators of a Pipeline. Store and Faces are optional:
// without a store the first frame is sent inline to the detector.
type PipelineDeps struct {
	Policy     liveness.Policy
	Motion     *liveness.MotionAnalyzer
	Blink      *liveness.BlinkAnalyzer
	Classifier *liveness.Classifier
	Detector   facedetect.Detector
	Store      FrameStore
	Faces      FaceLocator
}

// PipelineOptions tunes cleanup and retries around the external calls. A zero
// MaxFramePixels falls back to liveness.DefaultMaxFramePixels.
type PipelineOptions struct {
	CleanupAfterCheck bool
	Retry             retry.Policy
	MaxFramePixels    int
}

// Outcome is the result of running a frame sequence through the pipeline.
type Outcome struct {
	RequestID     string              `json:"request_id"`
	Verdict       liveness.Verdict    `json:"verdict"`
	Gate          liveness.GateResult `json:"gate"`
	FrameCount    int                 `json:"frame_count"`
	FacesDetected int                 `json:"faces_detected"`
	ObjectKey     string              `json:"object_key,omitempty"`
	FrameHash     string              `json:"sha1_hash"`
	Latency       time.Duration       `json:"-"`
}

// Pipeline gates frames, uploads them, asks the detector for attributes and classifies.
type Pipeline struct {
	gate       *liveness.Gate
	motion     *liveness.MotionAnalyzer
	classifier *liveness.Classifier
	detector   facedetect.Detector
	store      FrameStore
	faces      FaceLocator
	opts       PipelineOptions
	logger     *zap.Logger
}

// NewPipeline assembles a pipeline.
func NewPipeline(deps PipelineDeps, opts PipelineOptions, logger *zap.Logger) *Pipeline {
	if deps.Motion == nil {
		deps.Motion = liveness.NewMotionAnalyzer(liveness.DefaultMotionConfig())
	}
	if deps.Classifier == nil {
		deps.Classifier = liveness.NewClassifier(liveness.DefaultRules())
	}
	if opts.MaxFramePixels <= 0 {
		opts.MaxFramePixels = liveness.DefaultMaxFramePixels
	}
	return &Pipeline{
		gate:       liveness.NewGate(deps.Policy, deps.Motion, deps.Blink),
		motion:     deps.Motion,
		classifier: deps.Classifier,
		detector:   deps.Detector,
		store:      deps.Store,
		faces:      deps.Faces,
		opts:       opts,
		logger:     logger.Named("pipeline"),
	}
}

// Run processes one check. Gate rejections return an outcome, not an error, and
// skip every external call.
func (p *Pipeline) Run(ctx context.Context, requestID string, frames [][]byte) (*Outcome, error) {
	started := time.Now()
	opLogger := logging.WithOperation(p.logger, "pipeline.run", requestID)

	if len(frames) == 0 {
		return nil, logging.NewOperationError("pipeline.decode_frames", requestID, ErrNoFrames)
	}
	decoded, err := liveness.DecodeFramesLimit(frames, p.opts.MaxFramePixels)
	if err != nil {
		return nil, logging.NewOperationError("pipeline.decode_frames", requestID, err)
	}

	hash := sha1.Sum(frames[0])
	outcome := &Outcome{
		RequestID:  requestID,
		FrameCount: len(frames),
		FrameHash:  hex.EncodeToString(hash[:]),
	}

	gate, err := p.gate.Evaluate(decoded)
	if err != nil {
		return nil, logging.NewOperationError("pipeline.evaluate_gate", requestID, err)
	}
	outcome.Gate = gate
	if !gate.Passed {
		opLogger.Info("temporal gate rejected frames",
			zap.String("policy", string(gate.Policy)),
			zap.Int("changed_pixels", gate.Motion.ChangedPixels),
			zap.String("blink_error", gate.BlinkError),
		)
		outcome.Verdict = liveness.Verdict{Reason: liveness.ReasonTemporalGate}
		outcome.Latency = time.Since(started)
		return outcome, nil
	}

	if p.detector == nil {
		return nil, logging.NewOperationError("pipeline.detect_faces", requestID, errors.New("face detector is not configured"))
	}

	ref := facedetect.ImageRef{Bytes: frames[0]}
	if p.store != nil {
		keys, err := p.upload(ctx, requestID, frames)
		if err != nil {
			return nil, err
		}
		if p.opts.CleanupAfterCheck {
			defer p.cleanup(ctx, requestID, keys)
		}
		ref.Bucket, ref.Key = p.store.Bucket(), keys[0]
		outcome.ObjectKey = keys[0]
	}

	var faces []liveness.FaceAttributes
	err = retry.Do(ctx, p.opts.Retry, p.logger, "pipeline.detect_faces", requestID, func() error {
		detected, err := p.detector.DetectFaces(ctx, ref)
		if err != nil {
			return err
		}
		faces = detected
		return nil
	})
	if err != nil {
		return nil, err
	}

	outcome.FacesDetected = len(faces)
	outcome.Verdict = p.classifier.ClassifyAny(faces)
	outcome.Latency = time.Since(started)
	opLogger.Info("liveness check complete",
		zap.Bool("is_live", outcome.Verdict.IsLive),
		zap.String("reason", outcome.Verdict.Reason),
		zap.Int("faces", len(faces)),
		zap.Duration("latency", outcome.Latency),
	)
	return outcome, nil
}

// AnalyzeMovement runs frame differencing alone.
func (p *Pipeline) AnalyzeMovement(frames [][]byte) (liveness.MotionResult, error) {
	decoded, err := liveness.DecodeFramesLimit(frames, p.opts.MaxFramePixels)
	if err != nil {
		return liveness.MotionResult{}, err
	}
	return p.motion.Analyze(decoded)
}

// EvaluateGate runs the temporal gate without any external call.
func (p *Pipeline) EvaluateGate(frames [][]byte) (liveness.GateResult, error) {
	decoded, err := liveness.DecodeFramesLimit(frames, p.opts.MaxFramePixels)
	if err != nil {
		return liveness.GateResult{}, err
	}
	return p.gate.Evaluate(decoded)
}

// DetectLocalFaces returns face boxes found by the local cascade.
func (p *Pipeline) DetectLocalFaces(data []byte) ([]image.Rectangle, error) {
	if p.faces == nil {
		return nil, ErrFaceLocatorUnavailable
	}
	frame, err := liveness.DecodeFrameLimit(data, p.opts.MaxFramePixels)
	if err != nil {
		return nil, err
	}
	return p.faces.DetectFaces(frame)
}

// Classify exposes the attribute classifier.
func (p *Pipeline) Classify(attrs liveness.FaceAttributes) liveness.Verdict {
	return p.classifier.Classify(attrs)
}

func (p *Pipeline) upload(ctx context.Context, requestID string, frames [][]byte) ([]string, error) {
	keys := make([]string, 0, len(frames))
	for i, frame := range frames {
		var key string
		err := retry.Do(ctx, p.opts.Retry, p.logger, "pipeline.upload_frame", requestID, func() error {
			uploaded, err := p.store.Upload(ctx, frame)
			if err != nil {
				return err
			}
			key = uploaded
			return nil
		})
		if err != nil {
			p.cleanup(ctx, requestID, keys)
			return nil, fmt.Errorf("frame %d: %w", i, err)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (p *Pipeline) cleanup(ctx context.Context, requestID string, keys []string) {
	if len(keys) == 0 {
		return
	}
	if err := p.store.Delete(context.WithoutCancel(ctx), keys...); err != nil {
		logging.WithOperation(p.logger, "pipeline.cleanup", requestID).Warn("failed to remove uploaded frames", zap.Error(err))
	}
}
