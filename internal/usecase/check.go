package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/livecheck/internal/liveness"
	"github.com/example/livecheck/internal/logging"
	"github.com/example/livecheck/internal/repository"
	"github.com/example/livecheck/internal/retry"
)

// ErrStillProcessing is returned by GetResult while a check has not finished.
var ErrStillProcessing = errors.New("check is still processing")

// CheckRepository defines the persistence operations needed by the service.
type CheckRepository interface {
	SaveCheck(ctx context.Context, check *repository.LivenessCheck) error
	FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.LivenessCheck, error)
	FindRecentByUser(ctx context.Context, userID string, limit int) ([]*repository.LivenessCheck, error)
	FindDuplicatesByHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*repository.LivenessCheck, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// DuplicateReport lists earlier or later checks by the same user whose first frame
// was byte-identical to the requested one.
type DuplicateReport struct {
	Request    *repository.LivenessCheck
	Duplicates []*repository.LivenessCheck
}

// maxHistory caps History regardless of the requested limit.
const maxHistory = 100

// ServiceOptions configures limits and cache lifetimes.
type ServiceOptions struct {
	MaxFrames int
	ResultTTL time.Duration
	Retry     retry.Policy
}

// CheckService runs liveness checks for authenticated users and records them.
type CheckService struct {
	pipeline *Pipeline
	repo     CheckRepository
	cache    Cache
	logger   *zap.Logger
	opts     ServiceOptions
}

type cachedCheck struct {
	RequestID     string    `json:"request_id"`
	UserID        string    `json:"user_id"`
	IsLive        bool      `json:"is_live"`
	Confidence    *float64  `json:"confidence,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	GatePassed    bool      `json:"gate_passed"`
	ChangedPixels int       `json:"changed_pixels"`
	BlinkDetected bool      `json:"blink_detected"`
	FrameCount    int       `json:"frame_count"`
	FacesDetected int       `json:"faces_detected"`
	Hash          string    `json:"sha1_hash"`
	LatencyMs     int64     `json:"processing_latency_ms"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewCheckService constructs a new service instance.
func NewCheckService(pipeline *Pipeline, repo CheckRepository, cache Cache, logger *zap.Logger, opts ServiceOptions) *CheckService {
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = 5 * time.Minute
	}
	return &CheckService{
		pipeline: pipeline,
		repo:     repo,
		cache:    cache,
		logger:   logger.Named("check_service"),
		opts:     opts,
	}
}

// Check runs the full pipeline, persists the outcome and caches it for GetResult.
func (s *CheckService) Check(ctx context.Context, userID string, frames [][]byte) (*Outcome, error) {
	if err := s.checkFrameCount(frames); err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	opLogger := logging.WithOperation(s.logger, "usecase.check", requestID)

	cacheKey := resultCacheKey(requestID)
	if err := retry.Do(ctx, s.opts.Retry, s.logger, "cache.set.processing", requestID, func() error {
		return s.cache.Set(ctx, cacheKey, processingMarker, time.Minute)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return nil, err
	}

	outcome, err := s.pipeline.Run(ctx, requestID, frames)
	if err != nil {
		opLogger.Error("liveness pipeline failed", logging.ErrorFields(err)...)
		return nil, err
	}

	check := &repository.LivenessCheck{
		RequestID:           requestID,
		UserID:              userID,
		IsLive:              outcome.Verdict.IsLive,
		Confidence:          outcome.Verdict.Confidence,
		Reason:              outcome.Verdict.Reason,
		GatePassed:          outcome.Gate.Passed,
		ChangedPixels:       outcome.Gate.Motion.ChangedPixels,
		BlinkDetected:       outcome.Gate.Blink != nil && outcome.Gate.Blink.Detected,
		FrameCount:          outcome.FrameCount,
		FacesDetected:       outcome.FacesDetected,
		ObjectKey:           outcome.ObjectKey,
		SHA1Hash:            outcome.FrameHash,
		ProcessingLatencyMs: outcome.Latency.Milliseconds(),
		CreatedAt:           time.Now().UTC(),
	}
	if err := s.repo.SaveCheck(ctx, check); err != nil {
		wrapped := logging.NewOperationError("usecase.save_check", requestID, err)
		opLogger.Error("failed to persist liveness check", logging.ErrorFields(wrapped)...)
		return nil, wrapped
	}

	serialized, err := json.Marshal(toCached(check))
	if err != nil {
		opLogger.Error("failed to serialize liveness check", zap.Error(err))
		return nil, err
	}
	if err := retry.Do(ctx, s.opts.Retry, s.logger, "cache.set.result", requestID, func() error {
		return s.cache.Set(ctx, cacheKey, string(serialized), s.opts.ResultTTL)
	}); err != nil {
		// The check is already persisted, GetResult falls back to the database.
		opLogger.Warn("failed to cache liveness check", zap.Error(err))
	}

	return outcome, nil
}

// GetResult returns a cached check or loads it from persistence.
func (s *CheckService) GetResult(ctx context.Context, userID, requestID string) (*repository.LivenessCheck, error) {
	opLogger := logging.WithOperation(s.logger, "usecase.get_result", requestID)

	var cached string
	err := retry.Do(ctx, s.opts.Retry, s.logger, "cache.get.result", requestID, func() error {
		value, err := s.cache.Get(ctx, resultCacheKey(requestID))
		if err != nil {
			return err
		}
		cached = value
		return nil
	})
	switch {
	case err == nil && cached == processingMarker:
		return nil, ErrStillProcessing
	case err == nil:
		var payload cachedCheck
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			opLogger.Warn("failed to decode cached result", zap.Error(err))
		} else if payload.UserID == userID {
			return payload.toCheck(), nil
		}
	case !errors.Is(err, redis.Nil):
		opLogger.Warn("failed to read cache", zap.Error(err))
	}

	return s.repo.FindByRequestIDAndUser(ctx, requestID, userID)
}

// GetDuplicateReport looks up a check and every other check of the same user that
// submitted the same first frame.
func (s *CheckService) GetDuplicateReport(ctx context.Context, userID, requestID string) (*DuplicateReport, error) {
	check, err := s.GetResult(ctx, userID, requestID)
	if err != nil {
		return nil, err
	}

	duplicates, err := s.repo.FindDuplicatesByHash(ctx, userID, check.SHA1Hash, check.RequestID)
	if err != nil {
		return nil, err
	}
	if len(duplicates) > 0 {
		logging.WithOperation(s.logger, "usecase.duplicate_report", requestID).Info("repeated frame submission",
			zap.Int("duplicates", len(duplicates)),
		)
	}

	return &DuplicateReport{
		Request:    check,
		Duplicates: duplicates,
	}, nil
}

// History lists the caller's latest checks, newest first.
func (s *CheckService) History(ctx context.Context, userID string, limit int) ([]*repository.LivenessCheck, error) {
	if limit <= 0 || limit > maxHistory {
		limit = maxHistory
	}
	return s.repo.FindRecentByUser(ctx, userID, limit)
}

// AnalyzeMovement reports frame differencing for a sequence without any external call.
func (s *CheckService) AnalyzeMovement(ctx context.Context, frames [][]byte) (liveness.MotionResult, error) {
	if err := s.checkFrameCount(frames); err != nil {
		return liveness.MotionResult{}, err
	}
	return s.pipeline.AnalyzeMovement(frames)
}

// DetectFaces returns face boxes found by the local detector.
func (s *CheckService) DetectFaces(ctx context.Context, data []byte) ([]image.Rectangle, error) {
	return s.pipeline.DetectLocalFaces(data)
}

// Classify applies the attribute rules to a single face record.
func (s *CheckService) Classify(ctx context.Context, attrs liveness.FaceAttributes) liveness.Verdict {
	return s.pipeline.Classify(attrs)
}

func (s *CheckService) checkFrameCount(frames [][]byte) error {
	if len(frames) == 0 {
		return ErrNoFrames
	}
	if s.opts.MaxFrames > 0 && len(frames) > s.opts.MaxFrames {
		return fmt.Errorf("%w: got %d, limit %d", ErrTooManyFrames, len(frames), s.opts.MaxFrames)
	}
	return nil
}

func toCached(check *repository.LivenessCheck) cachedCheck {
	return cachedCheck{
		RequestID:     check.RequestID,
		UserID:        check.UserID,
		IsLive:        check.IsLive,
		Confidence:    check.Confidence,
		Reason:        check.Reason,
		GatePassed:    check.GatePassed,
		ChangedPixels: check.ChangedPixels,
		BlinkDetected: check.BlinkDetected,
		FrameCount:    check.FrameCount,
		FacesDetected: check.FacesDetected,
		Hash:          check.SHA1Hash,
		LatencyMs:     check.ProcessingLatencyMs,
		CreatedAt:     check.CreatedAt,
	}
}

func (c cachedCheck) toCheck() *repository.LivenessCheck {
	return &repository.LivenessCheck{
		RequestID:           c.RequestID,
		UserID:              c.UserID,
		IsLive:              c.IsLive,
		Confidence:          c.Confidence,
		Reason:              c.Reason,
		GatePassed:          c.GatePassed,
		ChangedPixels:       c.ChangedPixels,
		BlinkDetected:       c.BlinkDetected,
		FrameCount:          c.FrameCount,
		FacesDetected:       c.FacesDetected,
		SHA1Hash:            c.Hash,
		ProcessingLatencyMs: c.LatencyMs,
		CreatedAt:           c.CreatedAt,
	}
}
