package repository

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/example/livecheck/internal/retry"
)

// LivenessCheck represents a persisted liveness check.
type LivenessCheck struct {
	ID                  uint      `gorm:"primaryKey"`
	RequestID           string    `gorm:"column:request_id;uniqueIndex;size:64"`
	UserID              string    `gorm:"column:user_id;index;size:64"`
	IsLive              bool      `gorm:"column:is_live"`
	Confidence          *float64  `gorm:"column:confidence"`
	Reason              string    `gorm:"column:reason;size:64"`
	GatePassed          bool      `gorm:"column:gate_passed"`
	ChangedPixels       int       `gorm:"column:changed_pixels"`
	BlinkDetected       bool      `gorm:"column:blink_detected"`
	FrameCount          int       `gorm:"column:frame_count"`
	FacesDetected       int       `gorm:"column:faces_detected"`
	ObjectKey           string    `gorm:"column:object_key;size:255"`
	SHA1Hash            string    `gorm:"column:sha1_hash;index;size:40"`
	ProcessingLatencyMs int64     `gorm:"column:processing_latency_ms"`
	CreatedAt           time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (LivenessCheck) TableName() string {
	return "liveness_checks"
}

// MetricsAggregation holds raw totals over all persisted checks.
type MetricsAggregation struct {
	TotalCount                 int64
	LiveCount                  int64
	GateRejectedCount          int64
	AverageConfidence          float64
	AverageProcessingLatencyMs float64
}

// CheckRepository provides persistence APIs for liveness checks.
type CheckRepository struct {
	db             *gorm.DB
	logger         *zap.Logger
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewCheckRepository creates a new repository instance.
func NewCheckRepository(db *gorm.DB, logger *zap.Logger) *CheckRepository {
	policy := retry.DefaultPolicy()
	return &CheckRepository{
		db:             db,
		logger:         logger.Named("check_repository"),
		retryAttempts:  policy.Attempts,
		initialBackoff: policy.InitialBackoff,
		maxBackoff:     policy.MaxBackoff,
	}
}

// AutoMigrate ensures the schema is available.
func (r *CheckRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&LivenessCheck{})
}

// SaveCheck persists a liveness check entry.
func (r *CheckRepository) SaveCheck(ctx context.Context, check *LivenessCheck) error {
	return r.executeWithRetry(ctx, "repository.save_check", check.RequestID, func() error {
		return r.db.WithContext(ctx).Create(check).Error
	})
}

// FindByRequestIDAndUser retrieves a check matching the request and owner.
func (r *CheckRepository) FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*LivenessCheck, error) {
	var check LivenessCheck
	err := r.executeWithRetry(ctx, "repository.find_check", requestID, func() error {
		return r.db.WithContext(ctx).First(&check, "request_id = ? AND user_id = ?", requestID, userID).Error
	})
	if err != nil {
		return nil, err
	}
	return &check, nil
}

// FindRecentByUser lists a user's latest checks, newest first.
func (r *CheckRepository) FindRecentByUser(ctx context.Context, userID string, limit int) ([]*LivenessCheck, error) {
	var checks []*LivenessCheck
	err := r.executeWithRetry(ctx, "repository.find_recent", "", func() error {
		return r.db.WithContext(ctx).
			Where("user_id = ?", userID).
			Order("created_at DESC").
			Limit(limit).
			Find(&checks).Error
	})
	if err != nil {
		return nil, err
	}
	return checks, nil
}

// FindDuplicatesByHash lists a user's other checks whose first frame hashed to the
// same value, newest first. An empty hash matches nothing.
func (r *CheckRepository) FindDuplicatesByHash(ctx context.Context, userID, hash, excludeRequestID string) ([]*LivenessCheck, error) {
	checks := []*LivenessCheck{}
	if hash == "" {
		return checks, nil
	}
	err := r.executeWithRetry(ctx, "repository.find_duplicates", excludeRequestID, func() error {
		return r.db.WithContext(ctx).
			Where("user_id = ? AND sha1_hash = ? AND request_id <> ?", userID, hash, excludeRequestID).
			Order("created_at DESC").
			Find(&checks).Error
	})
	if err != nil {
		return nil, err
	}
	return checks, nil
}

// AggregateMetrics computes totals, live counts and averages over all checks.
func (r *CheckRepository) AggregateMetrics(ctx context.Context) (*MetricsAggregation, error) {
	var agg MetricsAggregation
	err := r.executeWithRetry(ctx, "repository.aggregate_metrics", "", func() error {
		return r.db.WithContext(ctx).Model(&LivenessCheck{}).Select(
			"COUNT(*) AS total_count, " +
				"COALESCE(SUM(CASE WHEN is_live THEN 1 ELSE 0 END), 0) AS live_count, " +
				"COALESCE(SUM(CASE WHEN gate_passed THEN 0 ELSE 1 END), 0) AS gate_rejected_count, " +
				"COALESCE(AVG(confidence), 0) AS average_confidence, " +
				"COALESCE(AVG(processing_latency_ms), 0) AS average_processing_latency_ms",
		).Scan(&agg).Error
	})
	if err != nil {
		return nil, err
	}
	return &agg, nil
}

func (r *CheckRepository) executeWithRetry(ctx context.Context, operation, requestID string, fn func() error) error {
	policy := retry.Policy{
		Attempts:       r.retryAttempts,
		InitialBackoff: r.initialBackoff,
		MaxBackoff:     r.maxBackoff,
	}
	return retry.Do(ctx, policy, r.logger, operation, requestID, fn)
}
