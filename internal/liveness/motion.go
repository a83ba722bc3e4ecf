package liveness

import (
	"fmt"
	"strings"
)

// Aggregate selects how per-pair changed-pixel counts combine.
type Aggregate string

const (
	AggregateSum Aggregate = "sum"
	AggregateMax Aggregate = "max"
)

// ParseAggregate accepts "sum" or "max" in any case.
func ParseAggregate(value string) (Aggregate, error) {
	switch Aggregate(strings.ToLower(strings.TrimSpace(value))) {
	case AggregateSum:
		return AggregateSum, nil
	case AggregateMax:
		return AggregateMax, nil
	default:
		return "", fmt.Errorf("unknown motion aggregate %q", value)
	}
}

// MotionConfig tunes frame differencing.
type MotionConfig struct {
	Threshold int       `mapstructure:"threshold"`
	Aggregate Aggregate `mapstructure:"aggregate"`
}

// DefaultMotionConfig sums changed pixels over all pairs against 5000.
func DefaultMotionConfig() MotionConfig {
	return MotionConfig{Threshold: 5000, Aggregate: AggregateSum}
}

// MotionResult reports the aggregated change and whether it clears the threshold.
type MotionResult struct {
	Sufficient    bool  `json:"sufficient"`
	ChangedPixels int   `json:"changed_pixels"`
	PairCounts    []int `json:"pair_counts,omitempty"`
}

// MotionAnalyzer detects static input by counting pixels that change between frames.
type MotionAnalyzer struct {
	cfg MotionConfig
}

// NewMotionAnalyzer builds an analyzer. An empty aggregate falls back to sum.
func NewMotionAnalyzer(cfg MotionConfig) *MotionAnalyzer {
	if cfg.Aggregate == "" {
		cfg.Aggregate = AggregateSum
	}
	return &MotionAnalyzer{cfg: cfg}
}

// Analyze compares each adjacent pair of frames. Fewer than two frames cannot
// show motion and are reported as insufficient without an error.
func (m *MotionAnalyzer) Analyze(frames []Frame) (MotionResult, error) {
	if len(frames) < 2 {
		return MotionResult{}, nil
	}

	counts := make([]int, 0, len(frames)-1)
	total := 0
	for i := 0; i < len(frames)-1; i++ {
		count, err := ChangedPixels(frames[i], frames[i+1])
		if err != nil {
			return MotionResult{}, fmt.Errorf("frames %d and %d: %w", i, i+1, err)
		}
		counts = append(counts, count)
		switch m.cfg.Aggregate {
		case AggregateMax:
			if count > total {
				total = count
			}
		default:
			total += count
		}
	}

	return MotionResult{
		Sufficient:    total > m.cfg.Threshold,
		ChangedPixels: total,
		PairCounts:    counts,
	}, nil
}

// ChangedPixels counts positions where the absolute intensity difference is non-zero.
func ChangedPixels(a, b Frame) (int, error) {
	if a == nil || b == nil {
		return 0, ErrUnreadableFrame
	}
	if a.Rect.Dx() != b.Rect.Dx() || a.Rect.Dy() != b.Rect.Dy() {
		return 0, fmt.Errorf("%w: %v vs %v", ErrFrameSizeMismatch, a.Rect.Size(), b.Rect.Size())
	}

	width, height := a.Rect.Dx(), a.Rect.Dy()
	changed := 0
	for y := 0; y < height; y++ {
		rowA := a.Pix[y*a.Stride : y*a.Stride+width]
		rowB := b.Pix[y*b.Stride : y*b.Stride+width]
		for x := range rowA {
			if rowA[x] != rowB[x] {
				changed++
			}
		}
	}
	return changed, nil
}
