package usecase

import "context"

// MetricsSummary represents aggregated liveness insights.
type MetricsSummary struct {
	TotalChecks                int64   `json:"total_checks"`
	LiveChecks                 int64   `json:"live_checks"`
	LiveRate                   float64 `json:"live_rate"`
	GateRejectedChecks         int64   `json:"gate_rejected_checks"`
	AverageConfidence          float64 `json:"average_confidence"`
	AverageProcessingLatencyMs float64 `json:"average_processing_latency_ms"`
}

// GetMetricsSummary aggregates metrics from persisted checks.
func (s *CheckService) GetMetricsSummary(ctx context.Context) (*MetricsSummary, error) {
	aggregation, err := s.repo.AggregateMetrics(ctx)
	if err != nil {
		return nil, err
	}

	summary := &MetricsSummary{
		TotalChecks:                aggregation.TotalCount,
		LiveChecks:                 aggregation.LiveCount,
		GateRejectedChecks:         aggregation.GateRejectedCount,
		AverageConfidence:          aggregation.AverageConfidence,
		AverageProcessingLatencyMs: aggregation.AverageProcessingLatencyMs,
	}

	if aggregation.TotalCount > 0 {
		summary.LiveRate = float64(aggregation.LiveCount) / float64(aggregation.TotalCount)
	}

	return summary, nil
}
