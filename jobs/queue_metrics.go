package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/sraphaz/araponga-sub002/internal/jobs"
	"github.com/sraphaz/araponga-sub002/internal/review"
)

// QueueCounter reports open work items per type.
type QueueCounter interface {
	CountOpenByType(ctx context.Context) (map[review.WorkItemType]int, error)
}

// QueueGauge receives the refreshed queue depths.
type QueueGauge interface {
	SetOpenWorkItems(itemType string, count int)
}

// QueueMetricsJob refreshes the open work item gauges from the store.
type QueueMetricsJob struct {
	Store   QueueCounter
	Gauge   QueueGauge
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewQueueMetricsJob wires dependencies for the metrics refresh handler.
func NewQueueMetricsJob(store QueueCounter, gauge QueueGauge, logger *slog.Logger, metrics *jobmetrics.Metrics) *QueueMetricsJob {
	return &QueueMetricsJob{Store: store, Gauge: gauge, Logger: logger, Metrics: metrics}
}

// Handle processes queue metrics refresh tasks.
func (j *QueueMetricsJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil || j.Gauge == nil {
		return errors.New("queue metrics: handler not configured")
	}

	tracker := j.metrics().Track(TaskReviewQueueMetrics)

	counts, err := j.Store.CountOpenByType(ctx)
	if err != nil {
		j.logger().Error("count open work items", slog.Any("error", err))
		return tracker.End(err)
	}
	// Reset types with no open items, so a drained queue reads zero.
	for _, itemType := range []review.WorkItemType{
		review.TypeIdentityVerification,
		review.TypeResidencyVerification,
		review.TypeAssetCuration,
		review.TypeModerationCase,
	} {
		j.Gauge.SetOpenWorkItems(string(itemType), counts[itemType])
	}
	return tracker.End(nil)
}

func (j *QueueMetricsJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskReviewQueueMetrics))
	}
	return slog.Default().With(slog.String("job", TaskReviewQueueMetrics))
}

func (j *QueueMetricsJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
