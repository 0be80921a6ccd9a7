package jobs

import (
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskModerationEscalateSweep opens moderation cases for report
	// targets that crossed the threshold without one.
	TaskModerationEscalateSweep = "moderation:escalate_sweep"
	// TaskReviewQueueMetrics refreshes the open work item gauges.
	TaskReviewQueueMetrics = "review:queue_metrics"
)

// NewEscalateSweepTask constructs the moderation sweep task.
func NewEscalateSweepTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskModerationEscalateSweep, nil), nil
}

// NewQueueMetricsTask constructs the queue metrics refresh task.
func NewQueueMetricsTask() (*asynq.Task, error) {
	return asynq.NewTask(TaskReviewQueueMetrics, nil), nil
}
