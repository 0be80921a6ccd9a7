package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/sraphaz/araponga-sub002/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Escalator opens moderation cases for report targets that are due.
type Escalator interface {
	EscalateDue(ctx context.Context) (int, error)
}

// EscalateSweepJob runs the moderation escalation sweep behind the
// synchronous escalation on report filing.
type EscalateSweepJob struct {
	Moderation Escalator
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewEscalateSweepJob wires dependencies for the sweep handler.
func NewEscalateSweepJob(moderation Escalator, logger *slog.Logger, metrics *jobmetrics.Metrics) *EscalateSweepJob {
	return &EscalateSweepJob{Moderation: moderation, Logger: logger, Metrics: metrics}
}

// Handle processes escalation sweep tasks.
func (j *EscalateSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Moderation == nil {
		return errors.New("escalate sweep: handler not configured")
	}

	tracker := j.metrics().Track(TaskModerationEscalateSweep)
	logger := j.logger()
	start := time.Now()

	opened, err := j.Moderation.EscalateDue(ctx)
	if err != nil {
		logger.Error("escalation sweep", slog.Any("error", err))
		return tracker.End(err)
	}
	j.metrics().AddCasesOpened("sweep", opened)
	logger.Info("completed escalation sweep", slog.Int("opened", opened), slog.Duration("duration", time.Since(start)))
	return tracker.End(nil)
}

func (j *EscalateSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskModerationEscalateSweep))
	}
	return slog.Default().With(slog.String("job", TaskModerationEscalateSweep))
}

func (j *EscalateSweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
