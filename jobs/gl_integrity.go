package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/retailops/backoffice/internal/accounting/journals"
	jobmetrics "github.com/retailops/backoffice/internal/jobs"
)

const defaultLookbackDays = 35

type imbalanceFinder interface {
	FindImbalanced(ctx context.Context, since time.Time) ([]journals.Imbalance, error)
}

// GLIntegrityJob reports journal entries whose debits and credits disagree
// with each other or with their lines.
type GLIntegrityJob struct {
	Journals imbalanceFinder
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewGLIntegrityJob initialises the integrity scan handler.
func NewGLIntegrityJob(finder imbalanceFinder, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{
		Journals: finder,
		Logger:   logger,
		Metrics:  metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle runs one scan. Finding imbalances is reported, not failed.
func (j *GLIntegrityJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Journals == nil {
		return errors.New("gl integrity: handler not configured")
	}
	var payload GLIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	if payload.LookbackDays <= 0 {
		payload.LookbackDays = defaultLookbackDays
	}

	start := j.now()
	tracker := j.metrics().Track(TaskGLIntegrity)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.Int("lookback_days", payload.LookbackDays))
	since := start.AddDate(0, 0, -payload.LookbackDays)
	found, err := j.Journals.FindImbalanced(ctx, since)
	if err != nil {
		logger.Error("gl integrity scan failed", slog.Any("error", err))
		return err
	}
	for _, im := range found {
		logger.Error("unbalanced journal entry",
			slog.String("entry_id", im.EntryID.String()),
			slog.String("entry_no", im.EntryNo),
			slog.String("total_debit", im.TotalDebit.StringFixed(2)),
			slog.String("total_credit", im.TotalCredit.StringFixed(2)),
			slog.String("line_debit", im.LineDebit.StringFixed(2)),
			slog.String("line_credit", im.LineCredit.StringFixed(2)),
		)
	}
	j.metrics().AddAnomalies("unbalanced_journal", len(found))
	logger.Info("gl integrity scan completed",
		slog.Int("unbalanced", len(found)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (j *GLIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskGLIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskGLIntegrity))
}

func (j *GLIntegrityJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *GLIntegrityJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
