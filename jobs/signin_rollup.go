package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/campus-sis/campus-sis/internal/jobs"
)

const (
	// TaskSigninRollup schedules the nightly sign-in aggregation.
	TaskSigninRollup = "signin:rollup"
)

// SigninRollupPayload selects the day to aggregate. An empty day means the
// previous UTC day. RetainDays bounds how long raw events are kept once
// their day is rolled up.
type SigninRollupPayload struct {
	Day        string `json:"day,omitempty"`
	RetainDays int    `json:"retain_days"`
}

// NewSigninRollupTask constructs an Asynq task. day uses the 2006-01-02
// layout; leave it empty to roll up yesterday.
func NewSigninRollupTask(day string, retainDays int) (*asynq.Task, error) {
	data, err := json.Marshal(SigninRollupPayload{Day: day, RetainDays: retainDays})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSigninRollup, data), nil
}

// SigninStore is the slice of auth persistence the rollup job needs.
type SigninStore interface {
	RollupSignins(ctx context.Context, day time.Time, retain time.Duration) (rolled, pruned int64, err error)
}

// SigninRollupJob folds raw sign-in events into per-role daily counts.
type SigninRollupJob struct {
	Store   SigninStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewSigninRollupJob initialises the rollup handler.
func NewSigninRollupJob(store SigninStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *SigninRollupJob {
	return &SigninRollupJob{
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the rollup.
func (j *SigninRollupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("signin rollup: handler not configured")
	}
	var payload SigninRollupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RetainDays <= 0 {
		payload.RetainDays = 90
	}

	start := j.now()
	day := start.AddDate(0, 0, -1)
	if payload.Day != "" {
		parsed, err := time.Parse("2006-01-02", payload.Day)
		if err != nil {
			return asynq.SkipRetry
		}
		day = parsed
	}

	tracker := j.metrics().Track(TaskSigninRollup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if j.Store == nil {
		resultErr = errors.New("signin rollup: store not configured")
		return resultErr
	}

	logger := j.logger().With(slog.String("day", day.Format("2006-01-02")))
	logger.Info("starting signin rollup")

	retain := time.Duration(payload.RetainDays) * 24 * time.Hour
	rolled, pruned, err := j.Store.RollupSignins(ctx, day, retain)
	if err != nil {
		resultErr = err
		logger.Error("rollup failed", slog.Any("error", err))
		return resultErr
	}

	logger.Info("completed signin rollup",
		slog.Int64("roles", rolled),
		slog.Int64("pruned_events", pruned),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *SigninRollupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSigninRollup))
	}
	return slog.Default().With(slog.String("job", TaskSigninRollup))
}

func (j *SigninRollupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SigninRollupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
