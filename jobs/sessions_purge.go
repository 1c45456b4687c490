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

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

const (
	// TaskSessionsPurge schedules removal of expired session audit rows.
	TaskSessionsPurge = "sessions:purge"
)

// SessionsPurgePayload configures the purge job. Grace keeps freshly expired
// sessions around long enough for a straggling logout to still find its row.
type SessionsPurgePayload struct {
	GraceMinutes int `json:"grace_minutes"`
}

// NewSessionsPurgeTask constructs an Asynq task.
func NewSessionsPurgeTask(graceMinutes int) (*asynq.Task, error) {
	data, err := json.Marshal(SessionsPurgePayload{GraceMinutes: graceMinutes})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSessionsPurge, data), nil
}

// SessionStore is the slice of auth persistence the purge job needs.
type SessionStore interface {
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
}

// SessionsPurgeJob deletes audit rows for sessions past their expiry. The
// live cookie sessions in Redis expire on their own; this keeps the Postgres
// mirror from growing without bound.
type SessionsPurgeJob struct {
	Store   SessionStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewSessionsPurgeJob initialises the purge handler.
func NewSessionsPurgeJob(store SessionStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *SessionsPurgeJob {
	return &SessionsPurgeJob{
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the purge.
func (j *SessionsPurgeJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("sessions purge: handler not configured")
	}
	var payload SessionsPurgePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.GraceMinutes <= 0 {
		payload.GraceMinutes = 60
	}

	tracker := j.metrics().Track(TaskSessionsPurge)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	if j.Store == nil {
		resultErr = errors.New("sessions purge: store not configured")
		return resultErr
	}

	start := j.now()
	before := start.Add(-time.Duration(payload.GraceMinutes) * time.Minute)
	logger := j.logger().With(slog.Int("grace_minutes", payload.GraceMinutes))
	logger.Info("starting sessions purge")

	removed, err := j.Store.DeleteExpiredSessions(ctx, before)
	if err != nil {
		resultErr = err
		logger.Error("purge failed", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddReaped("expired", removed)

	logger.Info("completed sessions purge",
		slog.Int64("removed", removed),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *SessionsPurgeJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSessionsPurge))
	}
	return slog.Default().With(slog.String("job", TaskSessionsPurge))
}

func (j *SessionsPurgeJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *SessionsPurgeJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
