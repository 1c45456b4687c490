package auth

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campus-sis/campus-sis/internal/platform/db"
)

// Repository defines persistence operations for the auth module. Everything
// here is audit and reporting data; losing it never locks anyone out.
type Repository interface {
	CreateSession(ctx context.Context, id, userID string, expiresAt time.Time, ip, ua string) error
	DeleteSession(ctx context.Context, id string) error
	RecordSignin(ctx context.Context, event SigninEvent) error
	SigninStats(ctx context.Context, now time.Time) (SigninStats, error)
	RecentSignins(ctx context.Context, limit int) ([]SigninEvent, error)
	RecentRollups(ctx context.Context, limit int) ([]RollupRow, error)
	DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error)
	RollupSignins(ctx context.Context, day time.Time, retain time.Duration) (rolled, pruned int64, err error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateSession persists session metadata for auditing.
func (r *PGRepository) CreateSession(ctx context.Context, id, userID string, expiresAt time.Time, ip, ua string) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO auth_sessions (id, user_id, created_at, expires_at, ip, ua)
VALUES ($1,$2,NOW(),$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, ip=EXCLUDED.ip, ua=EXCLUDED.ua`,
		id, userID, expiresAt.UTC(), nullString(ip), nullString(ua))
	return err
}

// DeleteSession removes a session record.
func (r *PGRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM auth_sessions WHERE id=$1`, id)
	return err
}

// RecordSignin appends one sign-in event.
func (r *PGRepository) RecordSignin(ctx context.Context, event SigninEvent) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO signin_events (user_id, username, role, session_id, ip, ua, at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		event.UserID, event.Username, event.Role, event.SessionID, nullString(event.IP), nullString(event.UserAgent), event.At.UTC())
	return err
}

// SigninStats counts sign-ins since midnight and over the trailing week.
func (r *PGRepository) SigninStats(ctx context.Context, now time.Time) (SigninStats, error) {
	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	weekStart := now.Add(-7 * 24 * time.Hour)

	var stats SigninStats
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FILTER (WHERE at >= $1), COUNT(*) FILTER (WHERE at >= $2)
FROM signin_events`, dayStart, weekStart).Scan(&stats.Today, &stats.ThisWeek)
	if err != nil {
		return SigninStats{}, err
	}
	return stats, nil
}

// RecentSignins returns the latest sign-in events, newest first.
func (r *PGRepository) RecentSignins(ctx context.Context, limit int) ([]SigninEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `SELECT user_id, username, role, session_id, COALESCE(ip,''), COALESCE(ua,''), at
FROM signin_events ORDER BY at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []SigninEvent
	for rows.Next() {
		var event SigninEvent
		if err := rows.Scan(&event.UserID, &event.Username, &event.Role, &event.SessionID, &event.IP, &event.UserAgent, &event.At); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// RecentRollups returns the latest daily aggregates, newest first.
func (r *PGRepository) RecentRollups(ctx context.Context, limit int) ([]RollupRow, error) {
	if limit <= 0 {
		limit = 21
	}
	rows, err := r.pool.Query(ctx, `SELECT day, role, signins
FROM signin_rollups ORDER BY day DESC, role LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rollups []RollupRow
	for rows.Next() {
		var row RollupRow
		if err := rows.Scan(&row.Day, &row.Role, &row.Count); err != nil {
			return nil, err
		}
		rollups = append(rollups, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rollups, nil
}

// DeleteExpiredSessions prunes audit rows for sessions past their expiry.
func (r *PGRepository) DeleteExpiredSessions(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM auth_sessions WHERE expires_at < $1`, before.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RollupSignins aggregates one day of sign-in events per role, then prunes
// raw events older than retain. Both statements share one transaction so raw
// events are only dropped once their day has been aggregated. Re-running a
// day overwrites the previous aggregate, so the rollup job is retryable.
func (r *PGRepository) RollupSignins(ctx context.Context, day time.Time, retain time.Duration) (rolled, pruned int64, err error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	cutoff := start.Add(-retain)
	err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `INSERT INTO signin_rollups (day, role, signins)
SELECT $1::date, role, COUNT(*) FROM signin_events
WHERE at >= $1 AND at < $1 + INTERVAL '1 day'
GROUP BY role
ON CONFLICT (day, role) DO UPDATE SET signins=EXCLUDED.signins`, start)
		if err != nil {
			return err
		}
		rolled = tag.RowsAffected()
		if retain <= 0 {
			return nil
		}
		tag, err = tx.Exec(ctx, `DELETE FROM signin_events WHERE at < $1`, cutoff)
		if err != nil {
			return err
		}
		pruned = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return rolled, pruned, nil
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

var _ Repository = (*PGRepository)(nil)
