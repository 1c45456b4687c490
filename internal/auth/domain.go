package auth

import "time"

// Session slots the portal keeps next to the cookie session. The grant token
// and the cached profile are the only account state stored on our side; the
// auth service remains the source of truth.
const (
	sessionKeyGrant       = "grant_token"
	sessionKeyProfile     = "profile_json"
	sessionKeyRefreshedAt = "profile_refreshed_at"
)

// SigninEvent is one successful sign-in, kept for the dashboard activity
// feed and the nightly rollups.
type SigninEvent struct {
	UserID    string
	Username  string
	Role      string
	SessionID string
	IP        string
	UserAgent string
	At        time.Time
}

// SigninStats aggregates sign-in counts for the dashboard.
type SigninStats struct {
	Today    int64
	ThisWeek int64
}

// RollupRow is one day of sign-ins for one role.
type RollupRow struct {
	Day   time.Time
	Role  string
	Count int64
}
