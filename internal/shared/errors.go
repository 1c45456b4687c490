package shared

import "errors"

var (
	// ErrNotFound marks a record the portal does not have.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials marks a rejected sign-in attempt.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrSessionResolving indicates the signed-in profile could not be
	// refreshed from the directory yet.
	ErrSessionResolving = errors.New("session resolving")
	// ErrCSRFTokenMissing marks a mutating request that carried no token.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch marks a token that does not match the session's.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

// GenericLoginFailure is the fallback shown when the directory reports a
// login failure without a usable message. Network trouble, bad credentials
// and upstream errors all collapse into one displayed string.
const GenericLoginFailure = "Sign in failed. Check your username and password and try again."

// UserSafeMessage converts an internal error into text safe to render.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return GenericLoginFailure
	case errors.Is(err, ErrNotFound):
		return "The requested record could not be found."
	default:
		return "Something went wrong. Try again in a moment."
	}
}
