package shared

import "context"

type sessionContextKey struct{}

// ContextWithSession attaches the request's session.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext returns the session the session middleware loaded, or
// nil on requests that bypassed it.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}
