// Package authz holds the portal's authorization rules. One pure predicate,
// Authorize, backs both the render-time template gates and the
// navigation-time route gates so the two can never drift apart.
package authz

import (
	"context"

	"github.com/campus-sis/campus-sis/internal/identity"
)

// Requirement describes what a piece of UI or a route demands of the
// signed-in account. The zero value demands nothing beyond authentication.
// Requirements are ephemeral; they are evaluated against the current session
// state on every request and never persisted.
type Requirement struct {
	// Roles lists the roles allowed through. Empty means any role.
	Roles []identity.Role
	// ClassAdvisor additionally demands the class-advisor capability.
	ClassAdvisor bool
	// Section, when set, additionally demands access to that section.
	Section string
}

// Authorize reports whether the profile satisfies the requirement. Checks
// short-circuit in a fixed order: presence, role, advisor capability,
// section capability.
func Authorize(p *identity.Profile, req Requirement) bool {
	if p == nil {
		return false
	}
	if len(req.Roles) > 0 && !roleAllowed(p.Role, req.Roles) {
		return false
	}
	if req.ClassAdvisor && !p.IsClassAdvisor() {
		return false
	}
	if req.Section != "" && !p.CanAccessSection(req.Section) {
		return false
	}
	return true
}

func roleAllowed(role identity.Role, allowed []identity.Role) bool {
	for _, candidate := range allowed {
		if candidate == role {
			return true
		}
	}
	return false
}

// State is the session snapshot the gates decide on. It is rebuilt on every
// request, so a change in authentication or profile is visible to the very
// next decision. User and Resolving are mutually exclusive: a state is
// either resolved (User set or nil) or still resolving with no user.
type State struct {
	// User is the refreshed directory profile, nil when signed out.
	User *identity.Profile
	// Resolving is set when a valid grant exists but the profile could not
	// be refreshed yet; gates must not decide on such a state.
	Resolving bool
}

// Authenticated reports whether a signed-in profile is present. It is
// derived from User so the two can never disagree.
func (s State) Authenticated() bool {
	return s.User != nil
}

// Outcome is the navigation-time gate decision for one request.
type Outcome int

const (
	// OutcomePending means the session is still resolving; render a wait
	// page, do not navigate, never serve the protected content.
	OutcomePending Outcome = iota
	// OutcomeSignIn means nobody is signed in; record the attempted path
	// and redirect to the login page.
	OutcomeSignIn
	// OutcomeForbidden means the account is signed in but fails the
	// requirement; redirect to the unauthorized page.
	OutcomeForbidden
	// OutcomeGranted means the protected content may be served.
	OutcomeGranted
)

// String names the outcome for logs.
func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeSignIn:
		return "sign-in"
	case OutcomeForbidden:
		return "forbidden"
	case OutcomeGranted:
		return "granted"
	default:
		return "unknown"
	}
}

// Resolve maps session state plus a requirement onto a gate outcome.
func Resolve(st State, req Requirement) Outcome {
	switch {
	case st.Resolving:
		return OutcomePending
	case !st.Authenticated():
		return OutcomeSignIn
	case !Authorize(st.User, req):
		return OutcomeForbidden
	default:
		return OutcomeGranted
	}
}

type stateContextKey struct{}

// ContextWithState stores the resolved session state in context.
func ContextWithState(ctx context.Context, st State) context.Context {
	return context.WithValue(ctx, stateContextKey{}, st)
}

// StateFromContext extracts the session state from context. A missing state
// reads as signed out.
func StateFromContext(ctx context.Context) State {
	st, _ := ctx.Value(stateContextKey{}).(State)
	return st
}

// UserFromContext is shorthand for the profile on the resolved state.
func UserFromContext(ctx context.Context) *identity.Profile {
	return StateFromContext(ctx).User
}
