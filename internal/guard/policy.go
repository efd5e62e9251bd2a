package guard

import (
	"sort"
	"strings"

	"github.com/nhle/taskdesk/internal/model"
)

// MatchMode controls how role names are compared.
type MatchMode int

const (
	// MatchExact compares names byte for byte, as stored on the server.
	MatchExact MatchMode = iota
	// MatchFold compares names case-insensitively.
	MatchFold
)

// RoleSet is an immutable set of role names.
type RoleSet struct {
	mode  MatchMode
	names map[string]struct{}
}

// NewRoleSet builds a set from names. Empty names are ignored.
func NewRoleSet(mode MatchMode, names ...string) RoleSet {
	set := RoleSet{mode: mode, names: make(map[string]struct{}, len(names))}
	for _, n := range names {
		if n == "" {
			continue
		}
		set.names[set.normalize(n)] = struct{}{}
	}
	return set
}

func (s RoleSet) normalize(name string) string {
	if s.mode == MatchFold {
		return strings.ToLower(name)
	}
	return name
}

// Empty reports whether the set has no roles.
func (s RoleSet) Empty() bool {
	return len(s.names) == 0
}

// Contains reports whether name is in the set.
func (s RoleSet) Contains(name string) bool {
	_, ok := s.names[s.normalize(name)]
	return ok
}

// Intersects reports whether any of roles is in the set.
func (s RoleSet) Intersects(roles []model.Role) bool {
	for _, r := range roles {
		if s.Contains(r.Name) {
			return true
		}
	}
	return false
}

// Names returns the (normalized) role names in sorted order.
func (s RoleSet) Names() []string {
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Policy is the access rule attached to a route.
type Policy struct {
	// Allowed lists the roles that may render the route.
	Allowed RoleSet

	// AnyAuthenticated lets every signed-in user through.
	AnyAuthenticated bool
}

// RequireRoles returns a policy admitting users with any of names.
func RequireRoles(mode MatchMode, names ...string) Policy {
	return Policy{Allowed: NewRoleSet(mode, names...)}
}

// Authenticated returns a policy admitting every signed-in user.
func Authenticated() Policy {
	return Policy{AnyAuthenticated: true}
}

// Outcome is what a guarded route should do.
type Outcome int

const (
	OutcomeRender Outcome = iota + 1
	OutcomeRedirect
	OutcomeDenied
)

func (o Outcome) String() string {
	switch o {
	case OutcomeRender:
		return "render"
	case OutcomeRedirect:
		return "redirect"
	case OutcomeDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Fallback is what to show instead of the route's content.
type Fallback int

const (
	// FallbackNone renders nothing.
	FallbackNone Fallback = iota
	// FallbackAccessDenied renders the access-denied placeholder.
	FallbackAccessDenied
)

// Decision is the result of evaluating a policy.
type Decision struct {
	Outcome  Outcome
	Target   string
	Fallback Fallback

	// Navigated is set by Guard.Evaluate when this evaluation moved the
	// router. Repeat evaluations return the same redirect without it.
	Navigated bool
}

// Targets names the routes unauthorised users are sent to.
type Targets struct {
	Login   string
	Landing string
}

// Decide applies policy to session. It has no side effects.
func Decide(session model.Session, policy Policy, targets Targets) Decision {
	if session.User == nil {
		return Decision{Outcome: OutcomeRedirect, Target: targets.Login, Fallback: FallbackNone}
	}
	if policy.AnyAuthenticated || policy.Allowed.Intersects(session.User.Roles) {
		return Decision{Outcome: OutcomeRender}
	}
	return Decision{Outcome: OutcomeRedirect, Target: targets.Landing, Fallback: FallbackAccessDenied}
}
