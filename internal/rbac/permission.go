package rbac

import (
	"strings"
)

const wildcard = "*"

// Permission is a parsed "resource:action" string. Either half may be "*".
type Permission struct {
	Resource string
	Action   string
}

func (p Permission) String() string {
	return p.Resource + ":" + p.Action
}

// Parse splits s on the first ':'. Both halves must be non-empty.
func Parse(s string) (Permission, bool) {
	resource, action, ok := strings.Cut(s, ":")
	if !ok || resource == "" || action == "" {
		return Permission{}, false
	}
	return Permission{Resource: resource, Action: action}, true
}

// Valid reports whether s is a well-formed permission string.
func Valid(s string) bool {
	_, ok := Parse(s)
	return ok
}

// Matches reports whether the granted pattern covers the requested
// permission. Four cases, nothing else: exact, resource wildcard, action
// wildcard, full wildcard. Malformed strings on either side never match.
func Matches(granted, requested string) bool {
	g, ok := Parse(granted)
	if !ok {
		return false
	}
	r, ok := Parse(requested)
	if !ok {
		return false
	}

	switch {
	case g.Resource == r.Resource && g.Action == r.Action:
		return true
	case g.Resource == r.Resource && g.Action == wildcard:
		return true
	case g.Resource == wildcard && g.Action == r.Action:
		return true
	case g.Resource == wildcard && g.Action == wildcard:
		return true
	}
	return false
}

// Grants reports whether any pattern in set covers requested.
func Grants(set []string, requested string) bool {
	for _, p := range set {
		if Matches(p, requested) {
			return true
		}
	}
	return false
}
