package auth

import (
	"net/http"
	"strings"
)

// Rule grants a path, or every path under Prefix, to Role and above.
type Rule struct {
	Path   string
	Prefix string
	Role   Role
}

func (r Rule) matches(path string) bool {
	if r.Path != "" {
		return path == r.Path
	}
	return r.Prefix != "" && strings.HasPrefix(path, r.Prefix)
}

// Operator-facing reads. Zone scoping happens in the handlers.
var defaultRules = []Rule{
	{Path: "/api/v1/greenhouses", Role: RoleViewer},
	{Prefix: "/api/v1/realtime/", Role: RoleViewer},
}

// Policy decides which requests need a token and which role they need.
type Policy struct {
	ExemptPaths    map[string]struct{}
	ExemptPrefixes []string
	Rules          []Rule
}

// NewDefaultPolicy builds the server policy with the given exemptions.
func NewDefaultPolicy(exemptPaths []string, exemptPrefixes []string) Policy {
	set := make(map[string]struct{}, len(exemptPaths))
	for _, path := range exemptPaths {
		set[path] = struct{}{}
	}
	return Policy{ExemptPaths: set, ExemptPrefixes: exemptPrefixes, Rules: defaultRules}
}

// IsExempt reports whether a request skips JWT auth entirely.
func (p Policy) IsExempt(r *http.Request) bool {
	if r == nil {
		return true
	}
	if _, ok := p.ExemptPaths[r.URL.Path]; ok {
		return true
	}
	for _, prefix := range p.ExemptPrefixes {
		if strings.HasPrefix(r.URL.Path, prefix) {
			return true
		}
	}
	return false
}

// RequiredRole resolves the role a request needs. Paths outside /api/ need
// none; other /api/ paths need viewer to read and operator to write.
func (p Policy) RequiredRole(r *http.Request) (Role, bool) {
	if r == nil {
		return "", false
	}
	path := r.URL.Path
	for _, rule := range p.Rules {
		if rule.matches(path) {
			return rule.Role, true
		}
	}
	if !strings.HasPrefix(path, "/api/") {
		return "", false
	}
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return RoleViewer, true
	default:
		return RoleOperator, true
	}
}
