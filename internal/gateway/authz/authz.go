// Package authz implements the scope- and role-based method authorization
// rules from SPEC_FULL.md §4.F "Authorization".
package authz

import (
	"strings"
)

// Scope is one of the authorization labels a connection's principal can
// carry.
type Scope string

const (
	ScopeAdmin     Scope = "operator.admin"
	ScopeRead      Scope = "operator.read"
	ScopeWrite     Scope = "operator.write"
	ScopeApprovals Scope = "operator.approvals"
	ScopePairing   Scope = "operator.pairing"
)

// Access classifies a method by the scope family it requires.
type Access int

const (
	AccessRead Access = iota
	AccessWrite
	AccessApprovals
	AccessPairing
	AccessAdmin
)

func (a Access) requiredScope() Scope {
	switch a {
	case AccessWrite:
		return ScopeWrite
	case AccessApprovals:
		return ScopeApprovals
	case AccessPairing:
		return ScopePairing
	case AccessAdmin:
		return ScopeAdmin
	default:
		return ScopeRead
	}
}

// MethodSpec describes one registered method's authorization requirements.
type MethodSpec struct {
	Name      string
	Access    Access
	Streaming bool
}

// Registry maps method names to their authorization requirements and to the
// node-role allowlist carved out by configuration.
type Registry struct {
	methods      map[string]MethodSpec
	nodeAllowed  map[string]struct{}
}

// NewRegistry builds a Registry from the declared methods and the
// configured node-role allowlist (SPEC_FULL.md Open Question 1:
// config.GatewayConfig.NodeMethods, defaulting to
// {"node.invoke.result","node.heartbeat"} when empty).
func NewRegistry(methods []MethodSpec, nodeMethods []string) *Registry {
	if len(nodeMethods) == 0 {
		nodeMethods = []string{"node.invoke.result", "node.heartbeat"}
	}
	r := &Registry{
		methods:     make(map[string]MethodSpec, len(methods)),
		nodeAllowed: make(map[string]struct{}, len(nodeMethods)),
	}
	for _, m := range methods {
		r.methods[m.Name] = m
	}
	for _, name := range nodeMethods {
		r.nodeAllowed[name] = struct{}{}
	}
	return r
}

// Lookup returns the spec for method, or false if it is unregistered.
func (r *Registry) Lookup(method string) (MethodSpec, bool) {
	spec, ok := r.methods[method]
	return spec, ok
}

// Authorize checks whether a principal with the given role and scopes may
// invoke method. The returned Decision's Result is ResultAllowed or one of
// three refusals: unknown method, unauthorized role, or missing scope (with
// MissingScope naming the scope that was required).
func (r *Registry) Authorize(method, role string, scopes []string) Decision {
	spec, ok := r.methods[method]
	if !ok {
		return Decision{Result: ResultUnknownMethod}
	}

	if role == "node" {
		if _, allowed := r.nodeAllowed[method]; !allowed {
			return Decision{Result: ResultUnauthorizedRole}
		}
		return Decision{Result: ResultAllowed}
	}

	if hasScope(scopes, ScopeAdmin) {
		return Decision{Result: ResultAllowed}
	}

	if isAdminOnlyPrefix(method) {
		return Decision{Result: ResultMissingScope, MissingScope: ScopeAdmin}
	}

	required := spec.Access.requiredScope()
	if hasScope(scopes, required) {
		return Decision{Result: ResultAllowed}
	}
	return Decision{Result: ResultMissingScope, MissingScope: required}
}

// isAdminOnlyPrefix reports whether method is prefixed config. or wizard.,
// which always require operator.admin regardless of the method's own
// registered access class.
func isAdminOnlyPrefix(method string) bool {
	return strings.HasPrefix(method, "config.") || strings.HasPrefix(method, "wizard.")
}

func hasScope(scopes []string, want Scope) bool {
	for _, s := range scopes {
		if Scope(s) == want {
			return true
		}
	}
	return false
}

// Result classifies the outcome of an authorization check.
type Result int

const (
	ResultAllowed Result = iota
	ResultUnknownMethod
	ResultUnauthorizedRole
	ResultMissingScope
)

// Decision is the outcome of Authorize.
type Decision struct {
	Result       Result
	MissingScope Scope
}
