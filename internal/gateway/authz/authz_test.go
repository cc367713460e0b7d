package authz

import "testing"

func testRegistry() *Registry {
	return NewRegistry([]MethodSpec{
		{Name: "ping", Access: AccessRead},
		{Name: "agents.create", Access: AccessWrite},
		{Name: "config.set", Access: AccessRead}, // prefix forces admin regardless of Access
		{Name: "node.invoke.result", Access: AccessWrite},
	}, nil)
}

func TestAuthorize_UnknownMethod(t *testing.T) {
	r := testRegistry()
	d := r.Authorize("does.not.exist", "operator", []string{"operator.admin"})
	if d.Result != ResultUnknownMethod {
		t.Fatalf("expected ResultUnknownMethod, got %v", d.Result)
	}
}

func TestAuthorize_MissingScope(t *testing.T) {
	r := testRegistry()
	d := r.Authorize("agents.create", "operator", []string{"operator.read"})
	if d.Result != ResultMissingScope || d.MissingScope != ScopeWrite {
		t.Fatalf("expected missing operator.write, got %v/%v", d.Result, d.MissingScope)
	}
}

func TestAuthorize_AdminGrantsAll(t *testing.T) {
	r := testRegistry()
	d := r.Authorize("agents.create", "operator", []string{"operator.admin"})
	if d.Result != ResultAllowed {
		t.Fatalf("expected allowed, got %v", d.Result)
	}
}

func TestAuthorize_ConfigPrefixRequiresAdminEvenWithReadScope(t *testing.T) {
	r := testRegistry()
	d := r.Authorize("config.set", "operator", []string{"operator.read"})
	if d.Result != ResultMissingScope || d.MissingScope != ScopeAdmin {
		t.Fatalf("expected missing operator.admin for config. prefix, got %v/%v", d.Result, d.MissingScope)
	}
}

func TestAuthorize_NodeRoleRestrictedToAllowlist(t *testing.T) {
	r := testRegistry()
	if d := r.Authorize("node.invoke.result", "node", nil); d.Result != ResultAllowed {
		t.Fatalf("expected node.invoke.result allowed for node role, got %v", d.Result)
	}
	if d := r.Authorize("agents.create", "node", nil); d.Result != ResultUnauthorizedRole {
		t.Fatalf("expected unauthorized-role for node calling agents.create, got %v", d.Result)
	}
}

func TestNewRegistry_DefaultsNodeAllowlistWhenEmpty(t *testing.T) {
	r := NewRegistry([]MethodSpec{{Name: "node.heartbeat", Access: AccessWrite}}, nil)
	if d := r.Authorize("node.heartbeat", "node", nil); d.Result != ResultAllowed {
		t.Fatalf("expected default node allowlist to include node.heartbeat, got %v", d.Result)
	}
}
