package authn

import (
	"crypto/ed25519"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openclaw/core/internal/config"
	"github.com/openclaw/core/internal/coreerr"
)

func TestTryLocalBypass(t *testing.T) {
	a := New(config.GatewayAuthConfig{AllowLocalBypass: true}, NewDeviceRegistry(t.TempDir()+"/devices.json"))

	p, err := a.Authenticate(ConnInfo{RemoteAddr: "127.0.0.1:5555", Host: "localhost:18789"}, nonceFixture(t), HandshakeAuth{})
	if err != nil {
		t.Fatalf("expected local bypass to succeed: %v", err)
	}
	if p.Role != "operator" || !hasScope(p.Scopes, "operator.admin") {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func TestTryLocalBypass_RejectsNonLoopback(t *testing.T) {
	a := New(config.GatewayAuthConfig{AllowLocalBypass: true}, NewDeviceRegistry(t.TempDir()+"/devices.json"))
	_, err := a.Authenticate(ConnInfo{RemoteAddr: "10.0.0.5:5555", Host: "localhost:18789"}, nonceFixture(t), HandshakeAuth{})
	if err == nil {
		t.Fatal("expected non-loopback peer to be rejected")
	}
}

func TestTryLocalBypass_RejectsUntrustedForwardedFor(t *testing.T) {
	a := New(config.GatewayAuthConfig{AllowLocalBypass: true}, NewDeviceRegistry(t.TempDir()+"/devices.json"))
	conn := ConnInfo{RemoteAddr: "127.0.0.1:5555", Host: "localhost:18789", ForwardedFor: "1.2.3.4"}
	if _, err := a.Authenticate(conn, nonceFixture(t), HandshakeAuth{}); err == nil {
		t.Fatal("expected forwarded-for from an untrusted peer to be rejected")
	}
}

func TestTryTailscaleProxy(t *testing.T) {
	a := New(config.GatewayAuthConfig{TailscaleProxy: true}, NewDeviceRegistry(t.TempDir()+"/devices.json"))
	conn := ConnInfo{TailscaleProxyTrusted: true, TailscaleUserHeader: "alice@example.com"}
	p, err := a.Authenticate(conn, nonceFixture(t), HandshakeAuth{})
	if err != nil {
		t.Fatalf("expected tailscale proxy auth to succeed: %v", err)
	}
	if p.ID != "alice@example.com" {
		t.Fatalf("unexpected principal id: %q", p.ID)
	}
}

func TestTryToken_ConstantTimeMatch(t *testing.T) {
	a := New(config.GatewayAuthConfig{Token: "s3cr3t"}, NewDeviceRegistry(t.TempDir()+"/devices.json"))
	if _, err := a.Authenticate(ConnInfo{}, nonceFixture(t), HandshakeAuth{Token: "wrong"}); err == nil {
		t.Fatal("expected wrong token to be rejected")
	}
	p, err := a.Authenticate(ConnInfo{}, nonceFixture(t), HandshakeAuth{Token: "s3cr3t"})
	if err != nil {
		t.Fatalf("expected correct token to succeed: %v", err)
	}
	if p.Mode != ModeToken {
		t.Fatalf("unexpected mode: %v", p.Mode)
	}
}

func TestTryPassword(t *testing.T) {
	a := New(config.GatewayAuthConfig{Password: "hunter2"}, NewDeviceRegistry(t.TempDir()+"/devices.json"))
	if _, err := a.Authenticate(ConnInfo{}, nonceFixture(t), HandshakeAuth{Password: "nope"}); err == nil {
		t.Fatal("expected wrong password to be rejected")
	}
	if _, err := a.Authenticate(ConnInfo{}, nonceFixture(t), HandshakeAuth{Password: "hunter2"}); err != nil {
		t.Fatalf("expected correct password to succeed: %v", err)
	}
}

func TestTryDeviceIdentity_ValidSignature(t *testing.T) {
	dir := t.TempDir()
	registry := NewDeviceRegistry(filepath.Join(dir, "devices.json"))
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	if err := registry.Register("dev-1", "operator", []string{"operator.admin"}, pub, 1000); err != nil {
		t.Fatalf("Register: %v", err)
	}

	nonce := nonceFixture(t)
	now := time.Now()
	signedAtMs := now.UnixMilli()
	token := base64.StdEncoding.EncodeToString(nonce)
	payload, err := MarshalSigningPayload("dev-1", "client-1", "operator", []string{"operator.admin"}, signedAtMs, token)
	if err != nil {
		t.Fatalf("MarshalSigningPayload: %v", err)
	}
	sig := ed25519.Sign(priv, payload)

	a := New(config.GatewayAuthConfig{}, registry)
	a.now = func() time.Time { return now }

	p, err := a.Authenticate(ConnInfo{}, nonce, HandshakeAuth{Device: &DeviceAuth{
		DeviceID:     "dev-1",
		ClientID:     "client-1",
		Role:         "operator",
		Scopes:       []string{"operator.admin"},
		SignedAtMs:   signedAtMs,
		Token:        token,
		SignatureB64: base64.StdEncoding.EncodeToString(sig),
	}})
	if err != nil {
		t.Fatalf("expected valid device signature to authenticate: %v", err)
	}
	if p.ID != "dev-1" || p.Mode != ModeDeviceIdentity {
		t.Fatalf("unexpected principal: %+v", p)
	}
}

func TestTryDeviceIdentity_RejectsSignatureOutsideTimeWindow(t *testing.T) {
	dir := t.TempDir()
	registry := NewDeviceRegistry(filepath.Join(dir, "devices.json"))
	pub, priv, _ := ed25519.GenerateKey(nil)
	_ = registry.Register("dev-1", "operator", nil, pub, 1000)

	nonce := nonceFixture(t)
	now := time.Now()
	staleSignedAtMs := now.Add(-10 * time.Minute).UnixMilli()
	token := base64.StdEncoding.EncodeToString(nonce)
	payload, _ := MarshalSigningPayload("dev-1", "client-1", "operator", nil, staleSignedAtMs, token)
	sig := ed25519.Sign(priv, payload)

	a := New(config.GatewayAuthConfig{}, registry)
	a.now = func() time.Time { return now }

	_, err := a.Authenticate(ConnInfo{}, nonce, HandshakeAuth{Device: &DeviceAuth{
		DeviceID:     "dev-1",
		ClientID:     "client-1",
		Role:         "operator",
		SignedAtMs:   staleSignedAtMs,
		Token:        token,
		SignatureB64: base64.StdEncoding.EncodeToString(sig),
	}})
	if err == nil {
		t.Fatal("expected stale signedAtMs to be rejected")
	}
	if coreerr.CodeOf(err) != coreerr.CodeUnauthorized {
		t.Fatalf("expected CodeUnauthorized, got %v", coreerr.CodeOf(err))
	}
}

func TestTryDeviceIdentity_RejectsWrongToken(t *testing.T) {
	dir := t.TempDir()
	registry := NewDeviceRegistry(filepath.Join(dir, "devices.json"))
	pub, priv, _ := ed25519.GenerateKey(nil)
	_ = registry.Register("dev-1", "operator", nil, pub, 1000)

	now := time.Now()
	signedAtMs := now.UnixMilli()
	payload, _ := MarshalSigningPayload("dev-1", "client-1", "operator", nil, signedAtMs, "not-the-nonce")
	sig := ed25519.Sign(priv, payload)

	a := New(config.GatewayAuthConfig{}, registry)
	a.now = func() time.Time { return now }

	_, err := a.Authenticate(ConnInfo{}, nonceFixture(t), HandshakeAuth{Device: &DeviceAuth{
		DeviceID:     "dev-1",
		ClientID:     "client-1",
		Role:         "operator",
		SignedAtMs:   signedAtMs,
		Token:        "not-the-nonce",
		SignatureB64: base64.StdEncoding.EncodeToString(sig),
	}})
	if err == nil {
		t.Fatal("expected a token mismatched against the challenge nonce to be rejected")
	}
}

func TestDeviceRegistry_PersistsAcrossLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.json")
	registry := NewDeviceRegistry(path)
	pub, _, _ := ed25519.GenerateKey(nil)
	if err := registry.Register("dev-2", "node", []string{"operator.read"}, pub, 42); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected registry file to be written: %v", err)
	}

	reloaded := NewDeviceRegistry(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	d, ok := reloaded.Lookup("dev-2")
	if !ok {
		t.Fatal("expected dev-2 to survive reload")
	}
	if d.Role != "node" {
		t.Fatalf("unexpected role after reload: %q", d.Role)
	}
}

func nonceFixture(t *testing.T) []byte {
	t.Helper()
	nonce, err := NewChallengeNonce()
	if err != nil {
		t.Fatalf("NewChallengeNonce: %v", err)
	}
	return nonce
}

func hasScope(scopes []string, want string) bool {
	for _, s := range scopes {
		if s == want {
			return true
		}
	}
	return false
}
