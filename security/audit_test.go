package security

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func newTestAuditor(enabled bool) (*Auditor, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	return NewAuditor(logger, enabled), &buf
}

func TestAuditor_HashesUserID(t *testing.T) {
	auditor, buf := newTestAuditor(true)

	auditor.LogTokenIssued("user-secret-id", "hub_client", "203.0.113.5", "openid email")

	out := buf.String()
	if out == "" {
		t.Fatal("enabled auditor produced no output")
	}
	if strings.Contains(out, "user-secret-id") {
		t.Error("raw user ID leaked into audit log")
	}
	if !strings.Contains(out, hashForLogging("user-secret-id")) {
		t.Error("audit log missing hashed user ID")
	}
	if !strings.Contains(out, EventTokenIssued) {
		t.Errorf("audit log missing event type %q", EventTokenIssued)
	}
	if !strings.Contains(out, "hub_client") {
		t.Error("audit log missing client ID")
	}
}

func TestAuditor_DisabledProducesNothing(t *testing.T) {
	auditor, buf := newTestAuditor(false)

	auditor.LogTokenIssued("user-1", "hub_client", "203.0.113.5", "openid")
	auditor.LogAuthFailure("user-1", "hub_client", "203.0.113.5", "bad secret")
	auditor.LogCodeReuse("user-1", "hub_client", "203.0.113.5")

	if buf.Len() != 0 {
		t.Errorf("disabled auditor wrote output: %s", buf.String())
	}
}

func TestAuditor_EventTypes(t *testing.T) {
	tests := []struct {
		name string
		log  func(a *Auditor)
		want string
	}{
		{"code issued", func(a *Auditor) { a.LogCodeIssued("u", "c", "ip", "openid") }, EventCodeIssued},
		{"token refreshed", func(a *Auditor) { a.LogTokenRefreshed("u", "c", "ip") }, EventTokenRefreshed},
		{"token revoked", func(a *Auditor) { a.LogTokenRevoked("u", "c", "ip", "refresh_token") }, EventTokenRevoked},
		{"auth failure", func(a *Auditor) { a.LogAuthFailure("u", "c", "ip", "bad secret") }, EventAuthFailure},
		{"access denied", func(a *Auditor) { a.LogAccessDenied("u", "c", "ip") }, EventAccessDenied},
		{"code reuse", func(a *Auditor) { a.LogCodeReuse("u", "c", "ip") }, EventCodeReuseDetected},
		{"rate limited", func(a *Auditor) { a.LogRateLimitExceeded("ip", "u") }, EventRateLimitExceeded},
		{"client registered", func(a *Auditor) { a.LogClientRegistered("c", "ip") }, EventClientRegistered},
		{"grant changed", func(a *Auditor) { a.LogGrantChanged("c", "user", "created") }, EventGrantChanged},
		{"user provisioned", func(a *Auditor) { a.LogUserProvisioned("u", true) }, EventUserProvisioned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auditor, buf := newTestAuditor(true)
			tt.log(auditor)
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("audit output missing event type %q: %s", tt.want, buf.String())
			}
		})
	}
}

func TestHashForLogging(t *testing.T) {
	if got := hashForLogging(""); got != "<empty>" {
		t.Errorf("hashForLogging(\"\") = %q, want <empty>", got)
	}

	h := hashForLogging("sensitive")
	if len(h) != 16 {
		t.Errorf("hash length = %d, want 16", len(h))
	}
	if h != hashForLogging("sensitive") {
		t.Error("hash is not deterministic")
	}
	if h == hashForLogging("different") {
		t.Error("distinct inputs produced identical hashes")
	}
}
