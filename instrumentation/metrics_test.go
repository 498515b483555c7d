package instrumentation

import (
	"context"
	"testing"
)

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	inst, err := New(Config{ServiceName: "test", Enabled: true})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return inst.Metrics()
}

func TestNewMetricsCreatesAllInstruments(t *testing.T) {
	m := newTestMetrics(t)

	if m.HTTPRequestsTotal == nil {
		t.Error("HTTPRequestsTotal not created")
	}
	if m.HTTPRequestDuration == nil {
		t.Error("HTTPRequestDuration not created")
	}
	if m.CodesIssued == nil {
		t.Error("CodesIssued not created")
	}
	if m.CodeExchanged == nil {
		t.Error("CodeExchanged not created")
	}
	if m.TokenRefreshed == nil {
		t.Error("TokenRefreshed not created")
	}
	if m.TokenRevoked == nil {
		t.Error("TokenRevoked not created")
	}
	if m.AccessDenied == nil {
		t.Error("AccessDenied not created")
	}
	if m.UsersProvisioned == nil {
		t.Error("UsersProvisioned not created")
	}
	if m.RateLimitExceeded == nil {
		t.Error("RateLimitExceeded not created")
	}
	if m.CodeReuseDetected == nil {
		t.Error("CodeReuseDetected not created")
	}
	if m.AuditEventsTotal == nil {
		t.Error("AuditEventsTotal not created")
	}
	if m.StorageOperationTotal == nil {
		t.Error("StorageOperationTotal not created")
	}
	if m.StorageOperationDuration == nil {
		t.Error("StorageOperationDuration not created")
	}
}

// The recording helpers must not panic regardless of argument values; with
// no-op providers they are exercised purely for safety.
func TestRecordHelpersDoNotPanic(t *testing.T) {
	m := newTestMetrics(t)
	ctx := context.Background()

	m.RecordHTTPRequest(ctx, "POST", "token", 200, 12.5)
	m.RecordHTTPRequest(ctx, "", "", 0, -1)
	m.RecordCodeIssued(ctx, "hub_abc")
	m.RecordCodeExchange(ctx, "hub_abc")
	m.RecordTokenRefresh(ctx, "hub_abc")
	m.RecordTokenRevocation(ctx, "hub_abc")
	m.RecordAccessDenied(ctx, "hub_abc")
	m.RecordUserProvisioned(ctx, true)
	m.RecordUserProvisioned(ctx, false)
	m.RecordRateLimitExceeded(ctx, "ip")
	m.RecordRateLimitExceeded(ctx, "user")
	m.RecordCodeReuseDetected(ctx)
	m.RecordAuditEvent(ctx, "token_issued")
	m.RecordStorageOperation(ctx, "save_token_pair", "success", 0.3)
	m.RecordStorageOperation(ctx, "consume_code", "error", 1.1)
}

func TestRecordHelpersConcurrent(t *testing.T) {
	m := newTestMetrics(t)
	ctx := context.Background()

	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 100; j++ {
				m.RecordCodeIssued(ctx, "hub_abc")
				m.RecordHTTPRequest(ctx, "GET", "userinfo", 200, 1.0)
				m.RecordStorageOperation(ctx, "get_client", "success", 0.1)
			}
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}
