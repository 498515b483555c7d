// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for hubauth.
//
// It exposes metrics (counters, histograms, and storage size gauges) and
// distributed tracing for the HTTP layer, the protocol flows, the security
// primitives, and the storage backends.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "app-portal",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	srv.SetInstrumentation(inst)
//	store.SetInstrumentation(inst)
//
// # Available Metrics
//
// HTTP layer:
//   - hubauth.http.requests.total{method, endpoint, status}
//   - hubauth.http.request.duration{endpoint}
//
// Flows:
//   - hubauth.codes.issued.total{client_id}
//   - hubauth.code.exchanged{client_id}
//   - hubauth.token.refreshed{client_id}
//   - hubauth.token.revoked{client_id}
//   - hubauth.access.denied{client_id}
//   - hubauth.users.provisioned{created}
//
// Security:
//   - hubauth.rate_limit.exceeded{limiter_type}
//   - hubauth.code.reuse_detected
//   - hubauth.audit.events.total{event_type}
//
// Storage:
//   - storage.operation.total{operation, result}
//   - storage.operation.duration{operation}
//   - storage.{clients,users,codes,token_pairs,grants}.count
//
// When instrumentation is not configured or disabled, no-op providers are used
// and there is no overhead.
//
// All instrumentation operations are thread-safe and can be called
// concurrently from multiple goroutines.
//
// SECURITY: never put actual token values, codes, or client secrets into span
// attributes or metric labels; only metadata (types, expiry, results).
package instrumentation
