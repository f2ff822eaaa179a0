// Package instrumentation provides OpenTelemetry metrics and tracing for the
// authorization server.
//
// When Config.Enabled is false every provider is a no-op. Metrics are exported
// through a private Prometheus registry when MetricsExporter is "prometheus":
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		Enabled:         true,
//		MetricsExporter: instrumentation.MetricsExporterPrometheus,
//	})
//	if err != nil {
//		return err
//	}
//	defer inst.Shutdown(context.Background())
//
//	mux.Handle("/metrics", inst.PrometheusHandler())
//
// Traces are exported over OTLP/HTTP when TraceEndpoint is set.
//
// # Metrics
//
//   - oauth.http.requests.total, oauth.http.request.duration
//   - oauth.code.issued, oauth.authorize.rejected
//   - oauth.token.issued, oauth.token.rejected, oauth.code.reuse_detected
//   - oauth.rate_limit.exceeded
//   - oauth.storage.operations.total, oauth.storage.operation.duration
//   - oauth.storage.codes.count, oauth.storage.clients.count
//   - oauth.encryption.operations.total, oauth.encryption.duration
//
// All Record helpers on *Metrics are nil-safe.
package instrumentation
