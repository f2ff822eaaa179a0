package instrumentation

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds all metric instruments of the authorization server
type Metrics struct {
	// HTTP Layer Metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Authorization endpoint
	CodesIssued       metric.Int64Counter
	AuthorizeRejected metric.Int64Counter

	// Token endpoint
	TokensIssued      metric.Int64Counter
	TokenRejected     metric.Int64Counter
	CodeReuseDetected metric.Int64Counter

	// Security Metrics
	RateLimitExceeded metric.Int64Counter

	// Storage Metrics
	StorageOperationTotal    metric.Int64Counter
	StorageOperationDuration metric.Float64Histogram
	StorageCodesCount        metric.Int64ObservableGauge
	StorageClientsCount      metric.Int64ObservableGauge

	// Encryption Metrics
	EncryptionOperationsTotal metric.Int64Counter
	EncryptionDuration        metric.Float64Histogram
}

func newMetrics(inst *Instrumentation) (*Metrics, error) {
	m := &Metrics{}
	httpMeter := inst.Meter("http")
	serverMeter := inst.Meter("server")
	securityMeter := inst.Meter("security")
	storageMeter := inst.Meter("storage")

	counters := []struct {
		dst   *metric.Int64Counter
		meter metric.Meter
		name  string
		desc  string
		unit  string
	}{
		{&m.HTTPRequestsTotal, httpMeter, "oauth.http.requests.total", "Total number of HTTP requests", "{request}"},
		{&m.CodesIssued, serverMeter, "oauth.code.issued", "Number of authorization codes issued", "{code}"},
		{&m.AuthorizeRejected, serverMeter, "oauth.authorize.rejected", "Number of rejected authorization requests", "{request}"},
		{&m.TokensIssued, serverMeter, "oauth.token.issued", "Number of authorization codes exchanged for access tokens", "{token}"},
		{&m.TokenRejected, serverMeter, "oauth.token.rejected", "Number of rejected token requests", "{request}"},
		{&m.CodeReuseDetected, securityMeter, "oauth.code.reuse_detected", "Number of authorization code reuse attempts", "{attempt}"},
		{&m.RateLimitExceeded, securityMeter, "oauth.rate_limit.exceeded", "Number of rate limit violations", "{violation}"},
		{&m.StorageOperationTotal, storageMeter, "oauth.storage.operations.total", "Total number of storage operations", "{operation}"},
		{&m.EncryptionOperationsTotal, securityMeter, "oauth.encryption.operations.total", "Total number of code cipher operations", "{operation}"},
	}
	for _, c := range counters {
		counter, err := c.meter.Int64Counter(c.name, metric.WithDescription(c.desc), metric.WithUnit(c.unit))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
		*c.dst = counter
	}

	histograms := []struct {
		dst   *metric.Float64Histogram
		meter metric.Meter
		name  string
		desc  string
	}{
		{&m.HTTPRequestDuration, httpMeter, "oauth.http.request.duration", "HTTP request duration in milliseconds"},
		{&m.StorageOperationDuration, storageMeter, "oauth.storage.operation.duration", "Storage operation duration in milliseconds"},
		{&m.EncryptionDuration, securityMeter, "oauth.encryption.duration", "Code cipher operation duration in milliseconds"},
	}
	for _, h := range histograms {
		histogram, err := h.meter.Float64Histogram(h.name, metric.WithDescription(h.desc), metric.WithUnit("ms"))
		if err != nil {
			return nil, fmt.Errorf("failed to create %s histogram: %w", h.name, err)
		}
		*h.dst = histogram
	}

	var err error
	m.StorageCodesCount, err = storageMeter.Int64ObservableGauge(
		"oauth.storage.codes.count",
		metric.WithDescription("Number of authorization codes held in storage"),
		metric.WithUnit("{code}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.codes.count gauge: %w", err)
	}

	m.StorageClientsCount, err = storageMeter.Int64ObservableGauge(
		"oauth.storage.clients.count",
		metric.WithDescription("Number of registered clients"),
		metric.WithUnit("{client}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage.clients.count gauge: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, endpoint, and status
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, endpoint string, statusCode int, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("endpoint", endpoint),
		attribute.Int("status", statusCode),
	)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)
	m.HTTPRequestDuration.Record(ctx, durationMs, attrs)
}

// RecordCodeIssued records an authorization code issued to clientID
func (m *Metrics) RecordCodeIssued(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.CodesIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

// RecordAuthorizeRejected records an authorization request ending in a rejecting state
func (m *Metrics) RecordAuthorizeRejected(ctx context.Context, state string) {
	if m == nil {
		return
	}
	m.AuthorizeRejected.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordTokenIssued records an access token issued to clientID
func (m *Metrics) RecordTokenIssued(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.TokensIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

// RecordTokenRejected records a token request ending in a rejecting state.
// reason is internal (for example "expired" or "mismatch") and never reaches the client.
func (m *Metrics) RecordTokenRejected(ctx context.Context, state, reason string) {
	if m == nil {
		return
	}
	m.TokenRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", state),
		attribute.String("reason", reason),
	))
}

// RecordCodeReuse records an attempt to redeem an already consumed code
func (m *Metrics) RecordCodeReuse(ctx context.Context, clientID string) {
	if m == nil {
		return
	}
	m.CodeReuseDetected.Add(ctx, 1, metric.WithAttributes(attribute.String("client_id", clientID)))
}

// RecordRateLimitExceeded records a request rejected by the rate limiter
func (m *Metrics) RecordRateLimitExceeded(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.RateLimitExceeded.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// RecordStorageOperation records a storage operation with its result and duration
func (m *Metrics) RecordStorageOperation(ctx context.Context, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	)
	m.StorageOperationTotal.Add(ctx, 1, attrs)
	m.StorageOperationDuration.Record(ctx, durationMs, attrs)
}

// RecordEncryption records a code cipher operation ("encrypt" or "decrypt")
func (m *Metrics) RecordEncryption(ctx context.Context, operation, result string, durationMs float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.String("result", result),
	)
	m.EncryptionOperationsTotal.Add(ctx, 1, attrs)
	m.EncryptionDuration.Record(ctx, durationMs, attrs)
}
