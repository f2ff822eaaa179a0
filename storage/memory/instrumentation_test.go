package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/giantswarm/oauth-codegrant/instrumentation"
	"github.com/giantswarm/oauth-codegrant/internal/testutil"
	"github.com/giantswarm/oauth-codegrant/storage"
)

func TestStore_SetInstrumentation_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	inst, err := instrumentation.New(instrumentation.Config{
		Enabled:        true,
		SpanProcessors: []sdktrace.SpanProcessor{recorder},
	})
	if err != nil {
		t.Fatalf("instrumentation.New() error = %v", err)
	}
	defer func() { _ = inst.Shutdown(context.Background()) }()

	store := New()
	defer store.Stop()
	store.SetInstrumentation(inst)

	ctx := context.Background()
	if err := store.SaveAuthorizationCode(ctx, "code-1", newTestRecord(testEpoch, time.Minute)); err != nil {
		t.Fatalf("SaveAuthorizationCode() error = %v", err)
	}
	if _, err := store.ConsumeAuthorizationCode(ctx, "code-1", testutil.TestClientID, testutil.TestRedirectURL, testEpoch); err != nil {
		t.Fatalf("ConsumeAuthorizationCode() error = %v", err)
	}
	if _, err := store.ConsumeAuthorizationCode(ctx, "code-1", testutil.TestClientID, testutil.TestRedirectURL, testEpoch); !errors.Is(err, storage.ErrAuthorizationCodeUsed) {
		t.Fatalf("ConsumeAuthorizationCode() error = %v, want ErrAuthorizationCodeUsed", err)
	}

	spans := recorder.Ended()
	if len(spans) != 3 {
		t.Fatalf("recorded %d spans, want 3", len(spans))
	}

	want := []string{
		"storage.save_authorization_code",
		"storage.consume_authorization_code",
		"storage.consume_authorization_code",
	}
	for i, span := range spans {
		if span.Name() != want[i] {
			t.Errorf("span[%d] = %q, want %q", i, span.Name(), want[i])
		}
		for _, attr := range span.Attributes() {
			if attr.Value.AsString() == "code-1" {
				t.Errorf("span %q leaks the authorization code in %s", span.Name(), attr.Key)
			}
		}
	}
}
