package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCaptureFailuresByKind(t *testing.T) {
	before := testutil.ToFloat64(CaptureFailures.WithLabelValues(FailureFinalizeWait))
	CaptureFailures.WithLabelValues(FailureFinalizeWait).Inc()
	if got := testutil.ToFloat64(CaptureFailures.WithLabelValues(FailureFinalizeWait)); got != before+1 {
		t.Fatalf("expected counter to increase by one, got %v -> %v", before, got)
	}
}

func TestInitTracing_DisabledWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracing("", "gokibot")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	shutdown()
}

func TestStartSpan_NoopProviderAcceptsErrors(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "test")
	defer span.End()
	if ctx == nil {
		t.Fatal("expected a context")
	}
	RecordError(span, errors.New("boom"))
	RecordError(span, nil)
}
