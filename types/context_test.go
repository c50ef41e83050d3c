package types

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	if _, ok := RequestID(ctx); ok {
		t.Fatal("empty context must not carry a request ID")
	}

	ctx = WithRequestID(ctx, "req-1")
	if got, ok := RequestID(ctx); !ok || got != "req-1" {
		t.Fatalf("RequestID mismatch: %v %v", got, ok)
	}

	ctx = WithJobID(ctx, "job-1")
	if got, ok := JobID(ctx); !ok || got != "job-1" {
		t.Fatalf("JobID mismatch: %v %v", got, ok)
	}

	if _, ok := JobID(WithJobID(context.Background(), "")); ok {
		t.Fatal("an empty job ID is reported as absent")
	}
}
