package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestWithRetrySucceedsAfterFailures(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), 3, time.Millisecond, 10*time.Millisecond, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts mismatch: %d", attempts)
	}
}

func TestWithRetryExhaustion(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), 2, time.Millisecond, 10*time.Millisecond, func(context.Context) error {
		attempts++
		return fmt.Errorf("permanent")
	})
	if err == nil {
		t.Fatalf("expected exhaustion error")
	}
	if attempts != 3 {
		t.Fatalf("expected initial attempt plus two retries, got %d", attempts)
	}
}

func TestWithRetryContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithRetry(ctx, 5, time.Millisecond, 10*time.Millisecond, func(context.Context) error {
		return fmt.Errorf("always fails")
	})
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
