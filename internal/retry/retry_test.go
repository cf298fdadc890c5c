package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := Do(context.Background(), Policy{Tries: 3, Delay: time.Millisecond, Backoff: 2}, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := Do(context.Background(), Policy{Tries: 3, Delay: time.Millisecond, Backoff: 2}, func() error {
		attempts++
		return errors.New("permanent")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestDoRespectsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, Policy{Tries: 5, Delay: time.Millisecond, Backoff: 2}, func() error {
		t.Fatal("op should not be called on a cancelled context")
		return nil
	})
	if err == nil {
		t.Fatal("expected error")
	}
}
