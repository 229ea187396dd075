package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var errTransient = errors.New("transient")
var errPermanent = errors.New("permanent")

func fastPolicy(maxAttempts int) Policy {
	return Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		Retryable:   func(err error) bool { return errors.Is(err, errTransient) },
	}
}

func TestDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	value, attempts, err := Do(context.Background(), fastPolicy(3), zerolog.Nop(), "test call",
		func(ctx context.Context) (int, error) {
			calls++
			if calls < 3 {
				return 0, errTransient
			}
			return 42, nil
		})
	if err != nil {
		t.Fatalf("Do returned error: %v", err)
	}
	if value != 42 {
		t.Fatalf("expected 42, got %d", value)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoStopsOnPermanentError(t *testing.T) {
	calls := 0
	_, attempts, err := Do(context.Background(), fastPolicy(5), zerolog.Nop(), "test call",
		func(ctx context.Context) (int, error) {
			calls++
			return 0, errPermanent
		})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !errors.Is(err, errPermanent) {
		t.Fatalf("expected wrapped permanent error, got %v", err)
	}
	if calls != 1 || attempts != 1 {
		t.Fatalf("expected exactly one attempt, got calls=%d attempts=%d", calls, attempts)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	_, attempts, err := Do(context.Background(), fastPolicy(3), zerolog.Nop(), "test call",
		func(ctx context.Context) (int, error) {
			calls++
			return 0, errTransient
		})
	if err == nil {
		t.Fatalf("expected error after exhausting attempts")
	}
	if !errors.Is(err, errTransient) {
		t.Fatalf("expected wrapped transient error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if attempts != 3 {
		t.Fatalf("expected attempt count 3, got %d", attempts)
	}
}

func TestDoRespectsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := Do(ctx, Policy{MaxAttempts: 3, BaseDelay: time.Second}, zerolog.Nop(), "test call",
		func(ctx context.Context) (int, error) {
			return 0, errTransient
		})
	if err == nil {
		t.Fatalf("expected error with canceled context")
	}
}

func TestLinearBackOffProgression(t *testing.T) {
	b := &linearBackOff{base: 2 * time.Second}
	for k := 1; k <= 3; k++ {
		if got := b.NextBackOff(); got != time.Duration(k)*2*time.Second {
			t.Fatalf("attempt %d: expected %v, got %v", k, time.Duration(k)*2*time.Second, got)
		}
	}
	b.Reset()
	if got := b.NextBackOff(); got != 2*time.Second {
		t.Fatalf("expected reset to restart at base delay, got %v", got)
	}
}
