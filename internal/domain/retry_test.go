package domain_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sugu-Inc/modern-onap-so/internal/domain"
	"github.com/rs/zerolog"
)

func fastPolicy(attempts int) domain.RetryPolicy {
	return domain.RetryPolicy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		Factor:      2,
		MaxDelay:    4 * time.Millisecond,
	}
}

func TestRetryDo_TransientFailureEventuallySucceeds(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), zerolog.Nop(), "create-network", func(context.Context) error {
		calls++
		if calls < 3 {
			return domain.NewTransientError("create-network", "backend unavailable", nil)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryDo_PermanentFailureReturnsImmediately(t *testing.T) {
	calls := 0
	want := domain.NewQuotaError("create-server", "instance quota exceeded", nil)
	err := fastPolicy(5).Do(context.Background(), zerolog.Nop(), "create-server", func(context.Context) error {
		calls++
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("Do: got %v, want the quota error unwrapped", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 for a permanent failure", calls)
	}
	if domain.KindOf(err) != domain.FailureQuotaExceeded {
		t.Errorf("KindOf = %q, want quota_exceeded", domain.KindOf(err))
	}
}

func TestRetryDo_ExhaustsAttemptBudget(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), zerolog.Nop(), "delete-vm", func(context.Context) error {
		calls++
		return domain.NewTransientError("delete-vm", "backend unavailable", nil)
	})
	if err == nil {
		t.Fatal("Do succeeded, want exhausted budget")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	// The last error keeps its classification for the failure payload.
	if domain.KindOf(err) != domain.FailureTransient {
		t.Errorf("KindOf = %q, want transient_backend", domain.KindOf(err))
	}
}

func TestRetryDo_CancelledContextStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	policy := domain.RetryPolicy{MaxAttempts: 10, BaseDelay: 50 * time.Millisecond, Factor: 2, MaxDelay: time.Second}

	err := policy.Do(ctx, zerolog.Nop(), "create-vm", func(context.Context) error {
		calls++
		cancel()
		return domain.NewTransientError("create-vm", "backend unavailable", nil)
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do: got %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryDo_OnRetryObservesEachRetry(t *testing.T) {
	var observed []int
	policy := fastPolicy(3)
	policy.OnRetry = func(op string, attempt int, err error) {
		if op != "resize-vm" {
			t.Errorf("op = %q, want resize-vm", op)
		}
		observed = append(observed, attempt)
	}

	_ = policy.Do(context.Background(), zerolog.Nop(), "resize-vm", func(context.Context) error {
		return domain.NewTransientError("resize-vm", "backend unavailable", nil)
	})
	if len(observed) != 2 {
		t.Fatalf("observed retries = %v, want attempts 1 and 2", observed)
	}
	if observed[0] != 1 || observed[1] != 2 {
		t.Errorf("observed = %v, want [1 2]", observed)
	}
}

func TestRetryDo_ZeroPolicyUsesDefaults(t *testing.T) {
	calls := 0
	start := time.Now()
	var policy domain.RetryPolicy
	policy.BaseDelay = time.Millisecond // keep the test fast
	policy.MaxDelay = time.Millisecond

	_ = policy.Do(context.Background(), zerolog.Nop(), "op", func(context.Context) error {
		calls++
		return domain.NewTransientError("op", "backend unavailable", nil)
	})
	if calls != domain.DefaultRetryPolicy.MaxAttempts {
		t.Errorf("calls = %d, want default budget %d", calls, domain.DefaultRetryPolicy.MaxAttempts)
	}
	if time.Since(start) > time.Second {
		t.Error("defaulted policy slept with configured delays ignored")
	}
}
