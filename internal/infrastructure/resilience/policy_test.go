package resilience

import (
	"reflect"
	"testing"
	"time"
)

func TestNormalizeReportsAdjustedFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryMaxAttempts = 0
	cfg.BreakerFailureRatio = 1.5

	want := []string{"retry_max_attempts", "breaker_failure_ratio"}
	if got := cfg.Adjustments(); !reflect.DeepEqual(got, want) {
		t.Fatalf("expected adjustments %v, got %v", want, got)
	}

	out := cfg.normalize()
	if out.RetryMaxAttempts != 3 || out.BreakerFailureRatio != 0.5 {
		t.Fatalf("expected defaults applied, got %+v", out)
	}
}

func TestNormalizeClampsMaxBackoffToInitial(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RetryInitialBackoff = time.Second
	cfg.RetryMaxBackoff = 10 * time.Millisecond

	if out := cfg.normalize(); out.RetryMaxBackoff != time.Second {
		t.Fatalf("expected max backoff clamped to 1s, got %s", out.RetryMaxBackoff)
	}
}

func TestDefaultConfigNeedsNoAdjustment(t *testing.T) {
	if got := DefaultConfig().Adjustments(); len(got) != 0 {
		t.Fatalf("expected no adjustments, got %v", got)
	}
}

func TestWithRetryAttemptsCopies(t *testing.T) {
	base := DefaultConfig()
	single := base.WithRetryAttempts(1)
	if single.RetryMaxAttempts != 1 || base.RetryMaxAttempts != 3 {
		t.Fatalf("expected copy with 1 attempt, got base=%d single=%d", base.RetryMaxAttempts, single.RetryMaxAttempts)
	}
}
