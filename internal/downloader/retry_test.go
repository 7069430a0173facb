package downloader

import (
	"context"
	"errors"
	"testing"
	"time"
)

func always(error) bool { return true }

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
	}
}

func TestRetryWithCheck_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	got, err := RetryWithCheck(context.Background(), fastRetry(3), func(attempt int) (string, error) {
		calls++
		if attempt != calls {
			t.Errorf("attempt = %d, want %d", attempt, calls)
		}
		if attempt < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	}, always)
	if err != nil {
		t.Fatalf("RetryWithCheck: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls", got, calls)
	}
}

func TestRetryWithCheck_ReturnsLastError(t *testing.T) {
	calls := 0
	_, err := RetryWithCheck(context.Background(), fastRetry(2), func(int) (int, error) {
		calls++
		return 0, errors.New("still failing")
	}, always)
	if err == nil || err.Error() != "still failing" {
		t.Errorf("err = %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetryWithCheck_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_, _ = RetryWithCheck(context.Background(), fastRetry(0), func(int) (int, error) {
		calls++
		return 0, errors.New("x")
	}, always)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryWithCheck_StopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	calls := 0
	_, err := RetryWithCheck(context.Background(), fastRetry(5), func(int) (int, error) {
		calls++
		return 0, permanent
	}, func(err error) bool { return !errors.Is(err, permanent) })

	if !errors.Is(err, permanent) {
		t.Errorf("err = %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetryWithCheck_ContextCanceledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Hour, MaxDelay: time.Hour, BackoffFactor: 1}

	_, err := RetryWithCheck(ctx, cfg, func(int) (int, error) {
		cancel()
		return 0, errors.New("fail")
	}, always)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
