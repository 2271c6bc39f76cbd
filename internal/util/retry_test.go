package util

import (
	"context"
	"errors"
	"testing"
)

func TestRetryStopsOnFirstSuccess(t *testing.T) {
	calls := 0
	got, err := Retry(5, func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if got != 42 || calls != 3 {
		t.Errorf("got %d after %d calls, want 42 after 3", got, calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	lastErr := errors.New("still broken")
	_, err := Retry(3, func() (string, error) {
		calls++
		return "", lastErr
	})
	if !errors.Is(err, lastErr) {
		t.Errorf("err = %v, want %v", err, lastErr)
	}
	if calls != 3 {
		t.Errorf("called %d times, want 3", calls)
	}
}

func TestRetryErrStopsOnSuccess(t *testing.T) {
	calls := 0
	err := RetryErr(4, func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RetryErr: %v", err)
	}
	if calls != 2 {
		t.Errorf("called %d times, want 2", calls)
	}
}

func TestRetryWithContextStopsWhenCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := RetryWithContext(ctx, 5, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("called %d times after cancel, want 0", calls)
	}
}

func TestRetryWithContextDoesNotRetryDeadlineErrors(t *testing.T) {
	calls := 0
	_, err := RetryWithContext(context.Background(), 5, func(context.Context) (int, error) {
		calls++
		return 0, context.DeadlineExceeded
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want context.DeadlineExceeded", err)
	}
	if calls != 1 {
		t.Errorf("called %d times, want 1", calls)
	}
}
