package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(retries int) Config {
	return Config{MaxRetries: retries, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond, Multiplier: 2}
}

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	var retried []int
	err := Do(context.Background(), fastConfig(3), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("flaky")
		}
		return nil
	}, func(attempt int, err error) { retried = append(retried, attempt) })

	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(retried) != 2 {
		t.Errorf("onRetry calls = %v, want 2", retried)
	}
}

func TestDoExhausted(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := Do(context.Background(), fastConfig(2), func(ctx context.Context, attempt int) error {
		calls++
		return boom
	}, nil)

	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if ex.Attempts != 3 || calls != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3", ex.Attempts, calls)
	}
	if !errors.Is(err, boom) {
		t.Error("ExhaustedError should unwrap to the last error")
	}
}

func TestDoPermanentStops(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastConfig(5), func(ctx context.Context, attempt int) error {
		calls++
		return Permanent(errors.New("404"))
	}, nil)
	if err == nil || calls != 1 {
		t.Errorf("err = %v, calls = %d, want permanent error after 1 call", err, calls)
	}
}

func TestDoZeroRetries(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), fastConfig(0), func(ctx context.Context, attempt int) error {
		calls++
		return errors.New("nope")
	}, nil)
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{MaxRetries: 3, InitialBackoff: time.Hour}
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- Do(ctx, cfg, func(ctx context.Context, attempt int) error {
			calls++
			return errors.New("fail")
		}, nil)
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Do did not return after cancel")
	}
}
