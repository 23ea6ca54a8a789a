package apply

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"grimm.is/tablectl/internal/config"
	"grimm.is/tablectl/internal/table"
)

func fastRetry() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	return cfg
}

func TestRetry_FailThenSuccess(t *testing.T) {
	count := 0
	err := Retry(context.Background(), fastRetry(), func() error {
		count++
		if count < 2 {
			return &table.Error{Kind: table.KindDeviceUnavailable, Err: syscall.EBUSY}
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 attempts, got %d", count)
	}
}

func TestRetry_FailMaxAttempts(t *testing.T) {
	expectedErr := &table.Error{Kind: table.KindDeviceUnavailable, Err: syscall.ENOENT}
	count := 0

	err := Retry(context.Background(), fastRetry(), func() error {
		count++
		return expectedErr
	})

	if !errors.Is(err, expectedErr) {
		t.Errorf("expected error %v, got %v", expectedErr, err)
	}
	if count != 3 {
		t.Errorf("expected 3 attempts, got %d", count)
	}
}

func TestRetry_NonRetryable(t *testing.T) {
	count := 0
	err := Retry(context.Background(), fastRetry(), func() error {
		count++
		return &table.Error{Kind: table.KindDeviceRejected}
	})

	if !errors.Is(err, table.ErrDeviceRejected) {
		t.Errorf("expected DeviceRejected, got %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 attempt, got %d", count)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	cfg := fastRetry()
	cfg.InitialDelay = time.Hour
	cfg.MaxDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	count := 0
	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, cfg, func() error {
			count++
			return &table.Error{Kind: table.KindDeviceUnavailable}
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Retry did not return after cancel")
	}
	if count != 1 {
		t.Errorf("expected 1 attempt, got %d", count)
	}
}

func TestRetryWithResult(t *testing.T) {
	count := 0
	got, err := RetryWithResult(context.Background(), fastRetry(), func() (int, error) {
		count++
		if count < 3 {
			return 0, &table.Error{Kind: table.KindDeviceUnavailable}
		}
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Errorf("got (%d, %v), want (42, nil)", got, err)
	}
}

func TestCalculateDelay(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, BackoffFactor: 2}

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for attempt, w := range want {
		if got := calculateDelay(attempt, cfg); got != w {
			t.Errorf("calculateDelay(%d) = %v, want %v", attempt, got, w)
		}
	}

	cfg.Jitter = true
	for i := 0; i < 20; i++ {
		d := calculateDelay(0, cfg)
		if d < 100*time.Millisecond || d > 125*time.Millisecond {
			t.Fatalf("jittered delay %v out of range", d)
		}
	}
}

func TestRetryConfigFrom(t *testing.T) {
	cfg := RetryConfigFrom(&config.OpenRetry{Attempts: 7, InitialDelay: "10ms", MaxDelay: "1s"})
	if cfg.MaxAttempts != 7 || cfg.InitialDelay != 10*time.Millisecond || cfg.MaxDelay != time.Second {
		t.Errorf("RetryConfigFrom = %+v", cfg)
	}
	if cfg.Retryable == nil {
		t.Error("Retryable not set")
	}

	def := RetryConfigFrom(nil)
	if def.MaxAttempts != 3 {
		t.Errorf("default attempts = %d", def.MaxAttempts)
	}
}
