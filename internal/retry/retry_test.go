package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoSucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := Do(context.Background(), func() error {
		calls++
		return nil
	}, Options{MaxAttempts: 3, InitialDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestDoExhaustsAndReturnsLastError(t *testing.T) {
	calls := 0
	var hooks []int
	wantErr := errors.New("attempt 3")
	err := Do(context.Background(), func() error {
		calls++
		if calls == 3 {
			return wantErr
		}
		return errors.New("earlier")
	}, Options{
		MaxAttempts:       3,
		InitialDelay:      time.Millisecond,
		BackoffMultiplier: 2,
		OnAttemptFailed:   func(attempt int, _ error) { hooks = append(hooks, attempt) },
	})
	if calls != 3 {
		t.Fatalf("expected exactly 3 calls, got %d", calls)
	}
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected last error, got %v", err)
	}
	if len(hooks) != 3 || hooks[0] != 1 || hooks[2] != 3 {
		t.Fatalf("unexpected hook attempts: %v", hooks)
	}
}

func TestDoBackoffGrows(t *testing.T) {
	var stamps []time.Time
	_ = Do(context.Background(), func() error {
		stamps = append(stamps, time.Now())
		return errors.New("always")
	}, Options{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, BackoffMultiplier: 2})
	if len(stamps) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(stamps))
	}
	first := stamps[1].Sub(stamps[0])
	second := stamps[2].Sub(stamps[1])
	if first < 90*time.Millisecond {
		t.Fatalf("first delay too short: %v", first)
	}
	if second < 180*time.Millisecond {
		t.Fatalf("second delay did not back off: %v", second)
	}
}

func TestDoStopsAfterLastAttemptWithoutDelay(t *testing.T) {
	start := time.Now()
	_ = Do(context.Background(), func() error { return errors.New("x") },
		Options{MaxAttempts: 1, InitialDelay: time.Second})
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Fatalf("single attempt should not sleep, took %v", elapsed)
	}
}

func TestDoHonorsContextDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := Do(ctx, func() error { return errors.New("x") },
		Options{MaxAttempts: 5, InitialDelay: time.Second})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestDoValue(t *testing.T) {
	calls := 0
	v, err := DoValue(context.Background(), func() (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("not yet")
		}
		return 42, nil
	}, Options{MaxAttempts: 3, InitialDelay: time.Millisecond})
	if err != nil {
		t.Fatalf("dovalue: %v", err)
	}
	if v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
}
