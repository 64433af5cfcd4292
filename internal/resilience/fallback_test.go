package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errSentinel = errors.New("transcription failed")

func newGroup(cb CircuitBreakerConfig) *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{CircuitBreaker: cb})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroup_Execute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		failing  map[string]bool
		wantUsed string
		wantErr  bool
	}{
		{name: "primary succeeds", wantUsed: "primary"},
		{name: "primary fails", failing: map[string]bool{"primary": true}, wantUsed: "secondary"},
		{name: "all fail", failing: map[string]bool{"primary": true, "secondary": true}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			fg := newGroup(CircuitBreakerConfig{MaxFailures: 3})
			var used string
			err := fg.Execute(context.Background(), func(v string) error {
				if tc.failing[v] {
					return errTest
				}
				used = v
				return nil
			})
			if tc.wantErr {
				if !errors.Is(err, ErrAllFailed) {
					t.Fatalf("err = %v, want ErrAllFailed", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if used != tc.wantUsed {
				t.Errorf("used = %q, want %q", used, tc.wantUsed)
			}
		})
	}
}

func TestFallbackGroup_SkipsOpenProvider(t *testing.T) {
	t.Parallel()
	fg := newGroup(CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})

	var primaryCalls int
	fn := func(v string) error {
		if v == "primary" {
			primaryCalls++
			return errTest
		}
		return nil
	}
	for range 3 {
		if err := fg.Execute(context.Background(), fn); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if primaryCalls != 2 {
		t.Errorf("primary called %d times, want 2 before its breaker opened", primaryCalls)
	}
	if s := fg.States()["primary"]; s != StateOpen {
		t.Errorf("primary state = %v, want open", s)
	}
	if s := fg.States()["secondary"]; s != StateClosed {
		t.Errorf("secondary state = %v, want closed", s)
	}
}

func TestExecuteWithResult(t *testing.T) {
	t.Parallel()
	fg := newGroup(CircuitBreakerConfig{MaxFailures: 3})

	got, err := ExecuteWithResult(context.Background(), fg, func(v string) (int, error) {
		if v == "primary" {
			return 0, errTest
		}
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("got %d, %v; want 42, nil", got, err)
	}
}

func TestExecuteWithResult_KeepsProviderErrors(t *testing.T) {
	t.Parallel()
	fg := newGroup(CircuitBreakerConfig{MaxFailures: 3})

	_, err := ExecuteWithResult(context.Background(), fg, func(v string) (string, error) {
		if v == "secondary" {
			return "", errSentinel
		}
		return "", errTest
	})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errSentinel) || !errors.Is(err, errTest) {
		t.Errorf("err = %v, want both provider errors joined", err)
	}
}

func TestExecuteWithResult_StopsOnCancelledContext(t *testing.T) {
	t.Parallel()
	fg := newGroup(CircuitBreakerConfig{MaxFailures: 3})
	ctx, cancel := context.WithCancel(context.Background())

	var calls []string
	_, err := ExecuteWithResult(ctx, fg, func(v string) (string, error) {
		calls = append(calls, v)
		cancel()
		return "", context.Canceled
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrAllFailed) {
		t.Error("a cancelled call must not be reported as ErrAllFailed")
	}
	if len(calls) != 1 {
		t.Errorf("calls = %v, want only the primary", calls)
	}
}

func TestFallbackGroup_PrimaryAndLen(t *testing.T) {
	t.Parallel()
	fg := newGroup(CircuitBreakerConfig{})
	if fg.Len() != 2 {
		t.Errorf("Len = %d, want 2", fg.Len())
	}
	if fg.Primary() != "primary" {
		t.Errorf("Primary = %q", fg.Primary())
	}
}
