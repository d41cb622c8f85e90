package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fxintel/collector/internal/ratelimit"
	"go.uber.org/zap"
)

func newTestEngine() (*Engine, *[]time.Duration) {
	e := NewEngine(ratelimit.NewGovernor(), zap.NewNop().Sugar())
	var slept []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return e, &slept
}

func TestExecute_SucceedsFirstTry(t *testing.T) {
	e, _ := newTestEngine()
	calls := 0
	got, err := Execute(context.Background(), e, "src", Policy{}, func(ctx context.Context) (int, error) {
		calls++
		return 42, nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got != 42 || calls != 1 {
		t.Errorf("got %d after %d calls, want 42 after 1", got, calls)
	}
}

func TestExecute_RetriesThenSucceeds(t *testing.T) {
	e, slept := newTestEngine()
	calls := 0
	got, err := Execute(context.Background(), e, "src", Policy{MaxAttempts: 3}, func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", RetryableNetwork(errors.New("503"))
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Errorf("got %q after %d calls, want ok after 3", got, calls)
	}
	if len(*slept) != 2 {
		t.Errorf("expected 2 backoff sleeps, got %d", len(*slept))
	}
}

func TestExecute_ExhaustsRetries(t *testing.T) {
	e, _ := newTestEngine()
	calls := 0
	_, err := Execute(context.Background(), e, "src", Policy{MaxAttempts: 3}, func(ctx context.Context) (int, error) {
		calls++
		return 0, RetryableNetwork(errors.New("timeout"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Errorf("made %d attempts, want exactly 3", calls)
	}
	if Code(err) != CodeExhaustedRetries {
		t.Errorf("code = %s, want %s", Code(err), CodeExhaustedRetries)
	}
}

func TestExecute_TerminalFailsImmediately(t *testing.T) {
	e, slept := newTestEngine()
	calls := 0
	_, err := Execute(context.Background(), e, "src", Policy{MaxAttempts: 5}, func(ctx context.Context) (int, error) {
		calls++
		return 0, TerminalRequest(errors.New("404"))
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("made %d attempts, want 1 for terminal error", calls)
	}
	if len(*slept) != 0 {
		t.Errorf("terminal error must not back off, slept %d times", len(*slept))
	}
	if Code(err) != CodeTerminalRequest {
		t.Errorf("code = %s, want %s", Code(err), CodeTerminalRequest)
	}
}

type retryAfterErr struct{ d time.Duration }

func (e *retryAfterErr) Error() string { return "429" }

func (e *retryAfterErr) CodeValue() string { return CodeRetryableNetwork }

func (e *retryAfterErr) RetryableStatus() bool { return true }

func (e *retryAfterErr) RetryAfterHint() (time.Duration, bool) { return e.d, true }

func TestExecute_HonorsRetryAfter(t *testing.T) {
	e, slept := newTestEngine()
	calls := 0
	_, _ = Execute(context.Background(), e, "src", Policy{MaxAttempts: 2, BaseBackoff: time.Millisecond}, func(ctx context.Context) (int, error) {
		calls++
		return 0, &retryAfterErr{d: 5 * time.Second}
	})
	if len(*slept) != 1 {
		t.Fatalf("expected 1 sleep, got %d", len(*slept))
	}
	if (*slept)[0] < 5*time.Second {
		t.Errorf("slept %v, want at least the Retry-After hint of 5s", (*slept)[0])
	}
}

func TestIsRetryable_Classification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"retryable network", RetryableNetwork(errors.New("x")), true},
		{"terminal request", TerminalRequest(errors.New("x")), false},
		{"cost exceeded", CostExceeded(errors.New("x")), false},
		{"parse", Parse(errors.New("x")), false},
		{"deadline", context.DeadlineExceeded, true},
		{"plain", errors.New("x"), false},
		{"wrapped retryable", &wrapErr{RetryableNetwork(errors.New("y"))}, true},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Errorf("%s: IsRetryable = %v, want %v", tc.name, got, tc.want)
		}
	}
}

type wrapErr struct{ err error }

func (w *wrapErr) Error() string { return w.err.Error() }
func (w *wrapErr) Unwrap() error { return w.err }
