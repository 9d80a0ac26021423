package resilience

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func newGroup(cfg FallbackConfig, names ...string) *FallbackGroup[string] {
	fg := NewFallbackGroup[string](cfg)
	for _, n := range names {
		fg.Add(n, n)
	}
	return fg
}

// failing returns an fn that fails for the named entries and records every
// invocation.
func failing(calls *[]string, bad ...string) func(context.Context, string) (string, error) {
	return func(_ context.Context, v string) (string, error) {
		*calls = append(*calls, v)
		if slices.Contains(bad, v) {
			return "", errTest
		}
		return "audio:" + v, nil
	}
}

func TestExecuteWithResult(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		maxAttempts int
		bad         []string
		wantResult  string
		wantBackend string
		wantCalls   []string
		wantErr     bool
	}{
		{
			name:        "primary succeeds",
			bad:         nil,
			wantResult:  "audio:kokoro",
			wantBackend: "kokoro",
			wantCalls:   []string{"kokoro"},
		},
		{
			name:        "fallback after primary failure",
			bad:         []string{"kokoro"},
			wantResult:  "audio:command",
			wantBackend: "command",
			wantCalls:   []string{"kokoro", "command"},
		},
		{
			name:        "attempts capped at two",
			bad:         []string{"kokoro", "command"},
			wantBackend: "command",
			wantCalls:   []string{"kokoro", "command"},
			wantErr:     true,
		},
		{
			name:        "three attempts reach the placeholder",
			maxAttempts: 3,
			bad:         []string{"kokoro", "command"},
			wantResult:  "audio:placeholder",
			wantBackend: "placeholder",
			wantCalls:   []string{"kokoro", "command", "placeholder"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fg := newGroup(FallbackConfig{MaxAttempts: tt.maxAttempts}, "kokoro", "command", "placeholder")

			var calls []string
			got, backend, err := ExecuteWithResult(context.Background(), fg, failing(&calls, tt.bad...))
			if tt.wantErr {
				if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
					t.Fatalf("err = %v, want ErrAllFailed joined with errTest", err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.wantResult || backend != tt.wantBackend {
				t.Errorf("got (%q, %q), want (%q, %q)", got, backend, tt.wantResult, tt.wantBackend)
			}
			if !slices.Equal(calls, tt.wantCalls) {
				t.Errorf("calls = %v, want %v", calls, tt.wantCalls)
			}
		})
	}
}

func TestExecuteWithResult_OpenBreakerDoesNotUseAttempt(t *testing.T) {
	t.Parallel()
	fg := newGroup(FallbackConfig{
		MaxAttempts:    2,
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	}, "kokoro", "command", "placeholder")

	// Trip the primary.
	var calls []string
	_, _, _ = ExecuteWithResult(context.Background(), fg, failing(&calls, "kokoro"))
	if fg.States()["kokoro"] != StateOpen {
		t.Fatalf("kokoro breaker = %v, want open", fg.States()["kokoro"])
	}

	calls = nil
	_, backend, err := ExecuteWithResult(context.Background(), fg, failing(&calls, "command"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend != "placeholder" {
		t.Errorf("backend = %q, want placeholder", backend)
	}
	if !slices.Equal(calls, []string{"command", "placeholder"}) {
		t.Errorf("calls = %v, want kokoro skipped", calls)
	}
}

func TestExecuteWithResult_AllOpen(t *testing.T) {
	t.Parallel()
	fg := newGroup(FallbackConfig{
		MaxAttempts:    5,
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	}, "a", "b")

	var calls []string
	_, _, _ = ExecuteWithResult(context.Background(), fg, failing(&calls, "a", "b"))

	_, _, err := ExecuteWithResult(context.Background(), fg, failing(&calls, "a", "b"))
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrAllFailed joined with ErrCircuitOpen", err)
	}
}

func TestExecuteWithResult_Cancellation(t *testing.T) {
	t.Parallel()
	fg := newGroup(FallbackConfig{}, "a", "b")

	ctx, cancel := context.WithCancel(context.Background())
	var calls []string
	_, _, err := ExecuteWithResult(ctx, fg, func(ctx context.Context, v string) (string, error) {
		calls = append(calls, v)
		cancel()
		return "", ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if errors.Is(err, ErrAllFailed) {
		t.Error("cancellation reported as ErrAllFailed")
	}
	if !slices.Equal(calls, []string{"a"}) {
		t.Errorf("calls = %v, want the chain to stop after a", calls)
	}
	if fg.States()["a"] != StateClosed {
		t.Error("cancellation tripped the breaker")
	}
}

func TestExecuteWithResult_CallTimeout(t *testing.T) {
	t.Parallel()
	fg := newGroup(FallbackConfig{CallTimeout: 20 * time.Millisecond}, "slow", "fast")

	got, backend, err := ExecuteWithResult(context.Background(), fg, func(ctx context.Context, v string) (string, error) {
		if v == "slow" {
			<-ctx.Done()
			return "", ctx.Err()
		}
		if _, ok := ctx.Deadline(); !ok {
			t.Error("call context has no deadline")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "ok" || backend != "fast" {
		t.Errorf("got (%q, %q), want (ok, fast)", got, backend)
	}
}

func TestExecuteWithResult_Empty(t *testing.T) {
	t.Parallel()
	_, _, err := ExecuteWithResult(context.Background(), NewFallbackGroup[string](FallbackConfig{}),
		func(context.Context, string) (string, error) { return "", nil })
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestFallbackGroup_Names(t *testing.T) {
	t.Parallel()
	fg := newGroup(FallbackConfig{}, "kokoro", "placeholder")
	if got := fg.Names(); !slices.Equal(got, []string{"kokoro", "placeholder"}) {
		t.Errorf("Names() = %v", got)
	}
	if fg.Len() != 2 {
		t.Errorf("Len() = %d", fg.Len())
	}
}
