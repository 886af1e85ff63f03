package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var errTest = errors.New("test error")

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(cfg BreakerConfig) (*Breaker, *fakeClock) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	cfg.now = clk.Now
	return NewBreaker(cfg), clk
}

func fail(context.Context) error    { return errTest }
func succeed(context.Context) error { return nil }

func TestNewBreaker_Defaults(t *testing.T) {
	b := NewBreaker(BreakerConfig{Name: "test"})
	if b.cfg.MaxFailures != 3 {
		t.Errorf("MaxFailures = %d, want 3", b.cfg.MaxFailures)
	}
	if b.cfg.Cooldown != 15*time.Second {
		t.Errorf("Cooldown = %v, want 15s", b.cfg.Cooldown)
	}
	if b.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", b.State())
	}
}

func TestBreaker_ClosedPassesErrorsThrough(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{Name: "test"})
	if err := b.Do(context.Background(), fail); !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want errTest", err)
	}
	if err := b.Do(context.Background(), succeed); err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{Name: "test", MaxFailures: 2})
	ctx := context.Background()

	_ = b.Do(ctx, fail)
	_ = b.Do(ctx, succeed) // resets the count
	_ = b.Do(ctx, fail)
	if b.State() != StateClosed {
		t.Fatalf("state = %v, want closed after non-consecutive failures", b.State())
	}
	_ = b.Do(ctx, fail)
	if b.State() != StateOpen {
		t.Fatalf("state = %v, want open", b.State())
	}

	called := false
	err := b.Do(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn called while open")
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	tests := []struct {
		name  string
		probe func(context.Context) error
		want  State
	}{
		{"success closes", succeed, StateClosed},
		{"failure re-opens", fail, StateOpen},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b, clk := newTestBreaker(BreakerConfig{Name: "test", MaxFailures: 1, Cooldown: time.Minute})
			ctx := context.Background()

			_ = b.Do(ctx, fail)
			clk.Advance(time.Minute)
			if b.State() != StateHalfOpen {
				t.Fatalf("state = %v, want half-open after cooldown", b.State())
			}
			_ = b.Do(ctx, tc.probe)
			if b.State() != tc.want {
				t.Errorf("state = %v, want %v", b.State(), tc.want)
			}
		})
	}
}

func TestBreaker_SingleProbeInFlight(t *testing.T) {
	b, clk := newTestBreaker(BreakerConfig{Name: "test", MaxFailures: 1, Cooldown: time.Second})
	ctx := context.Background()
	_ = b.Do(ctx, fail)
	clk.Advance(time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(ctx, func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := b.Do(ctx, succeed); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("concurrent call during probe: err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe err = %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_IsFailureFilter(t *testing.T) {
	errClient := errors.New("400 bad request")
	b, _ := newTestBreaker(BreakerConfig{
		Name:        "test",
		MaxFailures: 1,
		IsFailure:   func(err error) bool { return !errors.Is(err, errClient) },
	})
	_ = b.Do(context.Background(), func(context.Context) error { return errClient })
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed for ignored errors", b.State())
	}
}

func TestBreaker_CallerCancellationIsNotAFailure(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{Name: "test", MaxFailures: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = b.Do(ctx, func(ctx context.Context) error { return ctx.Err() })
	if b.State() != StateClosed {
		t.Errorf("state = %v, want closed", b.State())
	}
}

func TestBreaker_OnStateChangeAndReset(t *testing.T) {
	var got []State
	b, _ := newTestBreaker(BreakerConfig{
		Name:          "credentials",
		MaxFailures:   1,
		OnStateChange: func(name string, _, to State) { got = append(got, to) },
	})
	_ = b.Do(context.Background(), fail)
	b.Reset()

	want := []State{StateOpen, StateClosed}
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, got[i], want[i])
		}
	}
	if err := b.Do(context.Background(), succeed); err != nil {
		t.Errorf("after Reset: err = %v", err)
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{
		StateClosed:   "closed",
		StateOpen:     "open",
		StateHalfOpen: "half-open",
		State(42):     "unknown",
	} {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", s, got, want)
		}
	}
}
