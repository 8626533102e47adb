package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

var errBackend = errors.New("exit status 1")

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func testBreaker(opts ...Option) (*Breaker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	b := New("generation/claude", opts...)
	b.now = clock.Now
	return b, clock
}

func fail(b *Breaker) error    { return b.Do(func() error { return errBackend }) }
func succeed(b *Breaker) error { return b.Do(func() error { return nil }) }

func TestNew_Defaults(t *testing.T) {
	b, _ := testBreaker()
	if b.trip != defaultTripAfter {
		t.Errorf("trip = %d, want %d", b.trip, defaultTripAfter)
	}
	if b.cooldown != defaultCooldown {
		t.Errorf("cooldown = %v, want %v", b.cooldown, defaultCooldown)
	}
	if b.probes != defaultProbes {
		t.Errorf("probes = %d, want %d", b.probes, defaultProbes)
	}
	if b.st != closed {
		t.Errorf("state = %v, want %v", b.st, closed)
	}
}

func TestNew_Options(t *testing.T) {
	b, _ := testBreaker(WithTripAfter(2), WithCooldown(time.Minute), WithProbes(1))
	if b.trip != 2 || b.cooldown != time.Minute || b.probes != 1 {
		t.Errorf("got trip=%d cooldown=%v probes=%d, want 2 1m 1", b.trip, b.cooldown, b.probes)
	}

	// Zero and negative values keep the defaults.
	b, _ = testBreaker(WithTripAfter(0), WithCooldown(-time.Second), WithProbes(0))
	if b.trip != defaultTripAfter || b.cooldown != defaultCooldown || b.probes != defaultProbes {
		t.Errorf("invalid option values overrode defaults: trip=%d cooldown=%v probes=%d",
			b.trip, b.cooldown, b.probes)
	}
}

func TestDo_PassesErrorsThroughWhileClosed(t *testing.T) {
	b, _ := testBreaker()
	if err := fail(b); !errors.Is(err, errBackend) {
		t.Errorf("Do() = %v, want the backend error", err)
	}
	if err := succeed(b); err != nil {
		t.Errorf("Do() = %v, want nil", err)
	}
}

func TestDo_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := testBreaker()
	for i := 0; i < defaultTripAfter; i++ {
		if err := fail(b); !errors.Is(err, errBackend) {
			t.Fatalf("call %d: Do() = %v, want the backend error", i+1, err)
		}
	}
	if b.st != open {
		t.Fatalf("state after %d failures = %v, want %v", defaultTripAfter, b.st, open)
	}

	called := false
	err := b.Do(func() error { called = true; return nil })
	if !errors.Is(err, ErrOpen) {
		t.Errorf("Do() on open breaker = %v, want ErrOpen", err)
	}
	if called {
		t.Error("open breaker still invoked the call")
	}
}

func TestDo_SuccessResetsFailureStreak(t *testing.T) {
	b, _ := testBreaker()
	for i := 0; i < defaultTripAfter-1; i++ {
		fail(b)
	}
	succeed(b)
	for i := 0; i < defaultTripAfter-1; i++ {
		fail(b)
	}
	if b.st != closed {
		t.Errorf("state = %v, want %v (streak should have reset)", b.st, closed)
	}
}

func TestDo_ProbesAfterCooldown(t *testing.T) {
	b, clock := testBreaker(WithTripAfter(1), WithProbes(2))
	fail(b)

	if err := succeed(b); !errors.Is(err, ErrOpen) {
		t.Fatalf("Do() before cooldown = %v, want ErrOpen", err)
	}

	clock.Advance(defaultCooldown)
	if err := succeed(b); err != nil {
		t.Fatalf("first probe = %v, want nil", err)
	}
	if b.st != probing {
		t.Fatalf("state after first probe = %v, want %v", b.st, probing)
	}
	if err := succeed(b); err != nil {
		t.Fatalf("second probe = %v, want nil", err)
	}
	if b.st != closed {
		t.Errorf("state after %d good probes = %v, want %v", 2, b.st, closed)
	}
}

func TestDo_ProbeFailureReopens(t *testing.T) {
	b, clock := testBreaker(WithTripAfter(1))
	fail(b)

	clock.Advance(defaultCooldown)
	if err := fail(b); !errors.Is(err, errBackend) {
		t.Fatalf("probe = %v, want the backend error", err)
	}
	if b.st != open {
		t.Fatalf("state after failed probe = %v, want %v", b.st, open)
	}
	if err := succeed(b); !errors.Is(err, ErrOpen) {
		t.Errorf("Do() right after failed probe = %v, want ErrOpen", err)
	}

	// Another cooldown earns another probe window.
	clock.Advance(defaultCooldown)
	if err := succeed(b); err != nil {
		t.Errorf("probe after second cooldown = %v, want nil", err)
	}
}

func TestDo_ProbeBudget(t *testing.T) {
	b, clock := testBreaker(WithTripAfter(1), WithProbes(1))
	fail(b)
	clock.Advance(defaultCooldown)

	// Hold the single probe slot open; a concurrent call must be rejected.
	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	if err := succeed(b); !errors.Is(err, ErrOpen) {
		t.Errorf("Do() with probe slot taken = %v, want ErrOpen", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("probe = %v, want nil", err)
	}
	if b.st != closed {
		t.Errorf("state after successful probe = %v, want %v", b.st, closed)
	}
}

func TestDo_Concurrent(t *testing.T) {
	b, _ := testBreaker(WithTripAfter(3))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				fail(b)
			}
		}()
	}
	wg.Wait()

	if b.st != open {
		t.Fatalf("state = %v, want %v", b.st, open)
	}
	if err := succeed(b); !errors.Is(err, ErrOpen) {
		t.Errorf("Do() = %v, want ErrOpen", err)
	}
}

func TestState_String(t *testing.T) {
	for st, want := range map[state]string{closed: "closed", open: "open", probing: "probing"} {
		if got := st.String(); got != want {
			t.Errorf("state(%d).String() = %q, want %q", st, got, want)
		}
	}
}
