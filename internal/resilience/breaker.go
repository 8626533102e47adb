// Package resilience contains the failure-isolation primitives fabled wires
// around its generation backends.
//
// A [Breaker] sits in front of each generation provider. Every call against a
// broken backend costs a subprocess spawn or an HTTP round-trip, so once a
// backend has failed enough times in a row the breaker rejects further calls
// with [ErrOpen], waits out a cooldown, then lets a few probe calls through to
// decide whether the backend recovered.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by [Breaker.Do] when the guarded backend is currently
// disabled after repeated failures.
var ErrOpen = errors.New("resilience: breaker open")

const (
	defaultTripAfter = 5
	defaultCooldown  = 30 * time.Second
	defaultProbes    = 3
)

type state uint8

const (
	closed state = iota
	open
	probing
)

func (s state) String() string {
	switch s {
	case closed:
		return "closed"
	case open:
		return "open"
	default:
		return "probing"
	}
}

// An Option tunes a [Breaker] created by [New].
type Option func(*Breaker)

// WithTripAfter sets how many consecutive failures open the breaker.
func WithTripAfter(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.trip = n
		}
	}
}

// WithCooldown sets how long the breaker stays open before letting probe
// calls through again.
func WithCooldown(d time.Duration) Option {
	return func(b *Breaker) {
		if d > 0 {
			b.cooldown = d
		}
	}
}

// WithProbes sets how many consecutive successful calls after a cooldown the
// backend must survive before it counts as recovered.
func WithProbes(n int) Option {
	return func(b *Breaker) {
		if n > 0 {
			b.probes = n
		}
	}
}

// WithLogger sets the logger used for state-change messages.
func WithLogger(l *slog.Logger) Option {
	return func(b *Breaker) {
		if l != nil {
			b.logger = l
		}
	}
}

// Breaker guards a single backend. It is safe for concurrent use.
type Breaker struct {
	name     string
	trip     int
	cooldown time.Duration
	probes   int
	logger   *slog.Logger

	mu       sync.Mutex
	st       state
	failures int // consecutive failures while closed
	healthy  int // consecutive probe successes while probing
	inflight int // probe calls currently executing
	openedAt time.Time
	now      func() time.Time
}

// New creates a closed [Breaker]. name labels the backend in log messages.
func New(name string, opts ...Option) *Breaker {
	b := &Breaker{
		name:     name,
		trip:     defaultTripAfter,
		cooldown: defaultCooldown,
		probes:   defaultProbes,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Do invokes fn unless the breaker is open, in which case it returns [ErrOpen]
// without calling fn. Errors from fn pass through unchanged; the breaker only
// observes them.
func (b *Breaker) Do(fn func() error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn()
	b.settle(err)
	return err
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.st {
	case open:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return ErrOpen
		}
		b.st = probing
		b.healthy = 0
		b.inflight = 0
		b.logger.Info("probing backend after cooldown", "backend", b.name)
		fallthrough
	case probing:
		if b.inflight+b.healthy >= b.probes {
			return ErrOpen
		}
		b.inflight++
	}
	return nil
}

func (b *Breaker) settle(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.st == probing {
		b.inflight--
	}

	if err != nil {
		switch b.st {
		case closed:
			b.failures++
			if b.failures >= b.trip {
				b.st = open
				b.openedAt = b.now()
				b.logger.Warn("backend disabled after repeated failures",
					"backend", b.name,
					"consecutive_failures", b.failures)
			}
		case probing:
			// One bad probe is enough evidence: wait out another cooldown.
			b.st = open
			b.openedAt = b.now()
			b.logger.Warn("backend still failing, re-disabled", "backend", b.name)
		}
		return
	}

	switch b.st {
	case closed:
		b.failures = 0
	case probing:
		b.healthy++
		if b.healthy >= b.probes {
			b.st = closed
			b.failures = 0
			b.logger.Info("backend recovered", "backend", b.name)
		}
	}
}
