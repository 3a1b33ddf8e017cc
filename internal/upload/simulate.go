package upload

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"
)

const (
	defaultSimTick         = 200 * time.Millisecond
	defaultSimMaxIncrement = 30
	defaultSimFailureRate  = 0.1
	defaultSimFailureAfter = time.Second
)

// ErrInjectedFailure is returned by the Simulator when it injects a failure.
var ErrInjectedFailure = errors.New("simulated transfer failure")

// SimulatorOptions tunes the simulated transfer. Zero values take defaults;
// a negative FailureRate disables failure injection.
type SimulatorOptions struct {
	Tick         time.Duration
	MaxIncrement int
	FailureRate  float64
	FailureAfter time.Duration
	// Rand seeds the simulation; nil uses a time-seeded source.
	Rand *rand.Rand
}

// Simulator stands in for a real transport: progress grows in random steps
// each tick while an injected failure may fire after a fixed delay. Whichever
// resolves first decides the outcome.
type Simulator struct {
	opts SimulatorOptions
	mu   sync.Mutex
	rng  *rand.Rand
}

func NewSimulator(opts SimulatorOptions) *Simulator {
	if opts.Tick <= 0 {
		opts.Tick = defaultSimTick
	}
	if opts.MaxIncrement <= 0 {
		opts.MaxIncrement = defaultSimMaxIncrement
	}
	if opts.FailureRate == 0 {
		opts.FailureRate = defaultSimFailureRate
	}
	if opts.FailureAfter <= 0 {
		opts.FailureAfter = defaultSimFailureAfter
	}
	rng := opts.Rand
	if rng == nil {
		now := uint64(time.Now().UnixNano())
		rng = rand.New(rand.NewPCG(now, now>>1)) //nolint:gosec // simulation only
	}
	return &Simulator{opts: opts, rng: rng}
}

func (s *Simulator) Upload(ctx context.Context, _ string, _ Handle, report func(percent int)) error {
	s.mu.Lock()
	inject := s.opts.FailureRate > 0 && s.rng.Float64() < s.opts.FailureRate
	s.mu.Unlock()

	var failC <-chan time.Time
	if inject {
		failTimer := time.NewTimer(s.opts.FailureAfter)
		defer failTimer.Stop()
		failC = failTimer.C
	}
	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	progress := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-failC:
			return ErrInjectedFailure
		case <-ticker.C:
			s.mu.Lock()
			progress += 1 + s.rng.IntN(s.opts.MaxIncrement)
			s.mu.Unlock()
			if progress >= 100 {
				return nil
			}
			report(progress)
		}
	}
}
