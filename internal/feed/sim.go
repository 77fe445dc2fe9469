package feed

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"main/internal/schema"
	"main/internal/universe"
)

const volatilityFloor = 10.0

// SimSource generates the price/macro feed locally: the macro volatility
// random-walks and every snapshot advances the universe one stochastic tick.
type SimSource struct {
	mu       sync.Mutex
	universe *universe.Universe
	macro    schema.MacroSignal
	rng      *rand.Rand
}

// NewSimSource wraps a universe with a simulated macro signal. A nil rng
// falls back to a time-seeded source.
func NewSimSource(u *universe.Universe, macro schema.MacroSignal, rng *rand.Rand) *SimSource {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if macro.Volatility < volatilityFloor {
		macro.Volatility = volatilityFloor
	}
	return &SimSource{universe: u, macro: macro, rng: rng}
}

// Snapshot advances the macro signal and universe and returns the result.
func (s *SimSource) Snapshot(_ context.Context) (Tick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.macro.Volatility += (s.rng.Float64() - 0.45) * 2
	if s.macro.Volatility < volatilityFloor {
		s.macro.Volatility = volatilityFloor
	}

	return Tick{
		Instruments: s.universe.Advance(s.macro),
		Macro:       s.macro,
	}, nil
}
