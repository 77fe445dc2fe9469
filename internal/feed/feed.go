package feed

import (
	"context"
	"errors"

	"main/internal/schema"
)

// ErrUnavailable marks an upstream feed failure. Callers keep working with
// the previous snapshot; feed loss never crashes the engine.
var ErrUnavailable = errors.New("feed unavailable")

// Tick is one delivery of the price/macro feed.
type Tick struct {
	Instruments []schema.Instrument
	Macro       schema.MacroSignal
}

// Source delivers universe and macro snapshots on demand. The engine polls it
// on a fixed period; any price source satisfying this contract is
// substitutable.
type Source interface {
	Snapshot(ctx context.Context) (Tick, error)
}
