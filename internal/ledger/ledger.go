package ledger

import (
	"sync"

	"main/internal/schema"

	"github.com/shopspring/decimal"
)

// Outcome is the result of settling one order against the ledger.
type Outcome struct {
	Accepted bool
	Reason   schema.RejectReason
}

// Ledger holds the cash balance and per-instrument holdings. All mutation
// goes through Settle or Replace inside a single-writer critical section;
// concurrent settlements never interleave into a torn read of cash or shares.
type Ledger struct {
	mu        sync.Mutex
	cash      decimal.Decimal
	positions map[string]schema.Position
}

// New creates a ledger with the given starting cash.
func New(initialCash decimal.Decimal) *Ledger {
	return &Ledger{
		cash:      initialCash,
		positions: make(map[string]schema.Position),
	}
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cash
}

// Position returns the holding for an instrument, if any.
func (l *Ledger) Position(instrumentID string) (schema.Position, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[instrumentID]
	return pos, ok
}

// Snapshot returns a consistent copy of cash and holdings.
func (l *Ledger) Snapshot() (decimal.Decimal, map[string]schema.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	positions := make(map[string]schema.Position, len(l.positions))
	for id, pos := range l.positions {
		positions[id] = pos
	}
	return l.cash, positions
}

// TotalAssets values the ledger against the given price source. Holdings
// without a quoted price contribute nothing.
func (l *Ledger) TotalAssets(price func(instrumentID string) (decimal.Decimal, bool)) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := l.cash
	for id, pos := range l.positions {
		p, ok := price(id)
		if !ok {
			continue
		}
		total = total.Add(p.Mul(decimal.NewFromInt(pos.Shares)))
	}
	return total
}

// Settle validates and applies one order. A BUY exceeding cash is rejected
// with INSUFFICIENT_MARGIN; a SELL exceeding held shares is rejected with
// INSUFFICIENT_INVENTORY regardless of margin. Rejections leave the ledger
// untouched.
func (l *Ledger) Settle(order schema.OrderIntent) Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch order.Side {
	case schema.OrderSideBuy:
		return l.settleBuy(order)
	case schema.OrderSideSell:
		return l.settleSell(order)
	default:
		return Outcome{Accepted: false, Reason: schema.RejectReasonNone}
	}
}

func (l *Ledger) settleBuy(order schema.OrderIntent) Outcome {
	cost := order.Notional()
	if l.cash.LessThan(cost) {
		return Outcome{Accepted: false, Reason: schema.RejectReasonInsufficientMargin}
	}

	pos := l.positions[order.InstrumentID]
	held := decimal.NewFromInt(pos.Shares).Mul(pos.AvgCost)
	newShares := pos.Shares + order.Quantity

	l.cash = l.cash.Sub(cost)
	l.positions[order.InstrumentID] = schema.Position{
		InstrumentID: order.InstrumentID,
		Shares:       newShares,
		AvgCost:      held.Add(cost).Div(decimal.NewFromInt(newShares)),
	}
	return Outcome{Accepted: true}
}

func (l *Ledger) settleSell(order schema.OrderIntent) Outcome {
	pos, ok := l.positions[order.InstrumentID]
	if !ok || pos.Shares < order.Quantity {
		return Outcome{Accepted: false, Reason: schema.RejectReasonInsufficientInventory}
	}

	l.cash = l.cash.Add(order.Notional())
	pos.Shares -= order.Quantity
	if pos.Shares == 0 {
		delete(l.positions, order.InstrumentID)
		return Outcome{Accepted: true}
	}
	l.positions[order.InstrumentID] = pos
	return Outcome{Accepted: true}
}

// Replace swaps the entire ledger state for an authoritative external
// balance. Positions with zero shares are dropped.
func (l *Ledger) Replace(cash decimal.Decimal, positions []schema.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cash = cash
	l.positions = make(map[string]schema.Position, len(positions))
	for _, pos := range positions {
		if pos.Shares <= 0 {
			continue
		}
		l.positions[pos.InstrumentID] = pos
	}
}
