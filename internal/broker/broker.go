package broker

import (
	"context"
	"errors"

	"main/internal/schema"

	"github.com/shopspring/decimal"
)

// ErrUnreachable marks a forwarding failure. The intent is dropped and the
// drop is audited; retry policy belongs to the external adapter.
var ErrUnreachable = errors.New("broker unreachable")

// OrderRequest is the side-channel order forwarded to a live brokerage.
// A zero price means a market order.
type OrderRequest struct {
	InstrumentID string
	Price        decimal.Decimal
	Quantity     int64
	Side         schema.OrderSide
}

// Balance is the brokerage's authoritative view of the account. On resync it
// replaces the local ledger entirely.
type Balance struct {
	Cash      decimal.Decimal
	Positions []schema.Position
}

// Broker forwards orders to an external brokerage and reports balances.
type Broker interface {
	PlaceOrder(ctx context.Context, req OrderRequest) error
	FetchBalance(ctx context.Context) (Balance, error)
}
