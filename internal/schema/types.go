package schema

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Sector classifies an instrument for pool selection and price drift.
type Sector uint16

const (
	SectorUnknown Sector = iota
	SectorIT
	SectorAuto
	SectorBond
	SectorCommodity
	SectorHedge
)

var sectorNames = map[Sector]string{
	SectorIT:        "IT",
	SectorAuto:      "AUTO",
	SectorBond:      "BOND",
	SectorCommodity: "COMMODITY",
	SectorHedge:     "HEDGE",
}

func (s Sector) String() string {
	if name, ok := sectorNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// MarshalText implements encoding.TextMarshaler for config files.
func (s Sector) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for config files.
func (s *Sector) UnmarshalText(text []byte) error {
	for sector, name := range sectorNames {
		if name == string(text) {
			*s = sector
			return nil
		}
	}
	return fmt.Errorf("unknown sector: %s", text)
}

// InstrumentKind distinguishes single stocks from funds.
type InstrumentKind uint16

const (
	KindUnknown InstrumentKind = iota
	KindStock
	KindETF
)

func (k InstrumentKind) String() string {
	switch k {
	case KindStock:
		return "STOCK"
	case KindETF:
		return "ETF"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements encoding.TextMarshaler for config files.
func (k InstrumentKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler for config files.
func (k *InstrumentKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "STOCK":
		*k = KindStock
	case "ETF":
		*k = KindETF
	default:
		return fmt.Errorf("unknown instrument kind: %s", text)
	}
	return nil
}

// Instrument is one tradable entry of the universe.
type Instrument struct {
	ID        string
	Name      string
	Price     decimal.Decimal
	Sector    Sector
	Kind      InstrumentKind
	RiskGrade int
	PER       decimal.Decimal
	PBR       decimal.Decimal
}

// Position tracks held shares and their average cost for one instrument.
// Shares == 0 implies the position does not exist in the ledger.
type Position struct {
	InstrumentID string
	Shares       int64
	AvgCost      decimal.Decimal
}

// OrderSide describes order direction.
type OrderSide uint16

const (
	OrderSideUnknown OrderSide = iota
	OrderSideBuy
	OrderSideSell
)

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "BUY"
	case OrderSideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// OrderIntent is a proposed order not yet settled. Immutable once created.
type OrderIntent struct {
	ID           string
	Side         OrderSide
	InstrumentID string
	Price        decimal.Decimal
	Quantity     int64
	CreatedAt    time.Time
}

// Notional returns the monetary value of the intent at its observed price.
func (o OrderIntent) Notional() decimal.Decimal {
	return o.Price.Mul(decimal.NewFromInt(o.Quantity))
}

// RejectReason describes why a settlement was refused.
type RejectReason uint16

const (
	RejectReasonNone RejectReason = iota
	RejectReasonInsufficientMargin
	RejectReasonInsufficientInventory
)

func (r RejectReason) String() string {
	switch r {
	case RejectReasonNone:
		return "NONE"
	case RejectReasonInsufficientMargin:
		return "INSUFFICIENT_MARGIN"
	case RejectReasonInsufficientInventory:
		return "INSUFFICIENT_INVENTORY"
	default:
		return "UNKNOWN"
	}
}

// MacroSignal drives instrument price drift and macro pool selection.
type MacroSignal struct {
	Volatility float64
	Rate       float64
}

// AllocationConfig holds the capital weights of the three strategies.
// A zero total is a defined no-op, not an error.
type AllocationConfig struct {
	Macro    float64
	Quality  float64
	Breakout float64
}

// Total returns the weight sum used for pool scaling.
func (a AllocationConfig) Total() float64 {
	return a.Macro + a.Quality + a.Breakout
}
