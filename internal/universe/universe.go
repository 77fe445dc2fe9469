package universe

import (
	"math/rand"
	"sync"
	"time"

	"main/internal/schema"

	"github.com/shopspring/decimal"
)

const (
	baseVolatility = 0.01
	bondVolatility = 0.002
	trendAnchor    = 15.0
)

var minPrice = decimal.NewFromInt(1)

// Universe holds the current price and metadata of every tradable instrument.
// Instruments may be appended when a broker sync discovers a held but unknown
// entry; they are never removed.
type Universe struct {
	mu          sync.RWMutex
	instruments []schema.Instrument
	index       map[string]int
	rng         *rand.Rand
}

// New builds a universe from the given instruments. A nil rng falls back to a
// time-seeded source.
func New(instruments []schema.Instrument, rng *rand.Rand) *Universe {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	u := &Universe{
		instruments: make([]schema.Instrument, 0, len(instruments)),
		index:       make(map[string]int, len(instruments)),
		rng:         rng,
	}
	for _, inst := range instruments {
		u.append(inst)
	}
	return u
}

// Snapshot returns a copy of the current instrument list in insertion order.
func (u *Universe) Snapshot() []schema.Instrument {
	u.mu.RLock()
	defer u.mu.RUnlock()
	out := make([]schema.Instrument, len(u.instruments))
	copy(out, u.instruments)
	return out
}

// Price returns the current price of an instrument.
func (u *Universe) Price(id string) (decimal.Decimal, bool) {
	u.mu.RLock()
	defer u.mu.RUnlock()
	idx, ok := u.index[id]
	if !ok {
		return decimal.Zero, false
	}
	return u.instruments[idx].Price, true
}

// Append registers an instrument discovered outside the initial universe.
// Known IDs are left untouched.
func (u *Universe) Append(inst schema.Instrument) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	if _, ok := u.index[inst.ID]; ok {
		return false
	}
	u.append(inst)
	return true
}

// SetPrice overwrites the price of a known instrument. Used by live feeds.
func (u *Universe) SetPrice(id string, price decimal.Decimal) bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	idx, ok := u.index[id]
	if !ok || price.LessThan(minPrice) {
		return false
	}
	u.instruments[idx].Price = price
	return true
}

// Advance applies one stochastic price tick to every instrument and returns
// the updated snapshot. Bonds move with reduced volatility and no trend,
// hedges trend with volatility, everything else trends against it.
func (u *Universe) Advance(macro schema.MacroSignal) []schema.Instrument {
	u.mu.Lock()
	defer u.mu.Unlock()

	for i := range u.instruments {
		inst := &u.instruments[i]

		volatility := baseVolatility
		trend := 0.0
		switch inst.Sector {
		case schema.SectorHedge:
			trend = (macro.Volatility - trendAnchor) * 0.002
		case schema.SectorBond:
			volatility = bondVolatility
		default:
			trend = (trendAnchor - macro.Volatility) * 0.001
		}

		change := 1 + trend + (u.rng.Float64()-0.5)*volatility
		next := inst.Price.Mul(decimal.NewFromFloat(change)).Round(0)
		if next.LessThan(minPrice) {
			next = minPrice
		}
		inst.Price = next
	}

	out := make([]schema.Instrument, len(u.instruments))
	copy(out, u.instruments)
	return out
}

func (u *Universe) append(inst schema.Instrument) {
	u.index[inst.ID] = len(u.instruments)
	u.instruments = append(u.instruments, inst)
}

// DefaultInstruments returns the built-in KRX test universe.
func DefaultInstruments() []schema.Instrument {
	return []schema.Instrument{
		{
			ID: "A005930", Name: "Samsung Electronics",
			Price:  decimal.NewFromInt(75000),
			Sector: schema.SectorIT, Kind: schema.KindStock, RiskGrade: 3,
			PER: decimal.NewFromFloat(14.5), PBR: decimal.NewFromFloat(1.3),
		},
		{
			ID: "A005380", Name: "Hyundai Motor",
			Price:  decimal.NewFromInt(240000),
			Sector: schema.SectorAuto, Kind: schema.KindStock, RiskGrade: 3,
			PER: decimal.NewFromFloat(5.2), PBR: decimal.NewFromFloat(0.6),
		},
		{
			ID: "A148070", Name: "KTB 10Y Active",
			Price:  decimal.NewFromInt(105000),
			Sector: schema.SectorBond, Kind: schema.KindETF, RiskGrade: 5,
		},
		{
			ID: "A130680", Name: "WTI Crude Futures",
			Price:  decimal.NewFromInt(18000),
			Sector: schema.SectorCommodity, Kind: schema.KindETF, RiskGrade: 1,
		},
		{
			ID: "A114800", Name: "KODEX Inverse",
			Price:  decimal.NewFromInt(4200),
			Sector: schema.SectorHedge, Kind: schema.KindETF, RiskGrade: 2,
		},
	}
}
