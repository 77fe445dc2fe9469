package strategy

import (
	"time"

	"main/internal/schema"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Config defines the evaluator's static parameters.
type Config struct {
	// RebalanceThreshold is the minimum notional change that justifies an
	// order. Full liquidations fire regardless of it.
	RebalanceThreshold decimal.Decimal
	// VolatilityCeiling switches the macro pool into defensive assets.
	VolatilityCeiling float64
}

// DefaultConfig returns the production parameter set.
func DefaultConfig() Config {
	return Config{
		RebalanceThreshold: decimal.NewFromInt(500_000),
		VolatilityCeiling:  20,
	}
}

// Evaluator turns a universe snapshot into rebalancing order intents. It is
// deterministic: identical inputs produce identical intents up to the
// generated intent IDs and timestamps.
type Evaluator struct {
	cfg   Config
	newID func() string
	now   func() time.Time
}

// New creates an evaluator with the given parameters.
func New(cfg Config) *Evaluator {
	if cfg.RebalanceThreshold.IsZero() {
		cfg.RebalanceThreshold = DefaultConfig().RebalanceThreshold
	}
	if cfg.VolatilityCeiling == 0 {
		cfg.VolatilityCeiling = DefaultConfig().VolatilityCeiling
	}
	return &Evaluator{
		cfg:   cfg,
		newID: uuid.NewString,
		now:   time.Now,
	}
}

// Evaluate computes target weights across the three strategy pools and emits
// one intent per instrument whose holding drifted past the rebalance
// threshold. A zero allocation total is an explicit no-op.
func (e *Evaluator) Evaluate(
	instruments []schema.Instrument,
	macro schema.MacroSignal,
	alloc schema.AllocationConfig,
	holdings map[string]schema.Position,
	totalAssets decimal.Decimal,
) []schema.OrderIntent {
	totalWeight := alloc.Total()
	if totalWeight == 0 {
		return nil
	}

	targetWeights := make(map[string]decimal.Decimal, len(instruments))

	accumulate := func(pool []schema.Instrument, weight float64) {
		if len(pool) == 0 || weight <= 0 {
			return
		}
		per := decimal.NewFromFloat(weight / totalWeight).
			Div(decimal.NewFromInt(int64(len(pool))))
		for _, inst := range pool {
			targetWeights[inst.ID] = targetWeights[inst.ID].Add(per)
		}
	}

	accumulate(e.macroPool(instruments, macro), alloc.Macro)
	accumulate(qualityPool(instruments), alloc.Quality)
	accumulate(breakoutPool(instruments), alloc.Breakout)

	var intents []schema.OrderIntent
	for _, inst := range instruments {
		if !inst.Price.IsPositive() {
			continue
		}
		targetValue := totalAssets.Mul(targetWeights[inst.ID])
		targetShares := targetValue.Div(inst.Price).IntPart()

		currentShares := int64(0)
		if pos, ok := holdings[inst.ID]; ok {
			currentShares = pos.Shares
		}

		diff := targetShares - currentShares
		if diff == 0 {
			continue
		}

		notional := inst.Price.Mul(decimal.NewFromInt(abs(diff)))
		liquidation := targetShares == 0 && currentShares > 0
		if !liquidation && notional.LessThanOrEqual(e.cfg.RebalanceThreshold) {
			continue
		}

		side := schema.OrderSideBuy
		if diff < 0 {
			side = schema.OrderSideSell
		}
		intents = append(intents, schema.OrderIntent{
			ID:           e.newID(),
			Side:         side,
			InstrumentID: inst.ID,
			Price:        inst.Price,
			Quantity:     abs(diff),
			CreatedAt:    e.now(),
		})
	}
	return intents
}

// macroPool selects defensive assets above the volatility ceiling, otherwise
// all single stocks.
func (e *Evaluator) macroPool(instruments []schema.Instrument, macro schema.MacroSignal) []schema.Instrument {
	var pool []schema.Instrument
	if macro.Volatility > e.cfg.VolatilityCeiling {
		for _, inst := range instruments {
			if inst.Sector == schema.SectorBond || inst.Sector == schema.SectorHedge {
				pool = append(pool, inst)
			}
		}
		return pool
	}
	for _, inst := range instruments {
		if inst.Kind == schema.KindStock {
			pool = append(pool, inst)
		}
	}
	return pool
}

var (
	qualityMaxPBR = decimal.NewFromInt(1)
	qualityMaxPER = decimal.NewFromInt(10)
)

// qualityPool selects cheap stocks: PBR < 1.0 and PER < 10.
func qualityPool(instruments []schema.Instrument) []schema.Instrument {
	var pool []schema.Instrument
	for _, inst := range instruments {
		if inst.Kind == schema.KindStock &&
			inst.PBR.LessThan(qualityMaxPBR) &&
			inst.PER.LessThan(qualityMaxPER) {
			pool = append(pool, inst)
		}
	}
	return pool
}

// breakoutPool selects aggressive non-bond instruments with risk grade <= 3.
func breakoutPool(instruments []schema.Instrument) []schema.Instrument {
	var pool []schema.Instrument
	for _, inst := range instruments {
		if inst.RiskGrade <= 3 && inst.Sector != schema.SectorBond {
			pool = append(pool, inst)
		}
	}
	return pool
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
