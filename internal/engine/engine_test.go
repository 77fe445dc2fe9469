package engine

import (
	"context"
	"testing"
	"time"

	"main/internal/audit"
	"main/internal/broker"
	"main/internal/bus"
	"main/internal/feed"
	"main/internal/ledger"
	"main/internal/obs"
	"main/internal/schema"
	"main/internal/strategy"
	"main/internal/universe"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	tick feed.Tick
	err  error
}

func (s *staticSource) Snapshot(context.Context) (feed.Tick, error) {
	return s.tick, s.err
}

func singleStockDeps(cash int64) (Deps, *staticSource) {
	instruments := []schema.Instrument{{
		ID: "A005930", Name: "Samsung Electronics",
		Price:  decimal.NewFromInt(10_000),
		Sector: schema.SectorIT, Kind: schema.KindStock, RiskGrade: 3,
		PER: decimal.NewFromFloat(14.5), PBR: decimal.NewFromFloat(1.3),
	}}
	source := &staticSource{tick: feed.Tick{
		Instruments: instruments,
		Macro:       schema.MacroSignal{Volatility: 15},
	}}
	return Deps{
		Universe:  universe.New(instruments, nil),
		Ledger:    ledger.New(decimal.NewFromInt(cash)),
		Queue:     bus.NewIntentQueue(),
		Evaluator: strategy.New(strategy.DefaultConfig()),
		Source:    source,
		Audit:     audit.NewLog(0),
		Metrics:   obs.NewMetrics(),
	}, source
}

func TestConfigDefaults(t *testing.T) {
	e := New(Config{}, Deps{})
	assert.Equal(t, 2*time.Second, e.cfg.PriceTick)
	assert.Equal(t, time.Second, e.cfg.ExecutionTick)
	assert.Equal(t, 5, e.cfg.RateLimit)
	assert.Equal(t, 230*time.Millisecond, e.cfg.SettleLatency)
	assert.False(t, e.cfg.LiveTrading)
}

func TestPriceTickEnqueuesRebalanceIntent(t *testing.T) {
	deps, _ := singleStockDeps(1_000_000)
	e := New(Config{}, deps)
	require.NoError(t, e.SetAllocations(schema.AllocationConfig{Macro: 100}))

	e.priceTick(context.Background())

	batch := deps.Queue.DrainBatch(10)
	require.Len(t, batch, 1)
	assert.Equal(t, schema.OrderSideBuy, batch[0].Side)
	assert.Equal(t, int64(100), batch[0].Quantity)
}

func TestExecutionTickSettlesBatch(t *testing.T) {
	deps, _ := singleStockDeps(1_000_000)
	e := New(Config{SettleLatency: time.Millisecond}, deps)
	require.NoError(t, e.SetAllocations(schema.AllocationConfig{Macro: 100}))

	e.priceTick(context.Background())
	e.executionTick(context.Background())
	e.settleWG.Wait()

	pos, ok := deps.Ledger.Position("A005930")
	require.True(t, ok)
	assert.Equal(t, int64(100), pos.Shares)
	assert.True(t, pos.AvgCost.Equal(decimal.NewFromInt(10_000)))
	assert.True(t, deps.Ledger.Cash().Equal(decimal.Zero), "cash %s", deps.Ledger.Cash())
}

func TestOversizedSellIsBlocked(t *testing.T) {
	deps, _ := singleStockDeps(1_000_000)
	e := New(Config{SettleLatency: time.Millisecond}, deps)
	require.NoError(t, e.SetAllocations(schema.AllocationConfig{Macro: 100}))

	e.priceTick(context.Background())
	e.executionTick(context.Background())
	e.settleWG.Wait()

	require.NoError(t, deps.Queue.Push(schema.OrderIntent{
		ID:           "naked-sell",
		Side:         schema.OrderSideSell,
		InstrumentID: "A005930",
		Price:        decimal.NewFromInt(10_000),
		Quantity:     150,
	}))
	e.executionTick(context.Background())
	e.settleWG.Wait()

	pos, ok := deps.Ledger.Position("A005930")
	require.True(t, ok)
	assert.Equal(t, int64(100), pos.Shares, "holdings must be unchanged after the blocked sell")

	var blocked bool
	for _, event := range deps.Audit.Events() {
		if event.Category == audit.CategorySecure && event.Level == audit.LevelError {
			blocked = true
		}
	}
	assert.True(t, blocked, "expected a SECURE audit event for the naked short attempt")
}

func TestExecutionTickRespectsRateLimit(t *testing.T) {
	deps, _ := singleStockDeps(0)
	e := New(Config{RateLimit: 5, SettleLatency: time.Millisecond}, deps)

	for i := 0; i < 7; i++ {
		require.NoError(t, deps.Queue.Push(schema.OrderIntent{
			ID:           string(rune('a' + i)),
			Side:         schema.OrderSideSell,
			InstrumentID: "A005930",
			Price:        decimal.NewFromInt(10_000),
			Quantity:     1,
		}))
	}

	e.executionTick(context.Background())
	assert.Equal(t, 5, deps.Metrics.InFlight())
	assert.Equal(t, 2, deps.Queue.Len())

	e.executionTick(context.Background())
	assert.Equal(t, 2, deps.Metrics.InFlight())
	assert.Equal(t, 0, deps.Queue.Len())
	e.settleWG.Wait()

	e.executionTick(context.Background())
	assert.Equal(t, 0, deps.Metrics.InFlight(), "empty queue must reset the in-flight gauge")
}

func TestFeedFailureKeepsEngineAlive(t *testing.T) {
	deps, source := singleStockDeps(1_000_000)
	e := New(Config{}, deps)
	require.NoError(t, e.SetAllocations(schema.AllocationConfig{Macro: 100}))

	source.err = feed.ErrUnavailable
	e.priceTick(context.Background())
	assert.Equal(t, 0, deps.Queue.Len(), "no intents on a failed feed tick")
	assert.Equal(t, uint64(1), deps.Metrics.Snapshot().FeedFailures)

	source.err = nil
	e.priceTick(context.Background())
	assert.Equal(t, 1, deps.Queue.Len())
}

func TestSetAllocationsRejectedWhileRunning(t *testing.T) {
	deps, _ := singleStockDeps(1_000_000)
	e := New(Config{PriceTick: time.Hour, ExecutionTick: time.Hour}, deps)
	require.NoError(t, e.Start(context.Background()))
	defer e.Stop()

	err := e.SetAllocations(schema.AllocationConfig{Macro: 10})
	assert.ErrorIs(t, err, ErrEngineRunning)
}

func TestSetAllocationsRejectsNegativeWeight(t *testing.T) {
	deps, _ := singleStockDeps(1_000_000)
	e := New(Config{}, deps)
	err := e.SetAllocations(schema.AllocationConfig{Macro: -1})
	assert.ErrorIs(t, err, ErrNegativeWeight)
}

type fakeBroker struct {
	placed  []broker.OrderRequest
	err     error
	balance broker.Balance
}

func (b *fakeBroker) PlaceOrder(_ context.Context, req broker.OrderRequest) error {
	if b.err != nil {
		return b.err
	}
	b.placed = append(b.placed, req)
	return nil
}

func (b *fakeBroker) FetchBalance(context.Context) (broker.Balance, error) {
	return b.balance, nil
}

func TestLiveForwardingTriggersAuthoritativeResync(t *testing.T) {
	deps, _ := singleStockDeps(1_000_000)
	brk := &fakeBroker{balance: broker.Balance{
		Cash: decimal.NewFromInt(777),
		Positions: []schema.Position{
			{InstrumentID: "A005930", Shares: 100, AvgCost: decimal.NewFromInt(10_000)},
			{InstrumentID: "B000001", Shares: 5, AvgCost: decimal.NewFromInt(3_000)},
		},
	}}
	deps.Broker = brk
	e := New(Config{LiveTrading: true}, deps)

	e.forward(context.Background(), schema.OrderIntent{
		ID:           "fwd",
		Side:         schema.OrderSideBuy,
		InstrumentID: "A005930",
		Price:        decimal.NewFromInt(10_000),
		Quantity:     100,
	})
	require.Len(t, brk.placed, 1)
	e.resync(context.Background())

	assert.True(t, deps.Ledger.Cash().Equal(decimal.NewFromInt(777)),
		"broker balance must win over the local ledger")
	_, ok := deps.Universe.Price("B000001")
	assert.True(t, ok, "held instrument discovered from the sync must join the universe")
}

func TestBrokerUnreachableDropsIntent(t *testing.T) {
	deps, _ := singleStockDeps(1_000_000)
	brk := &fakeBroker{err: broker.ErrUnreachable}
	deps.Broker = brk
	e := New(Config{LiveTrading: true}, deps)

	e.forward(context.Background(), schema.OrderIntent{
		ID:           "dropped",
		Side:         schema.OrderSideBuy,
		InstrumentID: "A005930",
		Price:        decimal.NewFromInt(10_000),
		Quantity:     1,
	})

	snapshot := deps.Metrics.Snapshot()
	assert.Equal(t, uint64(1), snapshot.ForwardFailures)
	assert.Equal(t, uint64(0), snapshot.OrdersForwarded)
	assert.True(t, deps.Ledger.Cash().Equal(decimal.NewFromInt(1_000_000)),
		"a dropped forward must not touch the ledger")

	var unreachable bool
	for _, event := range deps.Audit.Events() {
		if event.Category == audit.CategoryNetwork && event.Level == audit.LevelError {
			unreachable = true
		}
	}
	assert.True(t, unreachable, "expected a NETWORK audit event for the unreachable broker")
}

func TestBrokerRejectionIsAuditedAsRejection(t *testing.T) {
	deps, _ := singleStockDeps(1_000_000)
	brk := &fakeBroker{err: assert.AnError}
	deps.Broker = brk
	e := New(Config{LiveTrading: true}, deps)

	e.forward(context.Background(), schema.OrderIntent{
		ID:           "rejected",
		Side:         schema.OrderSideBuy,
		InstrumentID: "A005930",
		Price:        decimal.NewFromInt(10_000),
		Quantity:     1,
	})

	var rejected, unreachable bool
	for _, event := range deps.Audit.Events() {
		if event.Category == audit.CategoryExec && event.Level == audit.LevelError {
			rejected = true
		}
		if event.Category == audit.CategoryNetwork && event.Level == audit.LevelError {
			unreachable = true
		}
	}
	assert.True(t, rejected, "a broker-side rejection must be audited as EXEC")
	assert.False(t, unreachable, "a broker-side rejection is not a transport failure")
	assert.Equal(t, uint64(1), deps.Metrics.Snapshot().ForwardFailures)
}

func TestStartStopLifecycle(t *testing.T) {
	deps, _ := singleStockDeps(1_000_000)
	e := New(Config{PriceTick: time.Hour, ExecutionTick: time.Hour}, deps)

	require.NoError(t, e.Start(context.Background()))
	assert.True(t, e.Running())
	assert.ErrorIs(t, e.Start(context.Background()), ErrEngineRunning)

	e.Stop()
	assert.False(t, e.Running())
	e.Stop() // second stop is a no-op
}
