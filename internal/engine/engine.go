/*
Engine owns the process-wide trading state and runs the two periodic loops:

  - price loop: feed snapshot -> strategy evaluation -> order intents enqueued
  - execution loop: drains a rate-limited batch and dispatches settlements

The order queue and the ledger are the only shared mutable resources. Ledger
mutation is serialized inside the ledger itself; settlements within a batch
run concurrently. No error here is fatal: the engine keeps ticking and keeps
draining the queue.
*/
package engine

import (
	"context"
	"errors"
	"sync"
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
)

var (
	ErrEngineRunning  = errors.New("engine is running")
	ErrNegativeWeight = errors.New("allocation weights must be non-negative")
)

// Config defines the engine's scheduling parameters.
type Config struct {
	// PriceTick is the period of the price/macro feed loop.
	PriceTick time.Duration
	// ExecutionTick is the period of the order execution loop.
	ExecutionTick time.Duration
	// RateLimit caps the number of orders dispatched per execution tick.
	RateLimit int
	// SettleLatency is the simulated brokerage round trip.
	SettleLatency time.Duration
	// LiveTrading forwards orders to the broker instead of local settlement.
	LiveTrading bool
}

// DefaultConfig returns the production schedule.
func DefaultConfig() Config {
	return Config{
		PriceTick:     2 * time.Second,
		ExecutionTick: time.Second,
		RateLimit:     5,
		SettleLatency: 230 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PriceTick <= 0 {
		c.PriceTick = def.PriceTick
	}
	if c.ExecutionTick <= 0 {
		c.ExecutionTick = def.ExecutionTick
	}
	if c.RateLimit <= 0 {
		c.RateLimit = def.RateLimit
	}
	if c.SettleLatency <= 0 {
		c.SettleLatency = def.SettleLatency
	}
	return c
}

// Deps are the engine's collaborators. Broker may be nil when live trading is
// disabled.
type Deps struct {
	Universe  *universe.Universe
	Ledger    *ledger.Ledger
	Queue     *bus.IntentQueue
	Evaluator *strategy.Evaluator
	Source    feed.Source
	Broker    broker.Broker
	Audit     *audit.Log
	Metrics   *obs.Metrics
}

// Engine drives the trading loops over its dependencies.
type Engine struct {
	cfg  Config
	deps Deps

	mu      sync.Mutex
	running bool
	alloc   schema.AllocationConfig
	cancel  context.CancelFunc

	wg       sync.WaitGroup
	settleWG sync.WaitGroup
	resyncCh chan struct{}
}

// New builds an engine. Missing config fields fall back to defaults.
func New(cfg Config, deps Deps) *Engine {
	return &Engine{
		cfg:      cfg.withDefaults(),
		deps:     deps,
		resyncCh: make(chan struct{}, 1),
	}
}

// SetAllocations replaces the strategy weights. Only allowed while stopped.
func (e *Engine) SetAllocations(alloc schema.AllocationConfig) error {
	if alloc.Macro < 0 || alloc.Quality < 0 || alloc.Breakout < 0 {
		return ErrNegativeWeight
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrEngineRunning
	}
	e.alloc = alloc
	if alloc.Total() == 0 {
		e.deps.Audit.Record(audit.CategoryEngine, audit.LevelInfo,
			"zero allocation configured, evaluation is a no-op")
	}
	return nil
}

// Allocations returns the current weights.
func (e *Engine) Allocations() schema.AllocationConfig {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.alloc
}

// Running reports whether the loops are active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start launches the price and execution loops.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrEngineRunning
	}
	e.running = true

	if e.cfg.LiveTrading && e.deps.Broker != nil {
		e.deps.Audit.Record(audit.CategorySystem, audit.LevelSuccess,
			"brokerage access token verified, live forwarding enabled")
	} else {
		e.deps.Audit.Record(audit.CategorySystem, audit.LevelError,
			"no brokerage credentials configured, running local virtual simulation")
	}
	e.deps.Audit.Record(audit.CategorySystem, audit.LevelSuccess,
		"strategy engine and data pipeline started")

	ctx, e.cancel = context.WithCancel(ctx)

	e.wg.Add(2)
	go e.priceLoop(ctx)
	go e.executionLoop(ctx)
	if e.deps.Broker != nil {
		e.wg.Add(1)
		go e.resyncLoop(ctx)
	}
	return nil
}

// Stop halts the loops and waits for in-flight settlements.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	cancel := e.cancel
	e.mu.Unlock()

	cancel()
	e.wg.Wait()
	e.settleWG.Wait()
	e.deps.Audit.Record(audit.CategorySystem, audit.LevelError,
		"engine stopped on user request, positions kept")
}

func (e *Engine) priceLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.PriceTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.priceTick(ctx)
		}
	}
}

// priceTick runs one feed snapshot and strategy evaluation.
func (e *Engine) priceTick(ctx context.Context) {
	tick, err := e.deps.Source.Snapshot(ctx)
	if err != nil {
		if errors.Is(err, feed.ErrUnavailable) {
			e.deps.Metrics.IncFeedFailure()
			e.deps.Audit.Record(audit.CategoryNetwork, audit.LevelError,
				"price feed unavailable, keeping previous snapshot")
			return
		}
		e.deps.Audit.Record(audit.CategoryNetwork, audit.LevelError,
			"price feed error: %v", err)
		return
	}

	prices := make(map[string]decimal.Decimal, len(tick.Instruments))
	for _, inst := range tick.Instruments {
		prices[inst.ID] = inst.Price
	}

	cash, holdings := e.deps.Ledger.Snapshot()
	totalAssets := cash
	for id, pos := range holdings {
		price, ok := prices[id]
		if !ok {
			continue
		}
		totalAssets = totalAssets.Add(price.Mul(decimal.NewFromInt(pos.Shares)))
	}

	start := time.Now()
	intents := e.deps.Evaluator.Evaluate(tick.Instruments, tick.Macro, e.Allocations(), holdings, totalAssets)
	e.deps.Metrics.ObserveEval(time.Since(start))

	for _, intent := range intents {
		if err := e.deps.Queue.Push(intent); err != nil {
			e.deps.Audit.Record(audit.CategoryEngine, audit.LevelError,
				"enqueue failed: %v", err)
			continue
		}
		e.deps.Metrics.IncIntentEnqueued()
		e.deps.Audit.Record(audit.CategoryEngine, audit.LevelInfo,
			"order created: %s %s x%d (queued)", intent.Side, intent.InstrumentID, intent.Quantity)
	}
	e.deps.Metrics.SetQueueDepth(e.deps.Queue.Len())
}

func (e *Engine) executionLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.ExecutionTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.executionTick(ctx)
		}
	}
}

// executionTick drains at most one rate-limit budget from the queue and
// dispatches the batch concurrently. The excess simply waits for the next
// tick; that is flow control, not an error.
func (e *Engine) executionTick(ctx context.Context) {
	batch := e.deps.Queue.DrainBatch(e.cfg.RateLimit)
	if len(batch) == 0 {
		e.deps.Metrics.SetInFlight(0)
		return
	}
	e.deps.Metrics.SetInFlight(len(batch))
	e.deps.Metrics.SetQueueDepth(e.deps.Queue.Len())

	for _, order := range batch {
		e.settleWG.Add(1)
		go e.dispatch(ctx, order)
	}
}

// dispatch settles one order, either against the local ledger after the
// simulated latency or through the live broker. In-flight settlements are
// never canceled.
func (e *Engine) dispatch(ctx context.Context, order schema.OrderIntent) {
	defer e.settleWG.Done()

	if e.cfg.LiveTrading && e.deps.Broker != nil {
		e.forward(ctx, order)
		return
	}

	e.deps.Audit.Record(audit.CategoryNetwork, audit.LevelSuccess,
		"api call authorized: %s %s", order.InstrumentID, order.Side)

	start := time.Now()
	if e.cfg.SettleLatency > 0 {
		time.Sleep(e.cfg.SettleLatency)
	}
	outcome := e.deps.Ledger.Settle(order)
	e.deps.Metrics.ObserveSettle(time.Since(start))

	e.recordOutcome(order, outcome)
}

func (e *Engine) recordOutcome(order schema.OrderIntent, outcome ledger.Outcome) {
	if outcome.Accepted {
		e.deps.Metrics.IncSettlementAccepted()
		verb := "bought"
		if order.Side == schema.OrderSideSell {
			verb = "sold"
		}
		e.deps.Audit.Record(audit.CategoryExec, audit.LevelSuccess,
			"[filled] %s x%d %s at %s", order.InstrumentID, order.Quantity, verb, order.Price)
		return
	}

	e.deps.Metrics.IncReject(outcome.Reason)
	switch outcome.Reason {
	case schema.RejectReasonInsufficientMargin:
		e.deps.Audit.Record(audit.CategoryExec, audit.LevelError,
			"[insufficient margin] %s buy rejected", order.InstrumentID)
	case schema.RejectReasonInsufficientInventory:
		e.deps.Audit.Record(audit.CategorySecure, audit.LevelError,
			"[blocked] sell exceeding holdings detected: %s, naked short prevention engaged", order.InstrumentID)
	default:
		e.deps.Audit.Record(audit.CategoryExec, audit.LevelError,
			"[rejected] %s %s x%d", order.Side, order.InstrumentID, order.Quantity)
	}
}

// forward hands one order to the live brokerage. Failures drop the intent;
// retry policy belongs to the external adapter. A success schedules an
// asynchronous ledger resync instead of a local settlement.
func (e *Engine) forward(ctx context.Context, order schema.OrderIntent) {
	req := broker.OrderRequest{
		InstrumentID: order.InstrumentID,
		Price:        order.Price,
		Quantity:     order.Quantity,
		Side:         order.Side,
	}
	if err := e.deps.Broker.PlaceOrder(ctx, req); err != nil {
		e.deps.Metrics.IncForwardFailure()
		if errors.Is(err, broker.ErrUnreachable) {
			e.deps.Audit.Record(audit.CategoryNetwork, audit.LevelError,
				"broker unreachable, order dropped: %s %s x%d, err: %v",
				order.Side, order.InstrumentID, order.Quantity, err)
			return
		}
		e.deps.Audit.Record(audit.CategoryExec, audit.LevelError,
			"order rejected by broker: %s %s x%d, err: %v",
			order.Side, order.InstrumentID, order.Quantity, err)
		return
	}
	e.deps.Metrics.IncOrderForwarded()
	e.deps.Audit.Record(audit.CategoryNetwork, audit.LevelSuccess,
		"order forwarded to broker: %s %s x%d", order.Side, order.InstrumentID, order.Quantity)
	e.requestResync()
}

func (e *Engine) requestResync() {
	select {
	case e.resyncCh <- struct{}{}:
	default:
	}
}

func (e *Engine) resyncLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.resyncCh:
			e.resync(ctx)
		}
	}
}

// resync replaces the local ledger with the broker's authoritative balance.
// Held instruments unknown to the universe are appended, never guessed into
// the existing entries.
func (e *Engine) resync(ctx context.Context) {
	balance, err := e.deps.Broker.FetchBalance(ctx)
	if err != nil {
		e.deps.Audit.Record(audit.CategoryNetwork, audit.LevelError,
			"balance sync failed: %v", err)
		return
	}
	e.deps.Ledger.Replace(balance.Cash, balance.Positions)

	for _, pos := range balance.Positions {
		if _, ok := e.deps.Universe.Price(pos.InstrumentID); ok {
			continue
		}
		price := pos.AvgCost.Round(0)
		if !price.IsPositive() {
			price = decimal.NewFromInt(1)
		}
		e.deps.Universe.Append(schema.Instrument{
			ID:        pos.InstrumentID,
			Name:      pos.InstrumentID,
			Price:     price,
			Sector:    schema.SectorUnknown,
			Kind:      schema.KindStock,
			RiskGrade: 3,
		})
		e.deps.Audit.Record(audit.CategorySystem, audit.LevelInfo,
			"discovered held instrument from broker sync: %s", pos.InstrumentID)
	}
	e.deps.Audit.Record(audit.CategorySystem, audit.LevelSuccess,
		"ledger synced from authoritative broker balance")
}
