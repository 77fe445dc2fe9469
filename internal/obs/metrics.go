package obs

import (
	"sync/atomic"
	"time"

	"main/internal/schema"
)

const maxRejectReason = int(schema.RejectReasonInsufficientInventory)

// Metrics collects lightweight counters and latency stats for the engine.
type Metrics struct {
	intentsEnqueued     uint64
	settlementsAccepted uint64
	rejectCounts        [maxRejectReason + 1]uint64
	ordersForwarded     uint64
	forwardFailures     uint64
	feedFailures        uint64

	queueDepth int64
	inFlight   int64

	settleLatency LatencyStats
	evalLatency   LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	IntentsEnqueued     uint64
	SettlementsAccepted uint64
	RejectCounts        map[schema.RejectReason]uint64
	OrdersForwarded     uint64
	ForwardFailures     uint64
	FeedFailures        uint64
	QueueDepth          int64
	InFlight            int64
	SettleLatency       LatencySnapshot
	EvalLatency         LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncIntentEnqueued records one intent entering the queue.
func (m *Metrics) IncIntentEnqueued() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.intentsEnqueued, 1)
}

// IncSettlementAccepted records one accepted settlement.
func (m *Metrics) IncSettlementAccepted() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.settlementsAccepted, 1)
}

// IncReject increments the counter for a rejection reason.
func (m *Metrics) IncReject(reason schema.RejectReason) {
	if m == nil {
		return
	}
	idx := int(reason)
	if idx >= 0 && idx < len(m.rejectCounts) {
		atomic.AddUint64(&m.rejectCounts[idx], 1)
	}
}

// IncOrderForwarded records one order handed to the live broker.
func (m *Metrics) IncOrderForwarded() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.ordersForwarded, 1)
}

// IncForwardFailure records one unreachable-broker drop.
func (m *Metrics) IncForwardFailure() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.forwardFailures, 1)
}

// IncFeedFailure records one tick served from a stale snapshot.
func (m *Metrics) IncFeedFailure() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.feedFailures, 1)
}

// SetQueueDepth publishes the current queue length.
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	atomic.StoreInt64(&m.queueDepth, int64(depth))
}

// SetInFlight publishes the number of settlements dispatched this tick. This
// is the externally visible API usage signal.
func (m *Metrics) SetInFlight(n int) {
	if m == nil {
		return
	}
	atomic.StoreInt64(&m.inFlight, int64(n))
}

// InFlight returns the current in-flight gauge.
func (m *Metrics) InFlight() int {
	if m == nil {
		return 0
	}
	return int(atomic.LoadInt64(&m.inFlight))
}

// ObserveSettle measures one settlement round trip.
func (m *Metrics) ObserveSettle(d time.Duration) {
	if m == nil {
		return
	}
	m.settleLatency.Observe(d)
}

// ObserveEval measures one strategy evaluation.
func (m *Metrics) ObserveEval(d time.Duration) {
	if m == nil {
		return
	}
	m.evalLatency.Observe(d)
}

// Snapshot returns a copy of the current metrics values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	rejects := make(map[schema.RejectReason]uint64)
	for i := range m.rejectCounts {
		if v := atomic.LoadUint64(&m.rejectCounts[i]); v > 0 {
			rejects[schema.RejectReason(i)] = v
		}
	}
	return Snapshot{
		IntentsEnqueued:     atomic.LoadUint64(&m.intentsEnqueued),
		SettlementsAccepted: atomic.LoadUint64(&m.settlementsAccepted),
		RejectCounts:        rejects,
		OrdersForwarded:     atomic.LoadUint64(&m.ordersForwarded),
		ForwardFailures:     atomic.LoadUint64(&m.forwardFailures),
		FeedFailures:        atomic.LoadUint64(&m.feedFailures),
		QueueDepth:          atomic.LoadInt64(&m.queueDepth),
		InFlight:            atomic.LoadInt64(&m.inFlight),
		SettleLatency:       m.settleLatency.Snapshot(),
		EvalLatency:         m.evalLatency.Snapshot(),
	}
}

// Observe records a duration sample.
func (l *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	nanos := uint64(d)
	atomic.AddUint64(&l.count, 1)
	atomic.AddUint64(&l.sum, nanos)

	for {
		min := atomic.LoadUint64(&l.min)
		if min != 0 && nanos >= min {
			break
		}
		if atomic.CompareAndSwapUint64(&l.min, min, nanos) {
			break
		}
	}

	for {
		max := atomic.LoadUint64(&l.max)
		if nanos <= max {
			break
		}
		if atomic.CompareAndSwapUint64(&l.max, max, nanos) {
			break
		}
	}
}

// Snapshot returns the aggregated latency stats.
func (l *LatencyStats) Snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&l.count)
	if count == 0 {
		return LatencySnapshot{}
	}
	sum := atomic.LoadUint64(&l.sum)
	min := atomic.LoadUint64(&l.min)
	max := atomic.LoadUint64(&l.max)
	return LatencySnapshot{
		Count: count,
		Min:   time.Duration(min),
		Max:   time.Duration(max),
		Avg:   time.Duration(sum / count),
	}
}
