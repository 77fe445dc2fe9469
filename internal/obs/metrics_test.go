package obs

import (
	"testing"
	"time"

	"main/internal/schema"

	"github.com/stretchr/testify/assert"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.IncIntentEnqueued()
	m.IncIntentEnqueued()
	m.IncSettlementAccepted()
	m.IncReject(schema.RejectReasonInsufficientMargin)
	m.IncReject(schema.RejectReasonInsufficientInventory)
	m.IncReject(schema.RejectReasonInsufficientInventory)
	m.SetQueueDepth(7)
	m.SetInFlight(5)

	snapshot := m.Snapshot()
	assert.Equal(t, uint64(2), snapshot.IntentsEnqueued)
	assert.Equal(t, uint64(1), snapshot.SettlementsAccepted)
	assert.Equal(t, uint64(1), snapshot.RejectCounts[schema.RejectReasonInsufficientMargin])
	assert.Equal(t, uint64(2), snapshot.RejectCounts[schema.RejectReasonInsufficientInventory])
	assert.Equal(t, int64(7), snapshot.QueueDepth)
	assert.Equal(t, int64(5), snapshot.InFlight)
}

func TestLatencyStats(t *testing.T) {
	var stats LatencyStats
	stats.Observe(10 * time.Millisecond)
	stats.Observe(30 * time.Millisecond)
	stats.Observe(20 * time.Millisecond)

	snapshot := stats.Snapshot()
	assert.Equal(t, uint64(3), snapshot.Count)
	assert.Equal(t, 10*time.Millisecond, snapshot.Min)
	assert.Equal(t, 30*time.Millisecond, snapshot.Max)
	assert.Equal(t, 20*time.Millisecond, snapshot.Avg)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.IncIntentEnqueued()
	m.IncReject(schema.RejectReasonInsufficientMargin)
	m.SetInFlight(3)
	m.ObserveSettle(time.Millisecond)
	assert.Equal(t, Snapshot{}, m.Snapshot())
}
