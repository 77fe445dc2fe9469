package ledger

import (
	"testing"

	"main/internal/schema"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buy(id string, price, qty int64) schema.OrderIntent {
	return schema.OrderIntent{
		ID:           "order-" + id,
		Side:         schema.OrderSideBuy,
		InstrumentID: id,
		Price:        decimal.NewFromInt(price),
		Quantity:     qty,
	}
}

func sell(id string, price, qty int64) schema.OrderIntent {
	o := buy(id, price, qty)
	o.Side = schema.OrderSideSell
	return o
}

func TestSettleBuyAndAverageCost(t *testing.T) {
	l := New(decimal.NewFromInt(3_000_000))

	outcome := l.Settle(buy("A005930", 10_000, 100))
	require.True(t, outcome.Accepted)

	outcome = l.Settle(buy("A005930", 20_000, 100))
	require.True(t, outcome.Accepted)

	pos, ok := l.Position("A005930")
	require.True(t, ok)
	assert.Equal(t, int64(200), pos.Shares)
	assert.True(t, pos.AvgCost.Equal(decimal.NewFromInt(15_000)), "avg cost %s", pos.AvgCost)
	assert.True(t, l.Cash().Equal(decimal.NewFromInt(0)), "cash %s", l.Cash())
}

func TestSettleBuyInsufficientMargin(t *testing.T) {
	l := New(decimal.NewFromInt(100_000))

	outcome := l.Settle(buy("A005930", 10_000, 11))
	require.False(t, outcome.Accepted)
	assert.Equal(t, schema.RejectReasonInsufficientMargin, outcome.Reason)

	// Rejection leaves the ledger untouched.
	assert.True(t, l.Cash().Equal(decimal.NewFromInt(100_000)))
	_, ok := l.Position("A005930")
	assert.False(t, ok)
}

func TestSettleSellInsufficientInventory(t *testing.T) {
	l := New(decimal.NewFromInt(1_000_000))
	require.True(t, l.Settle(buy("A005930", 10_000, 100)).Accepted)

	outcome := l.Settle(sell("A005930", 10_000, 150))
	require.False(t, outcome.Accepted)
	assert.Equal(t, schema.RejectReasonInsufficientInventory, outcome.Reason)

	pos, ok := l.Position("A005930")
	require.True(t, ok)
	assert.Equal(t, int64(100), pos.Shares)
	assert.True(t, pos.AvgCost.Equal(decimal.NewFromInt(10_000)))
}

func TestSettleSellWithoutPosition(t *testing.T) {
	l := New(decimal.NewFromInt(1_000_000))

	outcome := l.Settle(sell("A005930", 10_000, 1))
	require.False(t, outcome.Accepted)
	assert.Equal(t, schema.RejectReasonInsufficientInventory, outcome.Reason)
}

func TestSettleSellRemovesEmptyPosition(t *testing.T) {
	l := New(decimal.NewFromInt(1_000_000))
	require.True(t, l.Settle(buy("A005930", 10_000, 100)).Accepted)
	require.True(t, l.Settle(sell("A005930", 12_000, 100)).Accepted)

	_, ok := l.Position("A005930")
	assert.False(t, ok, "position at zero shares must be removed, not retained")
	assert.True(t, l.Cash().Equal(decimal.NewFromInt(1_200_000)))
}

func TestCashNeverNegative(t *testing.T) {
	l := New(decimal.NewFromInt(1_050_000))

	orders := []schema.OrderIntent{
		buy("A005930", 10_000, 100),
		buy("A005930", 10_000, 100), // exceeds remaining cash
		sell("A005930", 9_000, 50),
		buy("A005380", 240_000, 2),
		sell("A005380", 240_000, 5), // exceeds inventory
	}
	for _, order := range orders {
		l.Settle(order)
		assert.False(t, l.Cash().IsNegative(), "cash went negative: %s", l.Cash())
	}
}

func TestTotalAssets(t *testing.T) {
	l := New(decimal.NewFromInt(1_000_000))
	require.True(t, l.Settle(buy("A005930", 10_000, 50)).Accepted)

	price := func(id string) (decimal.Decimal, bool) {
		if id == "A005930" {
			return decimal.NewFromInt(12_000), true
		}
		return decimal.Zero, false
	}
	total := l.TotalAssets(price)
	assert.True(t, total.Equal(decimal.NewFromInt(1_100_000)), "total %s", total)
}

func TestReplaceIsAuthoritative(t *testing.T) {
	l := New(decimal.NewFromInt(1_000_000))
	require.True(t, l.Settle(buy("A005930", 10_000, 10)).Accepted)

	l.Replace(decimal.NewFromInt(42), []schema.Position{
		{InstrumentID: "A005380", Shares: 3, AvgCost: decimal.NewFromInt(240_000)},
		{InstrumentID: "A148070", Shares: 0, AvgCost: decimal.Zero},
	})

	assert.True(t, l.Cash().Equal(decimal.NewFromInt(42)))
	_, ok := l.Position("A005930")
	assert.False(t, ok, "local position must be overwritten by the broker balance")
	pos, ok := l.Position("A005380")
	require.True(t, ok)
	assert.Equal(t, int64(3), pos.Shares)
	_, ok = l.Position("A148070")
	assert.False(t, ok, "zero-share entries must be dropped")
}
