package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/rithikrice/bondMatchPlus/models"
)

var clearedAt = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func px(v string) *decimal.Decimal {
	d := decimal.RequireFromString(v)
	return &d
}

func quote(seq uint64, side models.Side, qty int64, price *decimal.Decimal) models.QuoteRequest {
	return models.QuoteRequest{
		ID:            fmt.Sprintf("q%d", seq),
		AuctionID:     "a1",
		ParticipantID: fmt.Sprintf("p%d", seq),
		Side:          side,
		Quantity:      qty,
		Price:         price,
		Seq:           seq,
		Status:        models.QuotePending,
	}
}

func fillsBySeq(quotes []models.QuoteRequest) map[uint64]int64 {
	out := make(map[uint64]int64, len(quotes))
	for _, q := range quotes {
		out[q.Seq] = q.Filled
	}
	return out
}

func TestClearUniformPrice(t *testing.T) {
	a := models.Auction{ID: "a1", Notional: 100}
	frozen := []models.QuoteRequest{
		quote(1, models.SideBuy, 60, px("102")),
		quote(2, models.SideBuy, 50, px("101")),
		quote(3, models.SideSell, 80, px("100")),
	}

	result, settled := Clear(a, frozen, clearedAt)

	require.NotNil(t, result.Price)
	assert.Equal(t, "101", result.Price.String())
	assert.Equal(t, int64(80), result.MatchedQuantity)
	assert.Equal(t, clearedAt, result.ComputedAt)

	require.Len(t, settled, 3)
	assert.Equal(t, models.QuoteMatched, settled[0].Status)
	assert.Equal(t, int64(60), settled[0].Filled)
	assert.Equal(t, models.QuotePartiallyMatched, settled[1].Status)
	assert.Equal(t, int64(20), settled[1].Filled)
	assert.Equal(t, models.QuoteMatched, settled[2].Status)
	assert.Equal(t, int64(80), settled[2].Filled)

	require.Len(t, result.Fills, 3)
	for i, f := range result.Fills {
		assert.Equal(t, uint64(i+1), f.Seq)
	}
}

func TestClearEmptyBook(t *testing.T) {
	result, settled := Clear(models.Auction{ID: "a1", Notional: 100}, nil, clearedAt)

	assert.Nil(t, result.Price)
	assert.Zero(t, result.MatchedQuantity)
	assert.Empty(t, result.Fills)
	assert.Empty(t, settled)
}

func TestClearOneSidedBook(t *testing.T) {
	frozen := []models.QuoteRequest{
		quote(1, models.SideBuy, 10, px("100")),
		quote(2, models.SideBuy, 20, nil),
	}
	result, settled := Clear(models.Auction{ID: "a1", Notional: 100}, frozen, clearedAt)

	assert.Nil(t, result.Price)
	assert.Zero(t, result.MatchedQuantity)
	for _, q := range settled {
		assert.Equal(t, models.QuoteRejected, q.Status)
		assert.Zero(t, q.Filled)
	}
}

func TestClearNoCross(t *testing.T) {
	frozen := []models.QuoteRequest{
		quote(1, models.SideBuy, 10, px("99")),
		quote(2, models.SideSell, 10, px("100")),
	}
	result, settled := Clear(models.Auction{ID: "a1", Notional: 100}, frozen, clearedAt)

	assert.Nil(t, result.Price)
	assert.Zero(t, result.MatchedQuantity)
	assert.Equal(t, models.QuoteRejected, settled[0].Status)
	assert.Equal(t, models.QuoteRejected, settled[1].Status)
}

func TestClearProRataRemainderBySeq(t *testing.T) {
	frozen := []models.QuoteRequest{
		quote(1, models.SideBuy, 5, px("100")),
		quote(2, models.SideBuy, 5, px("100")),
		quote(3, models.SideBuy, 5, px("100")),
		quote(4, models.SideSell, 10, px("100")),
	}
	result, settled := Clear(models.Auction{ID: "a1", Notional: 100}, frozen, clearedAt)

	assert.Equal(t, "100", result.Price.String())
	assert.Equal(t, int64(10), result.MatchedQuantity)
	assert.Equal(t, map[uint64]int64{1: 4, 2: 3, 3: 3, 4: 10}, fillsBySeq(settled))
}

func TestClearCapacityCap(t *testing.T) {
	frozen := []models.QuoteRequest{
		quote(1, models.SideBuy, 100, px("101")),
		quote(2, models.SideSell, 100, px("100")),
	}
	result, settled := Clear(models.Auction{ID: "a1", Notional: 50}, frozen, clearedAt)

	assert.Equal(t, int64(50), result.MatchedQuantity)
	assert.Equal(t, "101", result.Price.String())
	assert.Equal(t, models.QuotePartiallyMatched, settled[0].Status)
	assert.Equal(t, models.QuotePartiallyMatched, settled[1].Status)
}

func TestClearMarketBuyTakesSellLimit(t *testing.T) {
	frozen := []models.QuoteRequest{
		quote(1, models.SideBuy, 50, nil),
		quote(2, models.SideSell, 30, px("99.5")),
	}
	result, settled := Clear(models.Auction{ID: "a1", Notional: 100}, frozen, clearedAt)

	assert.Equal(t, "99.5", result.Price.String())
	assert.Equal(t, int64(30), result.MatchedQuantity)
	assert.Equal(t, map[uint64]int64{1: 30, 2: 30}, fillsBySeq(settled))
}

func TestClearMarketOnlyUsesFairPrice(t *testing.T) {
	frozen := []models.QuoteRequest{
		quote(1, models.SideBuy, 10, nil),
		quote(2, models.SideSell, 10, nil),
	}

	result, _ := Clear(models.Auction{ID: "a1", Notional: 100}, frozen, clearedAt)
	assert.Nil(t, result.Price)
	assert.Zero(t, result.MatchedQuantity)

	result, settled := Clear(models.Auction{ID: "a1", Notional: 100, FairPrice: px("100.25")}, frozen, clearedAt)
	assert.Equal(t, "100.25", result.Price.String())
	assert.Equal(t, int64(10), result.MatchedQuantity)
	assert.Equal(t, models.QuoteMatched, settled[0].Status)
}

func TestClearHugeQuantitiesStayWithinNotional(t *testing.T) {
	frozen := []models.QuoteRequest{
		quote(1, models.SideBuy, math.MaxInt64, px("101")),
		quote(2, models.SideBuy, math.MaxInt64, px("101")),
		quote(3, models.SideBuy, math.MaxInt64, px("101")),
		quote(4, models.SideSell, 10, px("100")),
	}
	result, settled := Clear(models.Auction{ID: "a1", Notional: 15}, frozen, clearedAt)

	assert.Equal(t, int64(10), result.MatchedQuantity)
	assert.Equal(t, "101", result.Price.String())
	var buys int64
	for _, q := range settled[:3] {
		buys += q.Filled
	}
	assert.Equal(t, int64(10), buys)
	assert.Equal(t, int64(10), settled[3].Filled)

	// the level total would wrap past MaxInt64 without the cap
	frozen = []models.QuoteRequest{
		quote(1, models.SideBuy, 1<<62, px("101")),
		quote(2, models.SideBuy, 1<<62, px("101")),
		quote(3, models.SideSell, 10, px("100")),
	}
	result, settled = Clear(models.Auction{ID: "a1", Notional: 15}, frozen, clearedAt)

	assert.Equal(t, int64(10), result.MatchedQuantity)
	assert.Equal(t, map[uint64]int64{1: 5, 2: 5, 3: 10}, fillsBySeq(settled))
	assert.Equal(t, models.QuoteMatched, settled[2].Status)
}

func TestClearingProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		notional := rapid.Int64Range(1, 1000).Draw(t, "notional")
		n := rapid.IntRange(0, 30).Draw(t, "n")

		frozen := make([]models.QuoteRequest, n)
		for i := range frozen {
			side := rapid.SampledFrom([]models.Side{models.SideBuy, models.SideSell}).Draw(t, "side")
			qty := rapid.Int64Range(1, 300).Draw(t, "qty")
			var price *decimal.Decimal
			if !rapid.Bool().Draw(t, "market") {
				p := decimal.New(rapid.Int64Range(9500, 10500).Draw(t, "price"), -2)
				price = &p
			}
			frozen[i] = quote(uint64(i+1), side, qty, price)
		}
		a := models.Auction{ID: "a1", Notional: notional}

		r1, s1 := Clear(a, frozen, clearedAt)
		r2, _ := Clear(a, frozen, clearedAt)

		b1, err := json.Marshal(r1)
		require.NoError(t, err)
		b2, err := json.Marshal(r2)
		require.NoError(t, err)
		require.Equal(t, string(b1), string(b2))

		require.LessOrEqual(t, r1.MatchedQuantity, notional)
		var buys, sells int64
		for _, q := range s1 {
			require.LessOrEqual(t, q.Filled, q.Quantity)
			require.GreaterOrEqual(t, q.Filled, int64(0))
			if q.Side == models.SideBuy {
				buys += q.Filled
			} else {
				sells += q.Filled
			}
		}
		require.Equal(t, r1.MatchedQuantity, buys)
		require.Equal(t, r1.MatchedQuantity, sells)
		require.Len(t, r1.Fills, n)
		if r1.MatchedQuantity == 0 {
			require.Nil(t, r1.Price)
		}
	})
}
