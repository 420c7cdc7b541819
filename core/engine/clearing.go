package engine

import (
	"math"
	"math/bits"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rithikrice/bondMatchPlus/models"
)

// level groups requests on one side at an identical price. Market requests
// on a side form a single level with a nil price.
type level struct {
	price   *decimal.Decimal
	members []int // indexes into the frozen slice, ascending seq
	total   int64
	matched int64
}

func (l *level) market() bool { return l.price == nil }

// Clear runs the uniform-price auction over the frozen pending requests and
// returns the result together with the requests carrying their final status
// and fill. frozen must be in ascending seq order. Nothing but computedAt
// depends on the clock.
func Clear(a models.Auction, frozen []models.QuoteRequest, computedAt time.Time) (models.ClearingResult, []models.QuoteRequest) {
	result := models.ClearingResult{
		AuctionID:  a.ID,
		Fills:      make([]models.Fill, 0, len(frozen)),
		ComputedAt: computedAt,
	}

	buys := buildLevels(frozen, models.SideBuy)
	sells := buildLevels(frozen, models.SideSell)

	var matched int64
	lastBuy, lastSell := -1, -1
	bi, si := 0, 0
	var bRem, sRem int64
	if len(buys) > 0 {
		bRem = buys[0].total
	}
	if len(sells) > 0 {
		sRem = sells[0].total
	}

	for bi < len(buys) && si < len(sells) && matched < a.Notional {
		b, s := buys[bi], sells[si]
		if !crosses(b, s) {
			break
		}
		q := min(bRem, sRem, a.Notional-matched)
		matched += q
		b.matched += q
		s.matched += q
		bRem -= q
		sRem -= q
		lastBuy, lastSell = bi, si

		if bRem == 0 {
			bi++
			if bi < len(buys) {
				bRem = buys[bi].total
			}
		}
		if sRem == 0 {
			si++
			if si < len(sells) {
				sRem = sells[si].total
			}
		}
	}

	if matched > 0 {
		result.Price = clearingPrice(buys, sells, lastBuy, lastSell, a.FairPrice)
		if result.Price == nil {
			matched = 0
		}
	}

	fills := make([]int64, len(frozen))
	if matched > 0 {
		result.MatchedQuantity = matched
		for _, side := range [][]*level{buys, sells} {
			for _, l := range side {
				allocate(l, frozen, fills)
			}
		}
	}

	out := make([]models.QuoteRequest, len(frozen))
	for i, q := range frozen {
		q.Filled = fills[i]
		switch {
		case q.Filled == q.Quantity:
			q.Status = models.QuoteMatched
		case q.Filled > 0:
			q.Status = models.QuotePartiallyMatched
		default:
			q.Status = models.QuoteRejected
		}
		q.UpdatedAt = computedAt
		out[i] = q
		result.Fills = append(result.Fills, models.Fill{
			RequestID: q.ID,
			Seq:       q.Seq,
			Side:      q.Side,
			Quantity:  q.Filled,
		})
	}
	return result, out
}

func buildLevels(frozen []models.QuoteRequest, side models.Side) []*level {
	var idx []int
	for i, q := range frozen {
		if q.Side == side {
			idx = append(idx, i)
		}
	}

	// market first, then best price, then earliest seq
	sort.SliceStable(idx, func(i, j int) bool {
		qi, qj := frozen[idx[i]], frozen[idx[j]]
		if qi.IsMarket() != qj.IsMarket() {
			return qi.IsMarket()
		}
		if !qi.IsMarket() {
			if c := qi.Price.Cmp(*qj.Price); c != 0 {
				if side == models.SideBuy {
					return c > 0
				}
				return c < 0
			}
		}
		return qi.Seq < qj.Seq
	})

	var levels []*level
	for _, i := range idx {
		q := frozen[i]
		if n := len(levels); n > 0 && samePrice(levels[n-1].price, q.Price) {
			levels[n-1].members = append(levels[n-1].members, i)
			levels[n-1].total = addCapped(levels[n-1].total, q.Quantity)
			continue
		}
		levels = append(levels, &level{price: q.Price, members: []int{i}, total: q.Quantity})
	}
	return levels
}

// addCapped adds two non-negative quantities, stopping at math.MaxInt64.
func addCapped(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

func samePrice(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func crosses(b, s *level) bool {
	if b.market() || s.market() {
		return true
	}
	return b.price.GreaterThanOrEqual(*s.price)
}

// clearingPrice picks the marginal buy limit, then the marginal sell limit,
// then the fair price. Market levels sort ahead of every limit level, so when
// both marginal levels are market no limit level was touched at all.
func clearingPrice(buys, sells []*level, lastBuy, lastSell int, fair *decimal.Decimal) *decimal.Decimal {
	if p := buys[lastBuy].price; p != nil {
		return copyDec(p)
	}
	if p := sells[lastSell].price; p != nil {
		return copyDec(p)
	}
	if fair != nil {
		return copyDec(fair)
	}
	return nil
}

// allocate splits l.matched across the level's members pro-rata by quantity.
// Floors first, then remainder units one at a time in ascending seq order.
// The level never hands out more than l.matched in total, even when its
// total was capped.
func allocate(l *level, frozen []models.QuoteRequest, fills []int64) {
	if l.matched == 0 {
		return
	}

	var given int64
	for _, i := range l.members {
		hi, lo := bits.Mul64(uint64(l.matched), uint64(frozen[i].Quantity))
		share, _ := bits.Div64(hi, lo, uint64(l.total))
		fill := min(int64(share), l.matched-given)
		fills[i] = fill
		given += fill
	}
	for _, i := range l.members {
		if given == l.matched {
			break
		}
		if fills[i] < frozen[i].Quantity {
			fills[i]++
			given++
		}
	}
}

func copyDec(d *decimal.Decimal) *decimal.Decimal {
	c := *d
	return &c
}
