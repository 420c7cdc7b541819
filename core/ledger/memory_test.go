package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rithikrice/bondMatchPlus/models"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func auction(id string) models.Auction {
	return models.Auction{
		ID:           id,
		InstrumentID: "IN0020230085",
		Status:       models.StatusLive,
		Notional:     100,
		MinSize:      1,
		Timeline:     models.Timeline{StartsAt: t0, EndsAt: t0.Add(time.Hour)},
		Tolerance:    decimal.Zero,
		CreatedAt:    t0,
	}
}

func event(auctionID string, seq uint64, kind models.EventKind) models.LedgerEvent {
	return models.LedgerEvent{AuctionID: auctionID, Seq: seq, Kind: kind, At: t0}
}

func quoteAt(auctionID, id string, seq uint64) models.QuoteRequest {
	p := decimal.NewFromInt(100)
	return models.QuoteRequest{
		ID:            id,
		AuctionID:     auctionID,
		ParticipantID: "alice",
		Side:          models.SideBuy,
		Quantity:      10,
		Price:         &p,
		Seq:           seq,
		Status:        models.QuotePending,
		SubmittedAt:   t0,
		UpdatedAt:     t0,
	}
}

// storeSuite runs the contract every Store implementation has to honour.
func storeSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("create and read back", func(t *testing.T) {
		s := newStore(t)
		a := auction("auc-1")
		require.NoError(t, s.CreateAuction(ctx, a, event(a.ID, 1, models.EventAuctionCreated)))

		got, err := s.GetAuction(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, a.ID, got.ID)
		assert.Equal(t, a.Notional, got.Notional)
		assert.True(t, got.Timeline.StartsAt.Equal(a.Timeline.StartsAt))

		err = s.CreateAuction(ctx, a, event(a.ID, 1, models.EventAuctionCreated))
		assert.ErrorIs(t, err, ErrDuplicate)

		_, err = s.GetAuction(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.ListQuotes(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("quote sequence is gap free", func(t *testing.T) {
		s := newStore(t)
		a := auction("auc-2")
		require.NoError(t, s.CreateAuction(ctx, a, event(a.ID, 1, models.EventAuctionCreated)))

		require.NoError(t, s.AppendQuote(ctx, quoteAt(a.ID, "q1", 1), event(a.ID, 2, models.EventQuoteAdmitted)))

		err := s.AppendQuote(ctx, quoteAt(a.ID, "q3", 3), event(a.ID, 3, models.EventQuoteAdmitted))
		assert.ErrorIs(t, err, ErrSequenceConflict)

		err = s.AppendQuote(ctx, quoteAt(a.ID, "q2", 2), event(a.ID, 5, models.EventQuoteAdmitted))
		assert.ErrorIs(t, err, ErrSequenceConflict)

		require.NoError(t, s.AppendQuote(ctx, quoteAt(a.ID, "q2", 2), event(a.ID, 3, models.EventQuoteAdmitted)))

		quotes, err := s.ListQuotes(ctx, a.ID)
		require.NoError(t, err)
		require.Len(t, quotes, 2)
		assert.Equal(t, "q1", quotes[0].ID)
		assert.Equal(t, "q2", quotes[1].ID)
		assert.Equal(t, "100", quotes[0].Price.String())

		events, err := s.ListEvents(ctx, a.ID)
		require.NoError(t, err)
		assert.Len(t, events, 3)
	})

	t.Run("replace is atomic", func(t *testing.T) {
		s := newStore(t)
		a := auction("auc-3")
		require.NoError(t, s.CreateAuction(ctx, a, event(a.ID, 1, models.EventAuctionCreated)))
		require.NoError(t, s.AppendQuote(ctx, quoteAt(a.ID, "r1", 1), event(a.ID, 2, models.EventQuoteAdmitted)))

		old := quoteAt(a.ID, "r1", 1)
		old.Status = models.QuoteCancelled
		next := quoteAt(a.ID, "r2", 2)

		// bad event sequence: neither half may land
		err := s.ReplaceQuote(ctx, old, next, []models.LedgerEvent{
			event(a.ID, 3, models.EventQuoteReplaced),
			event(a.ID, 9, models.EventQuoteAdmitted),
		})
		require.Error(t, err)
		got, err := s.GetQuote(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, models.QuotePending, got.Status)
		_, err = s.GetQuote(ctx, "r2")
		assert.ErrorIs(t, err, ErrNotFound)

		require.NoError(t, s.ReplaceQuote(ctx, old, next, []models.LedgerEvent{
			event(a.ID, 3, models.EventQuoteReplaced),
			event(a.ID, 4, models.EventQuoteAdmitted),
		}))
		got, err = s.GetQuote(ctx, "r1")
		require.NoError(t, err)
		assert.Equal(t, models.QuoteCancelled, got.Status)
		got, err = s.GetQuote(ctx, "r2")
		require.NoError(t, err)
		assert.Equal(t, uint64(2), got.Seq)
	})

	t.Run("close results are write once", func(t *testing.T) {
		s := newStore(t)
		a := auction("auc-4")
		require.NoError(t, s.CreateAuction(ctx, a, event(a.ID, 1, models.EventAuctionCreated)))
		require.NoError(t, s.AppendQuote(ctx, quoteAt(a.ID, "c1", 1), event(a.ID, 2, models.EventQuoteAdmitted)))

		_, err := s.GetClearing(ctx, a.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		settled := quoteAt(a.ID, "c1", 1)
		settled.Status = models.QuoteRejected
		closed := a
		closed.Status = models.StatusClosed
		batch := CloseBatch{
			Auction: closed,
			Quotes:  []models.QuoteRequest{settled},
			Result: models.ClearingResult{
				AuctionID:  a.ID,
				Fills:      []models.Fill{{RequestID: "c1", Seq: 1, Side: models.SideBuy}},
				ComputedAt: t0,
			},
			Audit: models.AuditRecord{AuctionID: a.ID, Digest: "abc", Algorithm: "test", LeafCount: 2, SealedAt: t0},
			Events: []models.LedgerEvent{
				event(a.ID, 3, models.EventAuctionClosed),
				event(a.ID, 4, models.EventClearingCompleted),
				event(a.ID, 5, models.EventAuditSealed),
			},
		}
		require.NoError(t, s.CommitClose(ctx, batch))

		batch.Events = []models.LedgerEvent{
			event(a.ID, 6, models.EventAuctionClosed),
			event(a.ID, 7, models.EventClearingCompleted),
			event(a.ID, 8, models.EventAuditSealed),
		}
		assert.ErrorIs(t, s.CommitClose(ctx, batch), ErrImmutable)
		assert.ErrorIs(t, s.SealAudit(ctx, batch.Audit, event(a.ID, 6, models.EventAuditSealed)), ErrImmutable)

		r, err := s.GetClearing(ctx, a.ID)
		require.NoError(t, err)
		assert.Nil(t, r.Price)
		require.Len(t, r.Fills, 1)

		rec, err := s.GetAudit(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, "abc", rec.Digest)

		got, err := s.GetAuction(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusClosed, got.Status)

		q, err := s.GetQuote(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, models.QuoteRejected, q.Status)
	})

	t.Run("list filters", func(t *testing.T) {
		s := newStore(t)
		live := auction("auc-5")
		upcoming := auction("auc-6")
		upcoming.Status = models.StatusUpcoming
		upcoming.InstrumentID = "IN0099"
		upcoming.CreatedAt = t0.Add(time.Second)
		require.NoError(t, s.CreateAuction(ctx, live, event(live.ID, 1, models.EventAuctionCreated)))
		require.NoError(t, s.CreateAuction(ctx, upcoming, event(upcoming.ID, 1, models.EventAuctionCreated)))

		all, err := s.ListAuctions(ctx, AuctionFilter{})
		require.NoError(t, err)
		var ids []string
		for _, a := range all {
			ids = append(ids, a.ID)
		}
		assert.Subset(t, ids, []string{"auc-5", "auc-6"})

		byStatus, err := s.ListAuctions(ctx, AuctionFilter{Status: models.StatusUpcoming, InstrumentID: "IN0099"})
		require.NoError(t, err)
		require.Len(t, byStatus, 1)
		assert.Equal(t, "auc-6", byStatus[0].ID)
	})
}

func TestMemoryStore(t *testing.T) {
	storeSuite(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := auction("auc-7")
	ev := event(a.ID, 1, models.EventAuctionCreated)
	ev.Detail = map[string]string{"k": "v"}
	require.NoError(t, s.CreateAuction(ctx, a, ev))

	events, err := s.ListEvents(ctx, a.ID)
	require.NoError(t, err)
	events[0].Detail["k"] = "changed"

	events, err = s.ListEvents(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "v", events[0].Detail["k"])
}
