package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rithikrice/bondMatchPlus/core/ledger"
	"github.com/rithikrice/bondMatchPlus/metrics"
	"github.com/rithikrice/bondMatchPlus/models"
)

func validateRequest(r SubmitRequest) error {
	switch {
	case r.ParticipantID == "":
		return newError(KindValidation, ReasonInvalidParticipant, "participant id is required")
	case !r.Side.Valid():
		return newError(KindValidation, ReasonInvalidSide, "side must be BUY or SELL, got %q", r.Side)
	}
	return validateTerms(r.Quantity, r.Price)
}

// Prices carry at most maxPriceScale fractional digits and maxPriceIntDigits
// integer digits. Anything wider is refused before it reaches decimal
// arithmetic under the auction lock.
const (
	maxPriceScale     = 18
	maxPriceIntDigits = 15
)

func validateTerms(qty int64, price *decimal.Decimal) error {
	if qty <= 0 {
		return newError(KindValidation, ReasonInvalidQuantity, "quantity must be positive, got %d", qty)
	}
	if price != nil {
		if !price.IsPositive() {
			return newError(KindValidation, ReasonInvalidPrice, "price must be positive, got %s", price)
		}
		if !priceInRange(*price) {
			return newError(KindValidation, ReasonInvalidPrice, "price is out of range")
		}
	}
	return nil
}

func priceInRange(p decimal.Decimal) bool {
	exp := int64(p.Exponent())
	if exp < -maxPriceScale || exp > maxPriceIntDigits {
		return false
	}
	return int64(p.NumDigits())+exp <= maxPriceIntDigits
}

// checkAgainst applies the auction's own limits to a request.
func checkAgainst(a models.Auction, qty int64, price *decimal.Decimal) error {
	if qty < a.MinSize {
		return newError(KindValidation, ReasonBelowMinimum, "quantity %d is below the minimum size %d", qty, a.MinSize)
	}
	if qty > a.Notional {
		return newError(KindValidation, ReasonAboveNotional, "quantity %d exceeds the notional %d", qty, a.Notional)
	}
	if price != nil && a.TickSize != nil && !price.Mod(*a.TickSize).IsZero() {
		return newError(KindValidation, ReasonInvalidPrice, "price %s is not a multiple of tick size %s", price, a.TickSize)
	}
	return nil
}

func requireLive(a models.Auction) error {
	if a.Status != models.StatusLive {
		return newError(KindState, ReasonAuctionNotLive, "auction %s is %s", a.ID, a.Status)
	}
	return nil
}

// outsideBand flags limit prices further than the tolerance from the fair
// price. It is informational only.
func outsideBand(a models.Auction, price *decimal.Decimal) bool {
	if price == nil || a.FairPrice == nil {
		return false
	}
	return price.Sub(*a.FairPrice).Abs().GreaterThan(a.Tolerance)
}

func rejected(err error) error {
	if e, ok := AsError(err); ok {
		metrics.QuotesRejected.WithLabelValues(e.Reason).Inc()
	}
	return err
}

// Submit admits a quote request into a live auction, assigning the next
// sequence number.
func (e *Engine) Submit(ctx context.Context, r SubmitRequest) (models.QuoteRequest, error) {
	if err := validateRequest(r); err != nil {
		return models.QuoteRequest{}, rejected(err)
	}

	var out models.QuoteRequest
	err := e.with(ctx, r.AuctionID, func(b *book) error {
		if err := requireLive(b.auction); err != nil {
			return err
		}
		if err := checkAgainst(b.auction, r.Quantity, r.Price); err != nil {
			return err
		}

		now := e.now()
		q := models.QuoteRequest{
			ID:            uuid.NewString(),
			AuctionID:     r.AuctionID,
			ParticipantID: r.ParticipantID,
			Side:          r.Side,
			Quantity:      r.Quantity,
			Price:         r.Price,
			Seq:           b.nextSeq(),
			Status:        models.QuotePending,
			OutsideBand:   outsideBand(b.auction, r.Price),
			SubmittedAt:   now,
			UpdatedAt:     now,
		}
		ev := b.event(models.EventQuoteAdmitted, r.ParticipantID, q.ID, quoteDetail(q), now)

		sctx, cancel := e.storeCtx(ctx)
		defer cancel()
		if err := e.store.AppendQuote(sctx, q, ev); err != nil {
			return e.storeErr(b, err)
		}

		b.put(q)
		b.eventSeq = ev.Seq
		metrics.QuotesAdmitted.Inc()
		e.log.Debug("quote admitted",
			zap.String("auction_id", q.AuctionID),
			zap.String("quote_id", q.ID),
			zap.Uint64("seq", q.Seq),
			zap.String("side", string(q.Side)),
			zap.Int64("quantity", q.Quantity))
		e.publish(b, models.DeltaQuoteAdmitted, now, &q, nil)
		out = q
		return nil
	})
	if err != nil {
		return models.QuoteRequest{}, rejected(err)
	}
	return out, nil
}

// Cancel withdraws a pending request while its auction is still live. Only
// the owner or an admin may cancel.
func (e *Engine) Cancel(ctx context.Context, quoteID string, actor Actor) (models.QuoteRequest, error) {
	auctionID, err := e.auctionOf(ctx, quoteID)
	if err != nil {
		return models.QuoteRequest{}, err
	}

	var out models.QuoteRequest
	err = e.with(ctx, auctionID, func(b *book) error {
		q, err := b.cancellable(quoteID, actor)
		if err != nil {
			return err
		}

		now := e.now()
		q.Status = models.QuoteCancelled
		q.UpdatedAt = now
		ev := b.event(models.EventQuoteCancelled, actor.ID, q.ID, map[string]string{
			"seq": strconv.FormatUint(q.Seq, 10),
		}, now)

		sctx, cancel := e.storeCtx(ctx)
		defer cancel()
		if err := e.store.UpdateQuote(sctx, q, ev); err != nil {
			return e.storeErr(b, err)
		}

		b.put(q)
		b.eventSeq = ev.Seq
		e.log.Debug("quote cancelled",
			zap.String("auction_id", auctionID),
			zap.String("quote_id", q.ID),
			zap.String("actor", actor.ID))
		e.publish(b, models.DeltaQuoteCancelled, now, &q, nil)
		out = q
		return nil
	})
	return out, err
}

// Replace cancels a pending request and admits its successor with new terms
// and the next sequence number, atomically. Side and owner carry over.
func (e *Engine) Replace(ctx context.Context, quoteID string, actor Actor, qty int64, price *decimal.Decimal) (models.QuoteRequest, error) {
	if err := validateTerms(qty, price); err != nil {
		return models.QuoteRequest{}, rejected(err)
	}
	auctionID, err := e.auctionOf(ctx, quoteID)
	if err != nil {
		return models.QuoteRequest{}, err
	}

	var out models.QuoteRequest
	err = e.with(ctx, auctionID, func(b *book) error {
		old, err := b.cancellable(quoteID, actor)
		if err != nil {
			return err
		}
		if err := checkAgainst(b.auction, qty, price); err != nil {
			return err
		}

		now := e.now()
		old.Status = models.QuoteCancelled
		old.UpdatedAt = now

		q := models.QuoteRequest{
			ID:            uuid.NewString(),
			AuctionID:     auctionID,
			ParticipantID: old.ParticipantID,
			Side:          old.Side,
			Quantity:      qty,
			Price:         price,
			Seq:           b.nextSeq(),
			Status:        models.QuotePending,
			OutsideBand:   outsideBand(b.auction, price),
			SubmittedAt:   now,
			UpdatedAt:     now,
		}
		evs := []models.LedgerEvent{
			b.eventAt(1, models.EventQuoteReplaced, actor.ID, old.ID, map[string]string{
				"replaced_by": q.ID,
				"seq":         strconv.FormatUint(old.Seq, 10),
			}, now),
			b.eventAt(2, models.EventQuoteAdmitted, old.ParticipantID, q.ID, quoteDetail(q), now),
		}

		sctx, cancel := e.storeCtx(ctx)
		defer cancel()
		if err := e.store.ReplaceQuote(sctx, old, q, evs); err != nil {
			return e.storeErr(b, err)
		}

		b.put(old)
		b.put(q)
		b.eventSeq = evs[len(evs)-1].Seq
		metrics.QuotesAdmitted.Inc()
		e.log.Debug("quote replaced",
			zap.String("auction_id", auctionID),
			zap.String("old_quote_id", old.ID),
			zap.String("quote_id", q.ID),
			zap.Uint64("seq", q.Seq))
		e.publish(b, models.DeltaQuoteCancelled, now, &old, nil)
		e.publish(b, models.DeltaQuoteAdmitted, now, &q, nil)
		out = q
		return nil
	})
	if err != nil {
		return models.QuoteRequest{}, rejected(err)
	}
	return out, nil
}

// Quotes lists an auction's requests in sequence order.
func (e *Engine) Quotes(ctx context.Context, auctionID string, f QuoteFilter) ([]models.QuoteRequest, error) {
	out := []models.QuoteRequest{}
	err := e.with(ctx, auctionID, func(b *book) error {
		for _, q := range b.quotes {
			if f.match(q) {
				out = append(out, q)
			}
		}
		return nil
	})
	return out, err
}

// Quote returns one request by id. A participant other than the owner gets
// not-found.
func (e *Engine) Quote(ctx context.Context, quoteID string, actor Actor) (models.QuoteRequest, error) {
	auctionID, err := e.auctionOf(ctx, quoteID)
	if err != nil {
		return models.QuoteRequest{}, err
	}
	var out models.QuoteRequest
	err = e.with(ctx, auctionID, func(b *book) error {
		q, ok := b.quote(quoteID)
		if !ok || (!actor.Admin && q.ParticipantID != actor.ID) {
			return newError(KindNotFound, ReasonNotFound, "quote %s not found", quoteID)
		}
		out = q
		return nil
	})
	return out, err
}

func (e *Engine) auctionOf(ctx context.Context, quoteID string) (string, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	q, err := e.store.GetQuote(sctx, quoteID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return "", newError(KindNotFound, ReasonNotFound, "quote %s not found", quoteID)
		}
		return "", fmt.Errorf("failed to look up quote %s: %w", quoteID, err)
	}
	return q.AuctionID, nil
}

func (b *book) cancellable(quoteID string, actor Actor) (models.QuoteRequest, error) {
	q, ok := b.quote(quoteID)
	if !ok {
		return q, newError(KindNotFound, ReasonNotFound, "quote %s not found", quoteID)
	}
	if !actor.Admin && q.ParticipantID != actor.ID {
		return q, newError(KindState, ReasonNotOwner, "quote %s belongs to another participant", quoteID)
	}
	if err := requireLive(b.auction); err != nil {
		return q, err
	}
	if q.Status != models.QuotePending {
		return q, newError(KindState, ReasonNotPending, "quote %s is %s", quoteID, q.Status)
	}
	return q, nil
}

func quoteDetail(q models.QuoteRequest) map[string]string {
	d := map[string]string{
		"seq":      strconv.FormatUint(q.Seq, 10),
		"side":     string(q.Side),
		"quantity": strconv.FormatInt(q.Quantity, 10),
	}
	if q.Price != nil {
		d["price"] = q.Price.String()
	}
	if q.OutsideBand {
		d["outside_band"] = "true"
	}
	return d
}
