package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rithikrice/bondMatchPlus/core/ledger"
	"github.com/rithikrice/bondMatchPlus/metrics"
	"github.com/rithikrice/bondMatchPlus/models"
)

func validateSpec(s models.AuctionSpec) error {
	invalid := func(format string, args ...any) error {
		return newError(KindValidation, ReasonInvalidSpec, format, args...)
	}
	switch {
	case s.InstrumentID == "":
		return invalid("instrument id is required")
	case s.Notional <= 0:
		return invalid("notional must be positive, got %d", s.Notional)
	case s.MinSize <= 0:
		return invalid("min size must be positive, got %d", s.MinSize)
	case s.MinSize > s.Notional:
		return invalid("min size %d exceeds notional %d", s.MinSize, s.Notional)
	case s.StartsAt.IsZero() || s.EndsAt.IsZero():
		return invalid("starts_at and ends_at are required")
	case !s.StartsAt.Before(s.EndsAt):
		return invalid("starts_at must be before ends_at")
	case s.RegistrationCloseAt != nil && s.RegistrationCloseAt.After(s.StartsAt):
		return invalid("registration must close no later than starts_at")
	case s.AnnouncedAt != nil && s.AnnouncedAt.After(s.StartsAt):
		return invalid("announcement must come no later than starts_at")
	case s.FairPrice != nil && !s.FairPrice.IsPositive():
		return invalid("fair price must be positive")
	case s.Tolerance.IsNegative():
		return invalid("tolerance must not be negative")
	case s.TickSize != nil && !s.TickSize.IsPositive():
		return invalid("tick size must be positive")
	case s.TickSize != nil && !priceInRange(*s.TickSize),
		s.FairPrice != nil && !priceInRange(*s.FairPrice),
		!priceInRange(s.Tolerance):
		return invalid("tick size, fair price and tolerance must be within price range")
	case s.MinLiveDuration < 0:
		return invalid("minimum live duration must not be negative")
	}
	return nil
}

// Create registers a new UPCOMING auction.
func (e *Engine) Create(ctx context.Context, spec models.AuctionSpec, actor string) (models.Auction, error) {
	if err := validateSpec(spec); err != nil {
		return models.Auction{}, err
	}

	now := e.now()
	a := models.Auction{
		ID:           uuid.NewString(),
		InstrumentID: spec.InstrumentID,
		Status:       models.StatusUpcoming,
		Notional:     spec.Notional,
		MinSize:      spec.MinSize,
		TickSize:     spec.TickSize,
		Timeline: models.Timeline{
			AnnouncedAt:         utcPtr(spec.AnnouncedAt),
			RegistrationCloseAt: utcPtr(spec.RegistrationCloseAt),
			StartsAt:            spec.StartsAt.UTC(),
			EndsAt:              spec.EndsAt.UTC(),
		},
		FairPrice:       spec.FairPrice,
		Tolerance:       spec.Tolerance,
		MinLiveDuration: spec.MinLiveDuration,
		CreatedBy:       actor,
		CreatedAt:       now,
	}
	if a.MinLiveDuration == 0 {
		a.MinLiveDuration = e.minLive
	}

	b := e.getBook(a.ID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loaded {
		return models.Auction{}, newError(KindConcurrency, ReasonStaleLedger, "auction id %s already in use", a.ID)
	}

	b.auction = a
	ev := b.event(models.EventAuctionCreated, actor, a.ID, map[string]string{
		"instrument_id": a.InstrumentID,
		"notional":      strconv.FormatInt(a.Notional, 10),
	}, now)

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.store.CreateAuction(sctx, a, ev); err != nil {
		e.books.Delete(a.ID)
		return models.Auction{}, e.storeErr(b, err)
	}

	b.quotes = nil
	b.byID = make(map[string]int)
	b.eventSeq = ev.Seq
	b.loaded = true

	e.log.Info("📢 auction created",
		zap.String("auction_id", a.ID),
		zap.String("instrument_id", a.InstrumentID),
		zap.Int64("notional", a.Notional),
		zap.Time("starts_at", a.Timeline.StartsAt),
		zap.Time("ends_at", a.Timeline.EndsAt))
	e.publish(b, models.DeltaStatusChanged, now, nil, nil)
	return a, nil
}

// Transition moves an auction along Upcoming->Live->Closed. The close edge
// freezes the pending ledger, clears it and seals the audit record in one
// commit.
func (e *Engine) Transition(ctx context.Context, auctionID string, target models.AuctionStatus, trig Trigger) (models.Auction, error) {
	if !target.Valid() {
		return models.Auction{}, newError(KindValidation, ReasonIllegalEdge, "unknown target status %q", target)
	}

	var out models.Auction
	err := e.with(ctx, auctionID, func(b *book) error {
		cur := b.auction.Status
		if cur == target {
			return newError(KindConcurrency, ReasonAlreadyInState, "auction %s is already %s", auctionID, cur)
		}

		now := e.now()
		var err error
		switch {
		case cur == models.StatusUpcoming && target == models.StatusLive:
			err = e.goLive(ctx, b, trig, now)
		case cur == models.StatusLive && target == models.StatusClosed:
			err = e.close(ctx, b, trig, now)
		default:
			err = newError(KindState, ReasonIllegalEdge, "auction %s cannot move from %s to %s", auctionID, cur, target)
		}
		if err != nil {
			return err
		}

		kind := "scheduled"
		if trig.Manual {
			kind = "manual"
		}
		metrics.Transitions.WithLabelValues(string(target), kind).Inc()
		out = b.auction
		return nil
	})
	return out, err
}

func (e *Engine) goLive(ctx context.Context, b *book, trig Trigger, now time.Time) error {
	if !trig.Manual && now.Before(b.auction.Timeline.StartsAt) {
		err := newError(KindState, ReasonTooEarly, "auction %s starts at %s", b.auction.ID, b.auction.Timeline.StartsAt.Format(time.RFC3339))
		err.NotBefore = b.auction.Timeline.StartsAt
		return err
	}

	next := b.auction
	next.Status = models.StatusLive
	next.Timeline.LiveAt = &now
	ev := b.event(models.EventAuctionLive, trig.Actor, next.ID, map[string]string{"manual": strconv.FormatBool(trig.Manual)}, now)

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.store.UpdateAuction(sctx, next, ev); err != nil {
		return e.storeErr(b, err)
	}

	b.auction = next
	b.eventSeq = ev.Seq
	e.log.Info("🟢 auction live",
		zap.String("auction_id", next.ID),
		zap.String("actor", trig.Actor),
		zap.Bool("manual", trig.Manual))
	e.publish(b, models.DeltaStatusChanged, now, nil, nil)
	return nil
}

func (e *Engine) close(ctx context.Context, b *book, trig Trigger, now time.Time) error {
	a := b.auction
	if !trig.Manual && now.Before(a.Timeline.EndsAt) {
		err := newError(KindState, ReasonTooEarly, "auction %s ends at %s", a.ID, a.Timeline.EndsAt.Format(time.RFC3339))
		err.NotBefore = a.Timeline.EndsAt
		return err
	}
	if a.Timeline.LiveAt != nil {
		if earliest := a.Timeline.LiveAt.Add(a.MinLiveDuration); now.Before(earliest) {
			err := newError(KindState, ReasonTooEarly, "auction %s must stay live until %s", a.ID, earliest.Format(time.RFC3339Nano))
			err.NotBefore = earliest
			return err
		}
	}

	started := time.Now()
	frozen := b.pending()
	result, settled := Clear(a, frozen, now)
	metrics.ClearingDuration.Observe(time.Since(started).Seconds())

	quotes := make([]models.QuoteRequest, len(b.quotes))
	copy(quotes, b.quotes)
	for _, q := range settled {
		quotes[b.byID[q.ID]] = q
	}

	digest, leaves, err := Digest(quotes, result)
	if err != nil {
		return err
	}
	rec := models.AuditRecord{
		AuctionID: a.ID,
		Digest:    digest,
		Algorithm: DigestAlgorithm,
		LeafCount: leaves,
		SealedAt:  now,
	}

	next := a
	next.Status = models.StatusClosed
	next.Timeline.AllocatedAt = &now

	price := ""
	if result.Price != nil {
		price = result.Price.String()
	}
	events := []models.LedgerEvent{
		b.eventAt(1, models.EventAuctionClosed, trig.Actor, a.ID, map[string]string{
			"manual": strconv.FormatBool(trig.Manual),
			"frozen": strconv.Itoa(len(frozen)),
		}, now),
		b.eventAt(2, models.EventClearingCompleted, "system", a.ID, map[string]string{
			"price":            price,
			"matched_quantity": strconv.FormatInt(result.MatchedQuantity, 10),
		}, now),
		b.eventAt(3, models.EventAuditSealed, "system", a.ID, map[string]string{
			"digest": digest,
		}, now),
	}

	sctx, cancel := e.storeCtx(ctx)
	defer cancel()
	err = e.store.CommitClose(sctx, ledger.CloseBatch{
		Auction: next,
		Quotes:  settled,
		Result:  result,
		Audit:   rec,
		Events:  events,
	})
	if err != nil {
		return e.storeErr(b, err)
	}

	b.auction = next
	b.quotes = quotes
	b.clearing = &result
	b.audit = &rec
	b.eventSeq = events[len(events)-1].Seq

	metrics.MatchedQuantity.Observe(float64(result.MatchedQuantity))
	e.log.Info("🔔 auction closed",
		zap.String("auction_id", a.ID),
		zap.String("actor", trig.Actor),
		zap.Int("frozen", len(frozen)),
		zap.String("price", price),
		zap.Int64("matched_quantity", result.MatchedQuantity),
		zap.String("digest", digest))

	e.publish(b, models.DeltaStatusChanged, now, nil, nil)
	r := copyResult(result)
	e.publish(b, models.DeltaClearingCompleted, now, nil, &r)
	return nil
}

// Get returns the current snapshot of an auction.
func (e *Engine) Get(ctx context.Context, auctionID string) (models.AuctionView, error) {
	var v models.AuctionView
	err := e.with(ctx, auctionID, func(b *book) error {
		v = b.view()
		return nil
	})
	return v, err
}

func (e *Engine) List(ctx context.Context, f ledger.AuctionFilter) ([]models.Auction, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	out, err := e.store.ListAuctions(sctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}
	return out, nil
}

// Events returns the lifecycle log of an auction in sequence order.
func (e *Engine) Events(ctx context.Context, auctionID string) ([]models.LedgerEvent, error) {
	sctx, cancel := e.storeCtx(ctx)
	defer cancel()

	evs, err := e.store.ListEvents(sctx, auctionID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, newError(KindNotFound, ReasonNotFound, "auction %s not found", auctionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return evs, nil
}

// Clearing returns the clearing result, withheld once verification failed.
func (e *Engine) Clearing(ctx context.Context, auctionID string) (models.ClearingResult, error) {
	var r models.ClearingResult
	err := e.with(ctx, auctionID, func(b *book) error {
		switch {
		case b.halted:
			return newError(KindIntegrity, ReasonDigestMismatch, "auction %s failed audit verification", auctionID)
		case b.clearing == nil:
			return newError(KindNotFound, ReasonNotFound, "auction %s has not cleared", auctionID)
		}
		r = copyResult(*b.clearing)
		return nil
	})
	return r, err
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
