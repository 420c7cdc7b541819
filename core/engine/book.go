package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rithikrice/bondMatchPlus/core/ledger"
	"github.com/rithikrice/bondMatchPlus/models"
)

// book is the in-memory state of one auction, rebuilt from the store on
// first use. Every field is guarded by mu.
type book struct {
	mu     sync.Mutex
	loaded bool

	auction  models.Auction
	quotes   []models.QuoteRequest
	byID     map[string]int
	eventSeq uint64
	clearing *models.ClearingResult
	audit    *models.AuditRecord
	halted   bool
}

func (e *Engine) getBook(auctionID string) *book {
	b, _ := e.books.LoadOrStore(auctionID, &book{})
	return b.(*book)
}

// with runs fn inside the auction's exclusive section.
func (e *Engine) with(ctx context.Context, auctionID string, fn func(b *book) error) error {
	b := e.getBook(auctionID)
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.loaded {
		if err := e.load(ctx, auctionID, b); err != nil {
			if IsKind(err, KindNotFound) {
				e.books.Delete(auctionID)
			}
			return err
		}
	}
	return fn(b)
}

func (e *Engine) load(ctx context.Context, auctionID string, b *book) error {
	ctx, cancel := e.storeCtx(ctx)
	defer cancel()

	a, err := e.store.GetAuction(ctx, auctionID)
	if err != nil {
		return e.storeErr(b, err)
	}
	quotes, err := e.store.ListQuotes(ctx, auctionID)
	if err != nil {
		return e.storeErr(b, err)
	}
	events, err := e.store.ListEvents(ctx, auctionID)
	if err != nil {
		return e.storeErr(b, err)
	}

	b.auction = a
	b.quotes = quotes
	b.byID = make(map[string]int, len(quotes))
	for i, q := range quotes {
		b.byID[q.ID] = i
	}
	b.eventSeq = 0
	b.halted = false
	for _, ev := range events {
		b.eventSeq = ev.Seq
		if ev.Kind == models.EventAuditMismatch {
			b.halted = true
		}
	}

	b.clearing, b.audit = nil, nil
	if r, err := e.store.GetClearing(ctx, auctionID); err == nil {
		b.clearing = &r
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return e.storeErr(b, err)
	}
	if rec, err := e.store.GetAudit(ctx, auctionID); err == nil {
		b.audit = &rec
	} else if !errors.Is(err, ledger.ErrNotFound) {
		return e.storeErr(b, err)
	}

	b.loaded = true
	e.log.Debug("auction book loaded",
		zap.String("auction_id", auctionID),
		zap.Int("quotes", len(quotes)),
		zap.Uint64("event_seq", b.eventSeq))
	return nil
}

// storeErr translates a store failure. Conflicts mean another writer got
// there first, so the cached book is dropped and reloaded on next use.
func (e *Engine) storeErr(b *book, err error) error {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return newError(KindNotFound, ReasonNotFound, "%v", err)
	case errors.Is(err, ledger.ErrSequenceConflict), errors.Is(err, ledger.ErrImmutable), errors.Is(err, ledger.ErrDuplicate):
		b.loaded = false
		return newError(KindConcurrency, ReasonStaleLedger, "%v", err)
	default:
		return fmt.Errorf("ledger store: %w", err)
	}
}

func (b *book) event(kind models.EventKind, actor, ref string, detail map[string]string, at time.Time) models.LedgerEvent {
	return b.eventAt(1, kind, actor, ref, detail, at)
}

// eventAt builds the event that will land offset positions after the last
// recorded one.
func (b *book) eventAt(offset uint64, kind models.EventKind, actor, ref string, detail map[string]string, at time.Time) models.LedgerEvent {
	return models.LedgerEvent{
		AuctionID: b.auction.ID,
		Seq:       b.eventSeq + offset,
		Kind:      kind,
		Actor:     actor,
		RefID:     ref,
		Detail:    detail,
		At:        at,
	}
}

func (b *book) nextSeq() uint64 {
	return uint64(len(b.quotes)) + 1
}

func (b *book) quote(id string) (models.QuoteRequest, bool) {
	i, ok := b.byID[id]
	if !ok {
		return models.QuoteRequest{}, false
	}
	return b.quotes[i], true
}

func (b *book) put(q models.QuoteRequest) {
	if i, ok := b.byID[q.ID]; ok {
		b.quotes[i] = q
		return
	}
	b.byID[q.ID] = len(b.quotes)
	b.quotes = append(b.quotes, q)
}

func (b *book) pending() []models.QuoteRequest {
	var out []models.QuoteRequest
	for _, q := range b.quotes {
		if q.Status == models.QuotePending {
			out = append(out, q)
		}
	}
	return out
}

func (b *book) view() models.AuctionView {
	v := models.AuctionView{
		Auction:         b.auction,
		IntegrityHalted: b.halted,
		Version:         b.eventSeq,
		Ledger: models.LedgerSummary{
			QuoteCount: len(b.quotes),
			ByStatus:   make(map[models.QuoteStatus]int),
		},
	}
	for _, q := range b.quotes {
		v.Ledger.ByStatus[q.Status]++
		v.Ledger.LastSeq = q.Seq
		if q.Status != models.QuotePending {
			continue
		}
		if q.Side == models.SideBuy {
			v.Ledger.PendingBuyQty += q.Quantity
		} else {
			v.Ledger.PendingSellQty += q.Quantity
		}
	}
	if b.clearing != nil && !b.halted {
		r := copyResult(*b.clearing)
		v.Clearing = &r
	}
	if b.audit != nil {
		rec := *b.audit
		v.Audit = &rec
	}
	return v
}

func copyResult(r models.ClearingResult) models.ClearingResult {
	fills := make([]models.Fill, len(r.Fills))
	copy(fills, r.Fills)
	r.Fills = fills
	return r
}
