package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rithikrice/bondMatchPlus/models"
)

type memAuction struct {
	auction  models.Auction
	quotes   []models.QuoteRequest
	events   []models.LedgerEvent
	clearing *models.ClearingResult
	audit    *models.AuditRecord
}

// MemoryStore keeps everything in process memory. It honours the same
// ordering and immutability rules as the PostgreSQL store and is what the
// engine runs on when STORE=memory.
type MemoryStore struct {
	mu       sync.RWMutex
	auctions map[string]*memAuction
	order    []string
	quotes   map[string]string // quote id -> auction id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		auctions: make(map[string]*memAuction),
		quotes:   make(map[string]string),
	}
}

func (s *MemoryStore) CreateAuction(_ context.Context, a models.Auction, ev models.LedgerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.auctions[a.ID]; ok {
		return fmt.Errorf("auction %s: %w", a.ID, ErrDuplicate)
	}
	ma := &memAuction{auction: a}
	if err := ma.checkEvent(ev); err != nil {
		return err
	}
	ma.events = append(ma.events, copyEvent(ev))
	s.auctions[a.ID] = ma
	s.order = append(s.order, a.ID)
	return nil
}

func (s *MemoryStore) UpdateAuction(_ context.Context, a models.Auction, ev models.LedgerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ma, err := s.get(a.ID)
	if err != nil {
		return err
	}
	if err := ma.checkEvent(ev); err != nil {
		return err
	}
	ma.auction = a
	ma.events = append(ma.events, copyEvent(ev))
	return nil
}

func (s *MemoryStore) AppendQuote(_ context.Context, q models.QuoteRequest, ev models.LedgerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ma, err := s.get(q.AuctionID)
	if err != nil {
		return err
	}
	if err := s.checkAppend(ma, q); err != nil {
		return err
	}
	if err := ma.checkEvent(ev); err != nil {
		return err
	}
	ma.quotes = append(ma.quotes, q)
	ma.events = append(ma.events, copyEvent(ev))
	s.quotes[q.ID] = q.AuctionID
	return nil
}

func (s *MemoryStore) UpdateQuote(_ context.Context, q models.QuoteRequest, ev models.LedgerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ma, err := s.get(q.AuctionID)
	if err != nil {
		return err
	}
	idx, err := ma.quoteIndex(q)
	if err != nil {
		return err
	}
	if err := ma.checkEvent(ev); err != nil {
		return err
	}
	ma.quotes[idx] = q
	ma.events = append(ma.events, copyEvent(ev))
	return nil
}

func (s *MemoryStore) ReplaceQuote(_ context.Context, cancelled, admitted models.QuoteRequest, evs []models.LedgerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ma, err := s.get(cancelled.AuctionID)
	if err != nil {
		return err
	}
	idx, err := ma.quoteIndex(cancelled)
	if err != nil {
		return err
	}
	if admitted.AuctionID != cancelled.AuctionID {
		return fmt.Errorf("replacement crosses auctions: %w", ErrSequenceConflict)
	}
	if err := s.checkAppend(ma, admitted); err != nil {
		return err
	}
	if err := ma.checkEvents(evs); err != nil {
		return err
	}

	ma.quotes[idx] = cancelled
	ma.quotes = append(ma.quotes, admitted)
	for _, ev := range evs {
		ma.events = append(ma.events, copyEvent(ev))
	}
	s.quotes[admitted.ID] = admitted.AuctionID
	return nil
}

func (s *MemoryStore) CommitClose(_ context.Context, b CloseBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ma, err := s.get(b.Auction.ID)
	if err != nil {
		return err
	}
	if ma.clearing != nil || ma.audit != nil {
		return fmt.Errorf("auction %s already cleared: %w", b.Auction.ID, ErrImmutable)
	}
	idx := make([]int, len(b.Quotes))
	for i, q := range b.Quotes {
		j, err := ma.quoteIndex(q)
		if err != nil {
			return err
		}
		idx[i] = j
	}
	if err := ma.checkEvents(b.Events); err != nil {
		return err
	}

	for i, q := range b.Quotes {
		ma.quotes[idx[i]] = q
	}
	ma.auction = b.Auction
	res := copyClearing(b.Result)
	ma.clearing = &res
	rec := b.Audit
	ma.audit = &rec
	for _, ev := range b.Events {
		ma.events = append(ma.events, copyEvent(ev))
	}
	return nil
}

func (s *MemoryStore) SealAudit(_ context.Context, rec models.AuditRecord, ev models.LedgerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ma, err := s.get(rec.AuctionID)
	if err != nil {
		return err
	}
	if ma.audit != nil {
		return fmt.Errorf("audit for %s: %w", rec.AuctionID, ErrImmutable)
	}
	if err := ma.checkEvent(ev); err != nil {
		return err
	}
	ma.audit = &rec
	ma.events = append(ma.events, copyEvent(ev))
	return nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, ev models.LedgerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ma, err := s.get(ev.AuctionID)
	if err != nil {
		return err
	}
	if err := ma.checkEvent(ev); err != nil {
		return err
	}
	ma.events = append(ma.events, copyEvent(ev))
	return nil
}

func (s *MemoryStore) GetAuction(_ context.Context, id string) (models.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ma, err := s.get(id)
	if err != nil {
		return models.Auction{}, err
	}
	return ma.auction, nil
}

func (s *MemoryStore) ListAuctions(_ context.Context, f AuctionFilter) ([]models.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Auction, 0, len(s.order))
	for _, id := range s.order {
		a := s.auctions[id].auction
		if f.match(a) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) GetQuote(_ context.Context, id string) (models.QuoteRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	auctionID, ok := s.quotes[id]
	if !ok {
		return models.QuoteRequest{}, fmt.Errorf("quote %s: %w", id, ErrNotFound)
	}
	for _, q := range s.auctions[auctionID].quotes {
		if q.ID == id {
			return q, nil
		}
	}
	return models.QuoteRequest{}, fmt.Errorf("quote %s: %w", id, ErrNotFound)
}

func (s *MemoryStore) ListQuotes(_ context.Context, auctionID string) ([]models.QuoteRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ma, err := s.get(auctionID)
	if err != nil {
		return nil, err
	}
	out := make([]models.QuoteRequest, len(ma.quotes))
	copy(out, ma.quotes)
	return out, nil
}

func (s *MemoryStore) ListEvents(_ context.Context, auctionID string) ([]models.LedgerEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ma, err := s.get(auctionID)
	if err != nil {
		return nil, err
	}
	out := make([]models.LedgerEvent, 0, len(ma.events))
	for _, ev := range ma.events {
		out = append(out, copyEvent(ev))
	}
	return out, nil
}

func (s *MemoryStore) GetClearing(_ context.Context, auctionID string) (models.ClearingResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ma, err := s.get(auctionID)
	if err != nil {
		return models.ClearingResult{}, err
	}
	if ma.clearing == nil {
		return models.ClearingResult{}, fmt.Errorf("clearing for %s: %w", auctionID, ErrNotFound)
	}
	return copyClearing(*ma.clearing), nil
}

func (s *MemoryStore) GetAudit(_ context.Context, auctionID string) (models.AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ma, err := s.get(auctionID)
	if err != nil {
		return models.AuditRecord{}, err
	}
	if ma.audit == nil {
		return models.AuditRecord{}, fmt.Errorf("audit for %s: %w", auctionID, ErrNotFound)
	}
	return *ma.audit, nil
}

func (s *MemoryStore) get(id string) (*memAuction, error) {
	ma, ok := s.auctions[id]
	if !ok {
		return nil, fmt.Errorf("auction %s: %w", id, ErrNotFound)
	}
	return ma, nil
}

func (s *MemoryStore) checkAppend(ma *memAuction, q models.QuoteRequest) error {
	if _, ok := s.quotes[q.ID]; ok {
		return fmt.Errorf("quote %s: %w", q.ID, ErrDuplicate)
	}
	if want := uint64(len(ma.quotes)) + 1; q.Seq != want {
		return fmt.Errorf("quote seq %d, want %d: %w", q.Seq, want, ErrSequenceConflict)
	}
	return nil
}

func (ma *memAuction) quoteIndex(q models.QuoteRequest) (int, error) {
	if q.Seq == 0 || q.Seq > uint64(len(ma.quotes)) || ma.quotes[q.Seq-1].ID != q.ID {
		return 0, fmt.Errorf("quote %s: %w", q.ID, ErrNotFound)
	}
	return int(q.Seq - 1), nil
}

func (ma *memAuction) checkEvent(ev models.LedgerEvent) error {
	if want := uint64(len(ma.events)) + 1; ev.Seq != want {
		return fmt.Errorf("event seq %d, want %d: %w", ev.Seq, want, ErrSequenceConflict)
	}
	return nil
}

func (ma *memAuction) checkEvents(evs []models.LedgerEvent) error {
	next := uint64(len(ma.events)) + 1
	for _, ev := range evs {
		if ev.Seq != next {
			return fmt.Errorf("event seq %d, want %d: %w", ev.Seq, next, ErrSequenceConflict)
		}
		next++
	}
	return nil
}

func copyEvent(ev models.LedgerEvent) models.LedgerEvent {
	if ev.Detail != nil {
		d := make(map[string]string, len(ev.Detail))
		for k, v := range ev.Detail {
			d[k] = v
		}
		ev.Detail = d
	}
	return ev
}

func copyClearing(r models.ClearingResult) models.ClearingResult {
	fills := make([]models.Fill, len(r.Fills))
	copy(fills, r.Fills)
	r.Fills = fills
	return r
}
