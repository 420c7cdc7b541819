package ledger

import (
	"context"
	"errors"

	"github.com/rithikrice/bondMatchPlus/models"
)

var (
	ErrNotFound         = errors.New("ledger: not found")
	ErrDuplicate        = errors.New("ledger: duplicate record")
	ErrImmutable        = errors.New("ledger: record is immutable")
	ErrSequenceConflict = errors.New("ledger: sequence conflict")
)

// CloseBatch is everything the Live->Closed transition writes. It is
// committed atomically.
type CloseBatch struct {
	Auction models.Auction
	Quotes  []models.QuoteRequest
	Result  models.ClearingResult
	Audit   models.AuditRecord
	Events  []models.LedgerEvent
}

type AuctionFilter struct {
	Status       models.AuctionStatus
	InstrumentID string
}

func (f AuctionFilter) match(a models.Auction) bool {
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.InstrumentID != "" && a.InstrumentID != f.InstrumentID {
		return false
	}
	return true
}

// Store is the durable, append-only record of auctions and their ledgers.
//
// Quote sequences and event sequences must be gap-free per auction: an
// append whose sequence is not last+1 fails with ErrSequenceConflict.
// Clearing results and audit records are write-once and fail with
// ErrImmutable on a second write.
type Store interface {
	CreateAuction(ctx context.Context, a models.Auction, ev models.LedgerEvent) error
	UpdateAuction(ctx context.Context, a models.Auction, ev models.LedgerEvent) error
	AppendQuote(ctx context.Context, q models.QuoteRequest, ev models.LedgerEvent) error
	UpdateQuote(ctx context.Context, q models.QuoteRequest, ev models.LedgerEvent) error
	ReplaceQuote(ctx context.Context, cancelled, admitted models.QuoteRequest, evs []models.LedgerEvent) error
	CommitClose(ctx context.Context, b CloseBatch) error
	SealAudit(ctx context.Context, rec models.AuditRecord, ev models.LedgerEvent) error
	AppendEvent(ctx context.Context, ev models.LedgerEvent) error

	GetAuction(ctx context.Context, id string) (models.Auction, error)
	ListAuctions(ctx context.Context, f AuctionFilter) ([]models.Auction, error)
	GetQuote(ctx context.Context, id string) (models.QuoteRequest, error)
	ListQuotes(ctx context.Context, auctionID string) ([]models.QuoteRequest, error)
	ListEvents(ctx context.Context, auctionID string) ([]models.LedgerEvent, error)
	GetClearing(ctx context.Context, auctionID string) (models.ClearingResult, error)
	GetAudit(ctx context.Context, auctionID string) (models.AuditRecord, error)
}
