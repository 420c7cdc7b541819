package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuctionStatus is the lifecycle state of an auction. It only moves forward.
type AuctionStatus string

const (
	StatusUpcoming AuctionStatus = "UPCOMING"
	StatusLive     AuctionStatus = "LIVE"
	StatusClosed   AuctionStatus = "CLOSED"
)

func (s AuctionStatus) Valid() bool {
	switch s {
	case StatusUpcoming, StatusLive, StatusClosed:
		return true
	}
	return false
}

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

type QuoteStatus string

const (
	QuotePending          QuoteStatus = "PENDING"
	QuoteMatched          QuoteStatus = "MATCHED"
	QuotePartiallyMatched QuoteStatus = "PARTIALLY_MATCHED"
	QuoteRejected         QuoteStatus = "REJECTED"
	QuoteCancelled        QuoteStatus = "CANCELLED"
)

// Terminal reports whether no further status change is allowed.
func (s QuoteStatus) Terminal() bool {
	return s != QuotePending
}

// Participant roles carried in tokens.
const (
	RoleParticipant = "PARTICIPANT"
	RoleAdmin       = "ADMIN"
)

// Timeline holds the auction's milestones. StartsAt and EndsAt are set at
// creation, the rest once reached.
type Timeline struct {
	AnnouncedAt         *time.Time `json:"announced_at,omitempty"`
	RegistrationCloseAt *time.Time `json:"registration_close_at,omitempty"`
	StartsAt            time.Time  `json:"starts_at"`
	EndsAt              time.Time  `json:"ends_at"`
	LiveAt              *time.Time `json:"live_at,omitempty"`
	AllocatedAt         *time.Time `json:"allocated_at,omitempty"`
}

// AuctionSpec is the input to auction creation.
type AuctionSpec struct {
	InstrumentID        string           `json:"instrument_id"`
	Notional            int64            `json:"notional"`
	MinSize             int64            `json:"min_size"`
	TickSize            *decimal.Decimal `json:"tick_size,omitempty"`
	AnnouncedAt         *time.Time       `json:"announced_at,omitempty"`
	RegistrationCloseAt *time.Time       `json:"registration_close_at,omitempty"`
	StartsAt            time.Time        `json:"starts_at"`
	EndsAt              time.Time        `json:"ends_at"`
	FairPrice           *decimal.Decimal `json:"fair_price,omitempty"`
	Tolerance           decimal.Decimal  `json:"tolerance"`
	MinLiveDuration     time.Duration    `json:"min_live_duration"`
}

type Auction struct {
	ID              string           `json:"id" db:"id"`
	InstrumentID    string           `json:"instrument_id" db:"instrument_id"`
	Status          AuctionStatus    `json:"status" db:"status"`
	Notional        int64            `json:"notional" db:"notional"`
	MinSize         int64            `json:"min_size" db:"min_size"`
	TickSize        *decimal.Decimal `json:"tick_size,omitempty" db:"tick_size"`
	Timeline        Timeline         `json:"timeline"`
	FairPrice       *decimal.Decimal `json:"fair_price,omitempty" db:"fair_price"`
	Tolerance       decimal.Decimal  `json:"tolerance" db:"tolerance"`
	MinLiveDuration time.Duration    `json:"min_live_duration" db:"min_live_ms"`
	CreatedBy       string           `json:"created_by" db:"created_by"`
	CreatedAt       time.Time        `json:"created_at" db:"created_at"`
}

// QuoteRequest is a participant's bid or offer. Price nil means a market order.
type QuoteRequest struct {
	ID            string           `json:"id" db:"id"`
	AuctionID     string           `json:"auction_id" db:"auction_id"`
	ParticipantID string           `json:"participant_id,omitempty" db:"participant_id"`
	Side          Side             `json:"side" db:"side"`
	Quantity      int64            `json:"quantity" db:"quantity"`
	Price         *decimal.Decimal `json:"price,omitempty" db:"price"`
	Seq           uint64           `json:"seq" db:"seq"`
	Status        QuoteStatus      `json:"status" db:"status"`
	Filled        int64            `json:"filled" db:"filled"`
	OutsideBand   bool             `json:"outside_band" db:"outside_band"`
	SubmittedAt   time.Time        `json:"submitted_at" db:"submitted_at"`
	UpdatedAt     time.Time        `json:"updated_at" db:"updated_at"`
}

// IsMarket reports whether the request carries no limit price.
func (q QuoteRequest) IsMarket() bool {
	return q.Price == nil
}

type Fill struct {
	RequestID string `json:"request_id"`
	Seq       uint64 `json:"seq"`
	Side      Side   `json:"side"`
	Quantity  int64  `json:"quantity"`
}

type ClearingResult struct {
	AuctionID       string           `json:"auction_id" db:"auction_id"`
	Price           *decimal.Decimal `json:"price,omitempty" db:"price"`
	MatchedQuantity int64            `json:"matched_quantity" db:"matched_quantity"`
	Fills           []Fill           `json:"fills" db:"fills"`
	ComputedAt      time.Time        `json:"computed_at" db:"computed_at"`
}

type AuditRecord struct {
	AuctionID string    `json:"auction_id" db:"auction_id"`
	Digest    string    `json:"digest" db:"digest"`
	Algorithm string    `json:"algorithm" db:"algorithm"`
	LeafCount int       `json:"leaf_count" db:"leaf_count"`
	SealedAt  time.Time `json:"sealed_at" db:"sealed_at"`
}

type AuditVerification struct {
	AuctionID string `json:"auction_id"`
	Match     bool   `json:"match"`
	Expected  string `json:"expected"`
	Actual    string `json:"actual"`
}

type EventKind string

const (
	EventAuctionCreated    EventKind = "AUCTION_CREATED"
	EventAuctionLive       EventKind = "AUCTION_LIVE"
	EventAuctionClosed     EventKind = "AUCTION_CLOSED"
	EventQuoteAdmitted     EventKind = "QUOTE_ADMITTED"
	EventQuoteCancelled    EventKind = "QUOTE_CANCELLED"
	EventQuoteReplaced     EventKind = "QUOTE_REPLACED"
	EventClearingCompleted EventKind = "CLEARING_COMPLETED"
	EventAuditSealed       EventKind = "AUDIT_SEALED"
	EventAuditMismatch     EventKind = "AUDIT_MISMATCH"
)

// LedgerEvent is one entry of an auction's lifecycle log.
type LedgerEvent struct {
	AuctionID string            `json:"auction_id" db:"auction_id"`
	Seq       uint64            `json:"seq" db:"seq"`
	Kind      EventKind         `json:"kind" db:"kind"`
	Actor     string            `json:"actor,omitempty" db:"actor"`
	RefID     string            `json:"ref_id,omitempty" db:"ref_id"`
	Detail    map[string]string `json:"detail,omitempty" db:"detail"`
	At        time.Time         `json:"at" db:"at"`
}

type LedgerSummary struct {
	QuoteCount     int                 `json:"quote_count"`
	LastSeq        uint64              `json:"last_seq"`
	PendingBuyQty  int64               `json:"pending_buy_qty"`
	PendingSellQty int64               `json:"pending_sell_qty"`
	ByStatus       map[QuoteStatus]int `json:"by_status"`
}

// AuctionView is the snapshot handed to callers and subscribers.
type AuctionView struct {
	Auction         Auction         `json:"auction"`
	Ledger          LedgerSummary   `json:"ledger"`
	Clearing        *ClearingResult `json:"clearing,omitempty"`
	Audit           *AuditRecord    `json:"audit,omitempty"`
	IntegrityHalted bool            `json:"integrity_halted"`
	Version         uint64          `json:"version"`
}

type DeltaType string

const (
	DeltaStatusChanged     DeltaType = "status_changed"
	DeltaQuoteAdmitted     DeltaType = "quote_admitted"
	DeltaQuoteCancelled    DeltaType = "quote_cancelled"
	DeltaClearingCompleted DeltaType = "clearing_completed"
	DeltaIntegrityAlert    DeltaType = "integrity_alert"
)

// Delta is a change notification for one auction. Version is the ledger
// event sequence that produced it, so consumers can order and dedupe.
type Delta struct {
	AuctionID string          `json:"auction_id"`
	Type      DeltaType       `json:"type"`
	Version   uint64          `json:"version"`
	Status    AuctionStatus   `json:"status"`
	Quote     *QuoteRequest   `json:"quote,omitempty"`
	Clearing  *ClearingResult `json:"clearing,omitempty"`
	Snapshot  *AuctionView    `json:"snapshot,omitempty"`
	At        time.Time       `json:"at"`
}

// Participant represents the participants table
type Participant struct {
	ID           string    `json:"id" db:"id"`
	Username     string    `json:"username" db:"username"`
	FullName     string    `json:"full_name" db:"full_name"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Role         string    `json:"role" db:"role"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
