package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rithikrice/bondMatchPlus/models"
)

type Kind string

const (
	KindValidation  Kind = "validation"
	KindState       Kind = "state"
	KindConcurrency Kind = "concurrency"
	KindIntegrity   Kind = "integrity"
	KindNotFound    Kind = "not_found"
)

// Rejection reasons carried in Error.Reason.
const (
	// A quantity equal to the minimum size is admitted; the minimum is the
	// smallest lot, not a floor to be exceeded.
	ReasonBelowMinimum       = "below-minimum"
	ReasonAboveNotional      = "above-notional"
	ReasonInvalidQuantity    = "invalid-quantity"
	ReasonInvalidPrice       = "invalid-price"
	ReasonInvalidSide        = "invalid-side"
	ReasonInvalidParticipant = "invalid-participant"
	ReasonInvalidSpec        = "invalid-spec"
	ReasonAuctionNotLive     = "auction-not-live"
	ReasonIllegalEdge        = "illegal-edge"
	ReasonTooEarly           = "too-early"
	ReasonNotPending         = "not-pending"
	ReasonNotOwner           = "not-owner"
	ReasonAlreadyInState     = "already-in-state"
	ReasonStaleLedger        = "stale-ledger"
	ReasonNotFound           = "not-found"
	ReasonDigestMismatch     = "digest-mismatch"
)

// Error is returned by every engine operation that rejects a command.
// NotBefore is set on too-early transitions to the earliest legal instant.
type Error struct {
	Kind      Kind
	Reason    string
	Message   string
	NotBefore time.Time
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

func newError(kind Kind, reason, format string, args ...any) *Error {
	return &Error{Kind: kind, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err is an engine Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// AsError unwraps err into an engine Error.
func AsError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// Trigger says who asked for a transition. Manual triggers skip the
// timeline check but never the minimum live duration.
type Trigger struct {
	Actor  string
	Manual bool
}

type SubmitRequest struct {
	AuctionID     string
	ParticipantID string
	Side          models.Side
	Quantity      int64
	Price         *decimal.Decimal
}

// Actor identifies the caller of a quote command.
type Actor struct {
	ID    string
	Admin bool
}

type QuoteFilter struct {
	ParticipantID string
	Status        models.QuoteStatus
}

func (f QuoteFilter) match(q models.QuoteRequest) bool {
	if f.ParticipantID != "" && q.ParticipantID != f.ParticipantID {
		return false
	}
	if f.Status != "" && q.Status != f.Status {
		return false
	}
	return true
}
