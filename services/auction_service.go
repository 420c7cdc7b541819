package services

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rithikrice/bondMatchPlus/core/engine"
	"github.com/rithikrice/bondMatchPlus/core/ledger"
	"github.com/rithikrice/bondMatchPlus/logging"
	"github.com/rithikrice/bondMatchPlus/models"
)

// AuctionService is the command surface shared by the HTTP handlers and
// in-process callers. It keeps the scheduler in step with the engine.
type AuctionService struct {
	engine    *engine.Engine
	scheduler *engine.Scheduler
	log       *logging.Logger
}

var GlobalAuctionService *AuctionService

func NewAuctionService(e *engine.Engine, s *engine.Scheduler, log *logging.Logger) *AuctionService {
	if log == nil {
		log = logging.NewTestLogger()
	}
	return &AuctionService{engine: e, scheduler: s, log: log.Named("auctions")}
}

// Create registers the auction and arms both of its timed transitions.
func (s *AuctionService) Create(ctx context.Context, spec models.AuctionSpec, actor string) (models.Auction, error) {
	a, err := s.engine.Create(ctx, spec, actor)
	if err != nil {
		return a, err
	}
	s.scheduler.ScheduleTransition(a.ID, models.StatusLive, a.Timeline.StartsAt)
	s.scheduler.ScheduleTransition(a.ID, models.StatusClosed, a.Timeline.EndsAt)
	return a, nil
}

// Transition forces an auction to target. Reaching a state the auction is
// already in reports changed=false rather than an error.
func (s *AuctionService) Transition(ctx context.Context, auctionID string, target models.AuctionStatus, actor string) (models.Auction, bool, error) {
	a, err := s.scheduler.ForceTransition(ctx, auctionID, target, actor)
	if err == nil {
		return a, true, nil
	}
	if !engine.IsKind(err, engine.KindConcurrency) {
		return a, false, err
	}

	view, getErr := s.engine.Get(ctx, auctionID)
	if getErr != nil || view.Auction.Status != target {
		return a, false, err
	}
	s.log.Debug("transition already applied",
		zap.String("auction_id", auctionID),
		zap.String("target", string(target)))
	return view.Auction, false, nil
}

func (s *AuctionService) Snapshot(ctx context.Context, auctionID string) (models.AuctionView, error) {
	return s.engine.Get(ctx, auctionID)
}

func (s *AuctionService) List(ctx context.Context, f ledger.AuctionFilter) ([]models.Auction, error) {
	return s.engine.List(ctx, f)
}

// Events returns the auction's ledger. Non-admin actors see who acted on a
// quote only when it was themselves.
func (s *AuctionService) Events(ctx context.Context, auctionID string, actor engine.Actor) ([]models.LedgerEvent, error) {
	events, err := s.engine.Events(ctx, auctionID)
	if err != nil || actor.Admin {
		return events, err
	}
	out := make([]models.LedgerEvent, len(events))
	for i, ev := range events {
		if quoteEvent(ev.Kind) && ev.Actor != actor.ID {
			ev.Actor = ""
		}
		out[i] = ev
	}
	return out, nil
}

func quoteEvent(k models.EventKind) bool {
	switch k {
	case models.EventQuoteAdmitted, models.EventQuoteCancelled, models.EventQuoteReplaced:
		return true
	}
	return false
}

func (s *AuctionService) Quote(ctx context.Context, quoteID string, actor engine.Actor) (models.QuoteRequest, error) {
	return s.engine.Quote(ctx, quoteID, actor)
}

func (s *AuctionService) Clearing(ctx context.Context, auctionID string) (models.ClearingResult, error) {
	return s.engine.Clearing(ctx, auctionID)
}

// Quotes lists an auction's requests. Non-admin actors only ever see their own.
func (s *AuctionService) Quotes(ctx context.Context, auctionID string, f engine.QuoteFilter, actor engine.Actor) ([]models.QuoteRequest, error) {
	if !actor.Admin {
		f.ParticipantID = actor.ID
	}
	return s.engine.Quotes(ctx, auctionID, f)
}

func (s *AuctionService) Submit(ctx context.Context, r engine.SubmitRequest) (models.QuoteRequest, error) {
	return s.engine.Submit(ctx, r)
}

func (s *AuctionService) Cancel(ctx context.Context, quoteID string, actor engine.Actor) (models.QuoteRequest, error) {
	return s.engine.Cancel(ctx, quoteID, actor)
}

func (s *AuctionService) Replace(ctx context.Context, quoteID string, actor engine.Actor, qty int64, price *decimal.Decimal) (models.QuoteRequest, error) {
	return s.engine.Replace(ctx, quoteID, actor, qty, price)
}

func (s *AuctionService) Verify(ctx context.Context, auctionID string) (models.AuditVerification, error) {
	return s.engine.Verify(ctx, auctionID)
}

func (s *AuctionService) Subscribe(auctionID string) (<-chan models.Delta, func()) {
	return s.engine.Subscribe(auctionID)
}

type Stats struct {
	Auctions         map[models.AuctionStatus]int `json:"auctions"`
	Total            int                          `json:"total"`
	ArmedTransitions int                          `json:"armed_transitions"`
}

func (s *AuctionService) Stats(ctx context.Context) (Stats, error) {
	auctions, err := s.engine.List(ctx, ledger.AuctionFilter{})
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Auctions: map[models.AuctionStatus]int{
			models.StatusUpcoming: 0,
			models.StatusLive:     0,
			models.StatusClosed:   0,
		},
		Total:            len(auctions),
		ArmedTransitions: s.scheduler.Armed(),
	}
	for _, a := range auctions {
		st.Auctions[a.Status]++
	}
	return st, nil
}
