package engine

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/rithikrice/bondMatchPlus/core/ledger"
	"github.com/rithikrice/bondMatchPlus/logging"
	"github.com/rithikrice/bondMatchPlus/models"
)

const (
	DefaultReconcileSpec = "@every 1m"
	schedulerActor       = "scheduler"
)

// oneShot fires once at `at`, or immediately when `at` has already passed.
// After it has been handed to cron as due it reports no further activation.
type oneShot struct {
	mu    sync.Mutex
	at    time.Time
	armed bool
}

func (s *oneShot) Next(t time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Before(s.at) {
		s.armed = true
		return s.at
	}
	if !s.armed {
		s.armed = true
		return s.at
	}
	return time.Time{}
}

type scheduled struct {
	id cron.EntryID
	at time.Time
}

type pendingEntry struct {
	auctionID string
	target    models.AuctionStatus
	at        time.Time
}

// Scheduler drives timed transitions. Entries are one-shot and keyed by
// auction and target, so scheduling the same edge twice replaces the first.
type Scheduler struct {
	engine *Engine
	cron   *cron.Cron
	log    *logging.Logger
	spec   string

	mu      sync.Mutex
	ctx     context.Context
	running bool
	entries map[string]map[models.AuctionStatus]scheduled
	queued  []pendingEntry

	reconcileID cron.EntryID
}

func NewScheduler(e *Engine, log *logging.Logger, reconcileSpec string) *Scheduler {
	if log == nil {
		log = logging.NewTestLogger()
	}
	if reconcileSpec == "" {
		reconcileSpec = DefaultReconcileSpec
	}
	log = log.Named("scheduler")
	return &Scheduler{
		engine:  e,
		log:     log,
		spec:    reconcileSpec,
		ctx:     context.Background(),
		entries: make(map[string]map[models.AuctionStatus]scheduled),
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cronLogger{log}),
			cron.WithChain(cron.Recover(cronLogger{log})),
		),
	}
}

// Start runs the cron loop, arms every queued transition and reconciles
// against the store once before returning.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.ctx = ctx
	s.cron.Start()
	s.running = true
	queued := s.queued
	s.queued = nil
	s.mu.Unlock()

	if s.reconcileID == 0 {
		id, err := s.cron.AddFunc(s.spec, func() {
			if err := s.Reconcile(s.context()); err != nil {
				s.log.Error("reconcile failed", zap.Error(err))
			}
		})
		if err != nil {
			return err
		}
		s.reconcileID = id
	}

	for _, p := range queued {
		s.ScheduleTransition(p.auctionID, p.target, p.at)
	}
	s.log.Info("⏰ auction scheduler started", zap.String("reconcile", s.spec))
	return s.Reconcile(ctx)
}

// Stop halts the cron loop and waits for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()

	// unfired entries go back to the queue so a restart re-arms them
	s.mu.Lock()
	for auctionID, targets := range s.entries {
		for target, e := range targets {
			s.cron.Remove(e.id)
			s.queued = append(s.queued, pendingEntry{auctionID: auctionID, target: target, at: e.at})
		}
	}
	s.entries = make(map[string]map[models.AuctionStatus]scheduled)
	s.mu.Unlock()
	s.log.Info("auction scheduler stopped")
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// ScheduleTransition arms a one-shot transition of auctionID to target at
// the given instant, replacing any earlier entry for the same edge.
func (s *Scheduler) ScheduleTransition(auctionID string, target models.AuctionStatus, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		s.queued = append(s.queued, pendingEntry{auctionID: auctionID, target: target, at: at})
		return
	}

	s.removeLocked(auctionID, target)
	id := s.cron.Schedule(&oneShot{at: at}, cron.FuncJob(func() {
		s.fire(auctionID, target)
	}))
	if s.entries[auctionID] == nil {
		s.entries[auctionID] = make(map[models.AuctionStatus]scheduled)
	}
	s.entries[auctionID][target] = scheduled{id: id, at: at}
	s.log.Debug("transition scheduled",
		zap.String("auction_id", auctionID),
		zap.String("target", string(target)),
		zap.Time("at", at))
}

// CancelSchedule drops every pending transition of an auction.
func (s *Scheduler) CancelSchedule(auctionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for target := range s.entries[auctionID] {
		s.removeLocked(auctionID, target)
	}
	kept := s.queued[:0]
	for _, p := range s.queued {
		if p.auctionID != auctionID {
			kept = append(kept, p)
		}
	}
	s.queued = kept
}

// Scheduled reports when a transition is armed for, if it is.
func (s *Scheduler) Scheduled(auctionID string, target models.AuctionStatus) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[auctionID][target]
	return e.at, ok
}

// Armed returns the number of transitions waiting to fire, queued ones included.
func (s *Scheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queued)
	for _, byTarget := range s.entries {
		n += len(byTarget)
	}
	return n
}

// ForceTransition applies a manual transition and clears the schedules the
// move has made obsolete.
func (s *Scheduler) ForceTransition(ctx context.Context, auctionID string, target models.AuctionStatus, actor string) (models.Auction, error) {
	a, err := s.engine.Transition(ctx, auctionID, target, Trigger{Actor: actor, Manual: true})
	if err != nil {
		return a, err
	}

	s.log.Info("🛠️ manual transition",
		zap.String("auction_id", auctionID),
		zap.String("target", string(target)),
		zap.String("actor", actor))
	if target == models.StatusClosed {
		s.CancelSchedule(auctionID)
	} else {
		s.mu.Lock()
		s.removeLocked(auctionID, target)
		s.mu.Unlock()
	}
	return a, nil
}

// Reconcile re-arms transitions for every auction that is not yet closed.
// Edges that already have an entry are left alone.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	auctions, err := s.engine.List(ctx, ledger.AuctionFilter{})
	if err != nil {
		return err
	}

	armed := 0
	for _, a := range auctions {
		switch a.Status {
		case models.StatusUpcoming:
			armed += s.armIfMissing(a.ID, models.StatusLive, a.Timeline.StartsAt)
			armed += s.armIfMissing(a.ID, models.StatusClosed, a.Timeline.EndsAt)
		case models.StatusLive:
			armed += s.armIfMissing(a.ID, models.StatusClosed, a.Timeline.EndsAt)
		}
	}
	if armed > 0 {
		s.log.Info("🔄 schedules reconciled", zap.Int("armed", armed), zap.Int("auctions", len(auctions)))
	}
	return nil
}

func (s *Scheduler) armIfMissing(auctionID string, target models.AuctionStatus, at time.Time) int {
	if _, ok := s.Scheduled(auctionID, target); ok {
		return 0
	}
	s.ScheduleTransition(auctionID, target, at)
	return 1
}

func (s *Scheduler) fire(auctionID string, target models.AuctionStatus) {
	s.mu.Lock()
	s.removeLocked(auctionID, target)
	ctx := s.ctx
	s.mu.Unlock()

	_, err := s.engine.Transition(ctx, auctionID, target, Trigger{Actor: schedulerActor})
	if err == nil {
		return
	}

	e, ok := AsError(err)
	switch {
	case ok && e.Reason == ReasonTooEarly && !e.NotBefore.IsZero():
		s.log.Debug("transition too early, re-arming",
			zap.String("auction_id", auctionID),
			zap.String("target", string(target)),
			zap.Time("not_before", e.NotBefore))
		s.ScheduleTransition(auctionID, target, e.NotBefore)
	case ok && (e.Kind == KindState || e.Kind == KindConcurrency || e.Kind == KindNotFound):
		s.log.Debug("scheduled transition discarded",
			zap.String("auction_id", auctionID),
			zap.String("target", string(target)),
			zap.String("reason", e.Reason))
	default:
		s.log.Error("scheduled transition failed",
			zap.String("auction_id", auctionID),
			zap.String("target", string(target)),
			zap.Error(err))
	}
}

func (s *Scheduler) removeLocked(auctionID string, target models.AuctionStatus) {
	e, ok := s.entries[auctionID][target]
	if !ok {
		return
	}
	s.cron.Remove(e.id)
	delete(s.entries[auctionID], target)
	if len(s.entries[auctionID]) == 0 {
		delete(s.entries, auctionID)
	}
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	log *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
