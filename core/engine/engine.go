package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rithikrice/bondMatchPlus/core/broadcast"
	"github.com/rithikrice/bondMatchPlus/core/ledger"
	"github.com/rithikrice/bondMatchPlus/logging"
	"github.com/rithikrice/bondMatchPlus/models"
)

const (
	defaultStoreTimeout = 5 * time.Second
	defaultBuffer       = 64
)

// Engine runs every auction. Commands on one auction are serialised by that
// auction's book lock; different auctions proceed in parallel.
type Engine struct {
	store        ledger.Store
	hub          *broadcast.Hub
	pub          broadcast.Publisher
	log          *logging.Logger
	clock        func() time.Time
	minLive      time.Duration
	storeTimeout time.Duration
	buffer       int

	books sync.Map // map[string]*book
}

type Option func(*Engine)

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithPublisher adds a sink that receives every delta after the in-process hub.
func WithPublisher(p broadcast.Publisher) Option {
	return func(e *Engine) { e.pub = p }
}

// WithMinLive sets the minimum live duration for auctions created without one.
func WithMinLive(d time.Duration) Option {
	return func(e *Engine) { e.minLive = d }
}

func WithStoreTimeout(d time.Duration) Option {
	return func(e *Engine) { e.storeTimeout = d }
}

func WithSubscriberBuffer(n int) Option {
	return func(e *Engine) { e.buffer = n }
}

func New(store ledger.Store, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		clock:        time.Now,
		storeTimeout: defaultStoreTimeout,
		buffer:       defaultBuffer,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logging.NewTestLogger()
	}
	e.log = e.log.Named("engine")
	e.hub = broadcast.NewHub(e.buffer)
	return e
}

// Subscribe streams deltas for one auction until the returned cancel func is
// called. Slow readers lose deltas rather than stall the engine.
func (e *Engine) Subscribe(auctionID string) (<-chan models.Delta, func()) {
	return e.hub.Subscribe(auctionID)
}

func (e *Engine) Store() ledger.Store {
	return e.store
}

func (e *Engine) now() time.Time {
	return e.clock().UTC()
}

func (e *Engine) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.storeTimeout)
}

func (e *Engine) publish(b *book, typ models.DeltaType, at time.Time, q *models.QuoteRequest, r *models.ClearingResult) {
	d := models.Delta{
		AuctionID: b.auction.ID,
		Type:      typ,
		Version:   b.eventSeq,
		Status:    b.auction.Status,
		Quote:     q,
		Clearing:  r,
		At:        at,
	}
	switch typ {
	case models.DeltaStatusChanged, models.DeltaClearingCompleted, models.DeltaIntegrityAlert:
		view := b.view()
		d.Snapshot = &view
	}

	e.hub.Publish(d)
	if e.pub != nil {
		e.pub.Publish(d)
	}
}
