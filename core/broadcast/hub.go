package broadcast

import (
	"sync"

	"github.com/rithikrice/bondMatchPlus/metrics"
	"github.com/rithikrice/bondMatchPlus/models"
)

// Publisher receives every delta the engine produces. Publish is called with
// the auction's lock held and must not block.
type Publisher interface {
	Publish(d models.Delta)
}

type subscriber struct {
	ch chan models.Delta
}

// Hub is the in-process subscription point. Each subscriber has its own
// buffered channel; a full buffer drops the delta and counts it.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:   make(map[string]map[*subscriber]struct{}),
		buffer: buffer,
	}
}

// Subscribe returns a channel of deltas for the auction and a function that
// unsubscribes and closes it.
func (h *Hub) Subscribe(auctionID string) (<-chan models.Delta, func()) {
	s := &subscriber{ch: make(chan models.Delta, h.buffer)}

	h.mu.Lock()
	if h.subs[auctionID] == nil {
		h.subs[auctionID] = make(map[*subscriber]struct{})
	}
	h.subs[auctionID][s] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[auctionID], s)
			if len(h.subs[auctionID]) == 0 {
				delete(h.subs, auctionID)
			}
			h.mu.Unlock()
			close(s.ch)
		})
	}
}

func (h *Hub) Publish(d models.Delta) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for s := range h.subs[d.AuctionID] {
		select {
		case s.ch <- d:
		default:
			metrics.DroppedDeltas.WithLabelValues("hub").Inc()
		}
	}
}
