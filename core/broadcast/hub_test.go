package broadcast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rithikrice/bondMatchPlus/models"
)

func TestHubDeliversPerAuction(t *testing.T) {
	h := NewHub(4)
	a, cancelA := h.Subscribe("a")
	defer cancelA()
	b, cancelB := h.Subscribe("b")
	defer cancelB()

	h.Publish(models.Delta{AuctionID: "a", Version: 1})

	require.Len(t, a, 1)
	assert.Equal(t, uint64(1), (<-a).Version)
	assert.Len(t, b, 0)
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	h := NewHub(2)
	ch, cancel := h.Subscribe("a")
	defer cancel()

	for v := uint64(1); v <= 5; v++ {
		h.Publish(models.Delta{AuctionID: "a", Version: v})
	}

	require.Len(t, ch, 2)
	assert.Equal(t, uint64(1), (<-ch).Version)
	assert.Equal(t, uint64(2), (<-ch).Version)
}

func TestHubCancelClosesOnce(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe("a")
	assert.Len(t, h.subs["a"], 1)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
	assert.NotContains(t, h.subs, "a")

	// publishing after every subscriber left is a no-op
	h.Publish(models.Delta{AuctionID: "a"})
}

type emitted struct {
	room, event string
	payload     any
}

type fakeEmitter struct {
	out []emitted
}

func (f *fakeEmitter) emit(room, event string, payload any) {
	f.out = append(f.out, emitted{room, event, payload})
}

func TestSocketPublisherHidesParticipant(t *testing.T) {
	f := &fakeEmitter{}
	p := &SocketPublisher{out: f}

	q := &models.QuoteRequest{ID: "q1", ParticipantID: "alice", Side: models.SideBuy, Quantity: 10}
	p.Publish(models.Delta{AuctionID: "a1", Type: models.DeltaQuoteAdmitted, Quote: q})

	require.Len(t, f.out, 2)
	assert.Equal(t, "auction:a1", f.out[0].room)
	assert.Equal(t, DeltaEvent, f.out[0].event)
	public := f.out[0].payload.(models.Delta)
	assert.Empty(t, public.Quote.ParticipantID)

	assert.Equal(t, "participant:alice", f.out[1].room)
	private := f.out[1].payload.(models.Delta)
	assert.Equal(t, "alice", private.Quote.ParticipantID)

	// the caller's quote is left untouched
	assert.Equal(t, "alice", q.ParticipantID)
}

func TestSocketPublisherStatusOnlyGoesToAuctionRoom(t *testing.T) {
	f := &fakeEmitter{}
	p := &SocketPublisher{out: f}
	p.Publish(models.Delta{AuctionID: "a1", Type: models.DeltaStatusChanged, Status: models.StatusLive})

	require.Len(t, f.out, 1)
	assert.Equal(t, AuctionRoom("a1"), f.out[0].room)
}
