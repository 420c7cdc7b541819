package broadcast

import (
	socketio "github.com/zishang520/socket.io/v2/socket"

	"github.com/rithikrice/bondMatchPlus/models"
)

// DeltaEvent is the socket.io event name every delta is emitted under.
const DeltaEvent = "auction_delta"

func AuctionRoom(auctionID string) string {
	return "auction:" + auctionID
}

func ParticipantRoom(participantID string) string {
	return "participant:" + participantID
}

// roomEmitter is the slice of the socket.io server the publisher needs.
type roomEmitter interface {
	emit(room, event string, payload any)
}

type ioEmitter struct {
	io *socketio.Server
}

func (e ioEmitter) emit(room, event string, payload any) {
	e.io.To(socketio.Room(room)).Emit(event, payload)
}

// SocketPublisher pushes deltas into socket.io rooms. The auction room gets
// an anonymised copy; the owning participant's room gets the full quote.
type SocketPublisher struct {
	out roomEmitter
}

func NewSocketPublisher(io *socketio.Server) *SocketPublisher {
	return &SocketPublisher{out: ioEmitter{io: io}}
}

func (p *SocketPublisher) Publish(d models.Delta) {
	p.out.emit(AuctionRoom(d.AuctionID), DeltaEvent, Anonymise(d))

	if d.Quote != nil && d.Quote.ParticipantID != "" {
		p.out.emit(ParticipantRoom(d.Quote.ParticipantID), DeltaEvent, d)
	}
}

// Anonymise strips participant identity from a delta meant for a public room.
func Anonymise(d models.Delta) models.Delta {
	if d.Quote != nil {
		q := *d.Quote
		q.ParticipantID = ""
		d.Quote = &q
	}
	return d
}
