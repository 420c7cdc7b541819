package handlers

import (
	"log"

	socketio "github.com/zishang520/socket.io/v2/socket"

	"github.com/rithikrice/bondMatchPlus/core/broadcast"
	"github.com/rithikrice/bondMatchPlus/middleware"
)

func firstString(data []any) (string, bool) {
	if len(data) == 0 {
		return "", false
	}
	s, ok := data[0].(string)
	return s, ok && s != ""
}

// RegisterSocketEvents wires the room events. Anyone may follow an auction;
// the private participant room requires a valid token.
func RegisterSocketEvents(io *socketio.Server, secret string) {
	io.On("connection", func(clients ...any) {
		socket := clients[0].(*socketio.Socket)
		log.Printf("🔌 Client connected: %s", socket.Id())

		socket.On("join_auction", func(data ...any) {
			if id, ok := firstString(data); ok {
				socket.Join(socketio.Room(broadcast.AuctionRoom(id)))
				log.Printf("📈 Client joined auction room: %s", id)
			}
		})

		socket.On("leave_auction", func(data ...any) {
			if id, ok := firstString(data); ok {
				socket.Leave(socketio.Room(broadcast.AuctionRoom(id)))
			}
		})

		socket.On("join_participant", func(data ...any) {
			token, ok := firstString(data)
			if !ok {
				return
			}
			id, _, err := middleware.ParseToken(secret, token)
			if err != nil {
				socket.Emit("auth_error", err.Error())
				return
			}
			socket.Join(socketio.Room(broadcast.ParticipantRoom(id)))
		})

		socket.On("disconnect", func(args ...any) {
			log.Printf("🔌 Client disconnected: %s", socket.Id())
		})
	})
}
