package gateway

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// EventBroadcaster pushes sequenced events to authenticated clients. It runs
// on dispatcher goroutines, so a client whose write fails is disconnected
// rather than retried.
type EventBroadcaster struct {
	clients *ClientRegistry
	logger  zerolog.Logger
	seq     atomic.Int64
}

func NewEventBroadcaster(clients *ClientRegistry, logger zerolog.Logger) *EventBroadcaster {
	return &EventBroadcaster{clients: clients, logger: logger}
}

// Broadcast sends a server-wide event to all authenticated clients.
func (b *EventBroadcaster) Broadcast(event string, data interface{}) {
	b.BroadcastEvent(EventMessage{Event: event, Data: data})
}

// BroadcastEvent stamps msg and sends it to every authenticated client.
func (b *EventBroadcaster) BroadcastEvent(msg EventMessage) {
	b.deliver(msg, b.clients.GetAuthenticatedClients())
}

// BroadcastToTab sends msg to the clients watching tabID.
func (b *EventBroadcaster) BroadcastToTab(tabID int, msg EventMessage) {
	msg.TabID = tabID
	b.deliver(msg, b.clients.Watchers(tabID))
}

// BroadcastToClient sends msg to one authenticated client.
func (b *EventBroadcaster) BroadcastToClient(clientID string, msg EventMessage) bool {
	client, ok := b.clients.Get(clientID)
	if !ok || !client.IsAuthenticated() {
		return false
	}
	msg, payload, ok := b.encode(msg)
	return ok && b.send(client, msg, payload)
}

func (b *EventBroadcaster) deliver(msg EventMessage, clients []*Client) {
	msg, payload, ok := b.encode(msg)
	if !ok || len(clients) == 0 {
		return
	}

	delivered := 0
	for _, client := range clients {
		if b.send(client, msg, payload) {
			delivered++
		}
	}

	b.logger.Debug().
		Str("event", msg.Event).
		Int64("seq", msg.Seq).
		Int("tab_id", msg.TabID).
		Int("delivered", delivered).
		Int("failed", len(clients)-delivered).
		Msg("Event delivered")
}

// encode assigns the next sequence number and serialises msg once for all recipients.
func (b *EventBroadcaster) encode(msg EventMessage) (EventMessage, []byte, bool) {
	msg.Type = "event"
	if msg.Seq == 0 {
		msg.Seq = b.seq.Add(1)
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error().Err(err).Str("event", msg.Event).Msg("Failed to marshal event")
		return msg, nil, false
	}
	return msg, payload, true
}

func (b *EventBroadcaster) send(client *Client, msg EventMessage, payload []byte) bool {
	if err := client.WriteMessage(websocket.TextMessage, payload); err != nil {
		b.logger.Warn().
			Err(err).
			Str("clientId", client.ID).
			Str("event", msg.Event).
			Msg("Dropping client after failed write")
		// the read loop sees the close and unregisters the client
		_ = client.Conn.Close()
		return false
	}
	return true
}
