package bus

import "time"

// Event kinds published by the synchronization core and the session machine.
const (
	KindSessionStatus   = "session.status_changed"
	KindMessageSent     = "message.sent"
	KindMessageFailed   = "message.send_failed"
	KindMessageStatus   = "message.status_changed"
	KindMessagesUpdated = "message.stream_updated"
	KindConversations   = "conversation.list_updated"
	KindTyping          = "presence.typing_changed"
	KindUserStatus      = "presence.user_changed"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}
