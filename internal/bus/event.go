package bus

import "time"

// Domain event kinds published by daemon components.
const (
	KindStatusChanged       = "session.status_changed"
	KindConversationUpdated = "conversation.updated"
	KindThreadsUpdated      = "threads.updated"
	KindSendAck             = "message.send_ack"
	KindSendFailed          = "message.send_failed"
	KindRecalled            = "message.recalled"
)

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// NewEvent stamps an event with the current time.
func NewEvent(kind string, payload any) Event {
	return Event{Kind: kind, Timestamp: time.Now(), Payload: payload}
}

// ConversationUpdate is the payload of conversation.updated events.
type ConversationUpdate struct {
	PeerID    int64  `json:"peerId"`
	MessageID int64  `json:"messageId,omitempty"`
	Reason    string `json:"reason"` // "incoming", "recall", "sent", "page"
}
