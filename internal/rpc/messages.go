package rpc

import (
	"encoding/json"

	"github.com/matheus3301/forumdm/internal/chat"
	"github.com/matheus3301/forumdm/internal/protocol"
)

// Empty is the request of calls that take no arguments.
type Empty struct{}

// Event is the envelope of every server stream.
type Event struct {
	ID           string          `json:"id"`
	Profile      string          `json:"profile"`
	Kind         string          `json:"kind"`
	OccurredAtMs int64           `json:"occurredAtMs"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// TransportStats mirrors the session counters.
type TransportStats struct {
	Sent       int64          `json:"sent"`
	Dropped    int64          `json:"dropped"`
	Reconnects int64          `json:"reconnects"`
	Frames     protocol.Stats `json:"frames"`
}

type StatusResponse struct {
	Profile      string         `json:"profile"`
	UserID       int64          `json:"userId"`
	State        string         `json:"state"`
	RetryPending bool           `json:"retryPending"`
	UptimeMs     int64          `json:"uptimeMs"`
	Stats        TransportStats `json:"stats"`
}

// StatusChange is the payload of session.status_changed events.
type StatusChange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type PeerRequest struct {
	PeerID int64 `json:"peerId"`
}

// Item is one rendered line of a conversation: either a time separator or
// a message.
type Item struct {
	Separator  bool          `json:"separator,omitempty"`
	Label      string        `json:"label,omitempty"`
	Message    *chat.Message `json:"message,omitempty"`
	Outgoing   bool          `json:"outgoing,omitempty"`
	Recallable bool          `json:"recallable,omitempty"`
}

type ConversationResponse struct {
	PeerID  int64  `json:"peerId"`
	State   string `json:"state"`
	HasMore bool   `json:"hasMore"`
	Error   string `json:"error,omitempty"`
	Items   []Item `json:"items"`
}

type SendRequest struct {
	PeerID      int64  `json:"peerId"`
	Body        string `json:"body"`
	ClientToken string `json:"clientToken,omitempty"`
}

type SendResponse struct {
	Message chat.Message `json:"message"`
}

type RecallRequest struct {
	PeerID    int64 `json:"peerId"`
	MessageID int64 `json:"messageId"`
}

type MarkReadResponse struct {
	Sent bool `json:"sent"`
}

// ThreadRow is one inbox entry. Presence and Profile are absent until known.
type ThreadRow struct {
	chat.ThreadSummary
	Presence *chat.PresenceState `json:"presence,omitempty"`
	Profile  *chat.Profile       `json:"profile,omitempty"`
}

type ThreadsResponse struct {
	Threads []ThreadRow `json:"threads"`
	HasMore bool        `json:"hasMore"`
}
