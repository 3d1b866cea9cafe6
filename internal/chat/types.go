package chat

// Kind is the content kind of a message.
type Kind string

const (
	KindText     Kind = "TEXT"
	KindRecalled Kind = "RECALLED"
)

// Message is a direct message as assigned by the server. SentAtMs is set once
// at creation; Kind may move from TEXT to RECALLED and never back.
type Message struct {
	ID       int64  `json:"id"`
	From     int64  `json:"from"`
	To       int64  `json:"to"`
	Kind     Kind   `json:"kind"`
	Body     string `json:"body"`
	SentAtMs int64  `json:"sentAtMs"`
}

// Recalled reports whether the message has been retracted by its sender.
func (m Message) Recalled() bool {
	return m.Kind == KindRecalled
}

// Involves reports whether user is the sender or recipient.
func (m Message) Involves(user int64) bool {
	return m.From == user || m.To == user
}

// Peer returns the other participant of m from the point of view of me.
func Peer(m Message, me int64) int64 {
	if m.From == me {
		return m.To
	}
	return m.From
}

// MessagePage is one page of conversation history, newest first as served.
type MessagePage struct {
	Messages   []Message
	NextCursor Cursor
	HasMore    bool
}

// ThreadSummary is the inbox row for one peer.
type ThreadSummary struct {
	PeerID          int64   `json:"peerId"`
	LastMessage     Message `json:"lastMessage"`
	LastMessageAtMs int64   `json:"lastMessageAtMs"`
	UnreadCount     int     `json:"unreadCount"`
}

// ThreadPage is one page of thread summaries.
type ThreadPage struct {
	Threads    []ThreadSummary
	NextCursor string
	HasMore    bool
}

// PresenceStatus is a peer's online state.
type PresenceStatus string

const (
	Online  PresenceStatus = "ONLINE"
	Offline PresenceStatus = "OFFLINE"
)

// PresenceState is a point-in-time presence snapshot for one peer.
type PresenceState struct {
	PeerID         int64          `json:"peerId"`
	Status         PresenceStatus `json:"status"`
	LastActiveAtMs *int64         `json:"lastActiveAtMs,omitempty"`
}

// Profile holds the display data of a user.
type Profile struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// SendRequest is the payload of a send-message call.
type SendRequest struct {
	To          int64
	Kind        Kind
	Body        string
	ClientToken string
}
