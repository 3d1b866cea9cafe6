package protocol

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/matheus3301/forumdm/internal/chat"
)

// Frame kinds exchanged on the chat socket.
const (
	KindPing          = "ping"
	KindPong          = "pong"
	KindMessageNew    = "message.new"
	KindMessageRecall = "message.recall"
	KindChatRead      = "chat.read"
)

var inboundKinds = map[string]bool{
	KindPong:          true,
	KindMessageNew:    true,
	KindMessageRecall: true,
}

// Envelope is the typed wrapper of every frame: {"type": ..., "data": ...}.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MessagePayload is the data of message.new and message.recall frames.
type MessagePayload struct {
	ID       int64     `json:"id"`
	From     int64     `json:"from"`
	To       int64     `json:"to"`
	Kind     chat.Kind `json:"kind"`
	Body     string    `json:"body,omitempty"`
	SentAtMs int64     `json:"sentAtMs"`
}

// ToMessage converts the payload to a domain message.
func (p MessagePayload) ToMessage() chat.Message {
	return chat.Message{
		ID:       p.ID,
		From:     p.From,
		To:       p.To,
		Kind:     p.Kind,
		Body:     p.Body,
		SentAtMs: p.SentAtMs,
	}
}

// PayloadFromMessage is the inverse of ToMessage.
func PayloadFromMessage(m chat.Message) MessagePayload {
	return MessagePayload{
		ID:       m.ID,
		From:     m.From,
		To:       m.To,
		Kind:     m.Kind,
		Body:     m.Body,
		SentAtMs: m.SentAtMs,
	}
}

// ReadPayload is the data of a chat.read frame.
type ReadPayload struct {
	PeerID int64 `json:"peerId"`
}

// Encode wraps payload in an envelope of the given kind. A nil payload omits
// the data field.
func Encode(kind string, payload any) ([]byte, error) {
	env := Envelope{Type: kind}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", kind, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// DecodeMessage unmarshals a message payload from env.
func DecodeMessage(env Envelope) (chat.Message, error) {
	var p MessagePayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return chat.Message{}, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return p.ToMessage(), nil
}

// DiscardReason says why a frame was dropped.
type DiscardReason string

const (
	DiscardMalformed DiscardReason = "malformed"
	DiscardUnknown   DiscardReason = "unknown_kind"
)

// Decoder turns raw frames into envelopes. Frames that do not parse or carry
// a kind the client does not understand are dropped without an error; each
// drop is counted and reported to OnDiscard when set.
type Decoder struct {
	OnDiscard func(reason DiscardReason, raw []byte)

	malformed atomic.Int64
	unknown   atomic.Int64
	decoded   atomic.Int64
}

// Decode parses raw. The boolean is false when the frame was discarded.
func (d *Decoder) Decode(raw []byte) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		d.malformed.Add(1)
		d.discard(DiscardMalformed, raw)
		return Envelope{}, false
	}
	if !inboundKinds[env.Type] {
		d.unknown.Add(1)
		d.discard(DiscardUnknown, raw)
		return Envelope{}, false
	}
	d.decoded.Add(1)
	return env, true
}

func (d *Decoder) discard(reason DiscardReason, raw []byte) {
	if d.OnDiscard != nil {
		d.OnDiscard(reason, raw)
	}
}

// Stats is a snapshot of decoder counters.
type Stats struct {
	Decoded   int64 `json:"decoded"`
	Malformed int64 `json:"malformed"`
	Unknown   int64 `json:"unknown"`
}

// Stats returns the current counters.
func (d *Decoder) Stats() Stats {
	return Stats{
		Decoded:   d.decoded.Load(),
		Malformed: d.malformed.Load(),
		Unknown:   d.unknown.Load(),
	}
}
