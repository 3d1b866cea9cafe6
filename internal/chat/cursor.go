package chat

import (
	"fmt"
	"strconv"
	"strings"
)

// Cursor is a stable position (SentAtMs, ID) in a conversation. The zero
// value means "start from the newest message".
type Cursor struct {
	SentAtMs int64
	ID       int64
}

// CursorOf returns the cursor positioned at m.
func CursorOf(m Message) Cursor {
	return Cursor{SentAtMs: m.SentAtMs, ID: m.ID}
}

// IsZero reports whether c is the "newest page" cursor.
func (c Cursor) IsZero() bool {
	return c.SentAtMs == 0 && c.ID == 0
}

// Less orders cursors by timestamp, then id.
func (c Cursor) Less(o Cursor) bool {
	if c.SentAtMs != o.SentAtMs {
		return c.SentAtMs < o.SentAtMs
	}
	return c.ID < o.ID
}

// String encodes the cursor as "<sentAtMs>|<id>". The zero cursor encodes to "".
func (c Cursor) String() string {
	if c.IsZero() {
		return ""
	}
	return strconv.FormatInt(c.SentAtMs, 10) + "|" + strconv.FormatInt(c.ID, 10)
}

// ParseCursor decodes a token produced by Cursor.String. An empty token is the
// zero cursor.
func ParseCursor(token string) (Cursor, error) {
	if token == "" {
		return Cursor{}, nil
	}
	ts, id, ok := strings.Cut(token, "|")
	if !ok {
		return Cursor{}, fmt.Errorf("invalid cursor %q", token)
	}
	sentAt, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor timestamp %q: %w", ts, err)
	}
	msgID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor id %q: %w", id, err)
	}
	return Cursor{SentAtMs: sentAt, ID: msgID}, nil
}

// Before reports whether m sorts strictly before the cursor position.
func (c Cursor) Before(m Message) bool {
	return CursorOf(m).Less(c)
}

// CompareMessages orders messages ascending by (SentAtMs, ID).
func CompareMessages(a, b Message) int {
	switch {
	case a.SentAtMs < b.SentAtMs:
		return -1
	case a.SentAtMs > b.SentAtMs:
		return 1
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}
