package chat

import (
	"testing"
	"time"
)

func TestCursorRoundTrip(t *testing.T) {
	c := CursorOf(Message{ID: 2, SentAtMs: 200})
	if got := c.String(); got != "200|2" {
		t.Fatalf("String() = %q, want 200|2", got)
	}
	parsed, err := ParseCursor("200|2")
	if err != nil {
		t.Fatal(err)
	}
	if parsed != c {
		t.Errorf("ParseCursor = %+v, want %+v", parsed, c)
	}
}

func TestParseCursorInvalid(t *testing.T) {
	tests := []string{"200", "a|2", "200|b", "|"}
	for _, tok := range tests {
		t.Run(tok, func(t *testing.T) {
			if _, err := ParseCursor(tok); err == nil {
				t.Errorf("ParseCursor(%q) expected error", tok)
			}
		})
	}
}

func TestParseCursorEmpty(t *testing.T) {
	c, err := ParseCursor("")
	if err != nil {
		t.Fatal(err)
	}
	if !c.IsZero() {
		t.Errorf("ParseCursor(\"\") = %+v, want zero", c)
	}
}

func TestCursorLessTieBreaksByID(t *testing.T) {
	a := Cursor{SentAtMs: 100, ID: 1}
	b := Cursor{SentAtMs: 100, ID: 2}
	if !a.Less(b) || b.Less(a) {
		t.Errorf("equal timestamps must order by id")
	}
	if b.Before(Message{ID: 9, SentAtMs: 101}) {
		t.Errorf("later message reported before cursor")
	}
	if !b.Before(Message{ID: 1, SentAtMs: 100}) {
		t.Errorf("message (100,1) should be before cursor (100,2)")
	}
}

func TestCanRecall(t *testing.T) {
	now := time.UnixMilli(10 * 60 * 1000)
	tests := []struct {
		name string
		msg  Message
		me   int64
		want bool
	}{
		{"fresh own text", Message{From: 1, Kind: KindText, SentAtMs: now.UnixMilli() - 1000}, 1, true},
		{"exactly at window", Message{From: 1, Kind: KindText, SentAtMs: now.UnixMilli() - RecallWindow.Milliseconds()}, 1, true},
		{"past window", Message{From: 1, Kind: KindText, SentAtMs: now.UnixMilli() - RecallWindow.Milliseconds() - 1}, 1, false},
		{"not sender", Message{From: 2, Kind: KindText, SentAtMs: now.UnixMilli()}, 1, false},
		{"already recalled", Message{From: 1, Kind: KindRecalled, SentAtMs: now.UnixMilli()}, 1, false},
		{"future timestamp", Message{From: 1, Kind: KindText, SentAtMs: now.UnixMilli() + 5000}, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanRecall(tt.msg, tt.me, now); got != tt.want {
				t.Errorf("CanRecall() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPeer(t *testing.T) {
	m := Message{From: 1, To: 2}
	if Peer(m, 1) != 2 || Peer(m, 2) != 1 {
		t.Errorf("Peer() returned wrong participant")
	}
}
