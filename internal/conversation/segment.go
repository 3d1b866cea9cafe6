package conversation

import (
	"time"

	"github.com/matheus3301/forumdm/internal/chat"
)

// SeparatorGap is the silence after which a time separator is shown.
const SeparatorGap = 10 * time.Minute

// Item is one row of a rendered conversation: either a time separator or a
// message.
type Item struct {
	Separator bool
	Label     string
	Message   chat.Message
}

// Segment interleaves time separators into an ascending message list. A
// separator precedes the first message and every message sent more than
// SeparatorGap after its predecessor. Labels are relative to now in loc.
func Segment(msgs []chat.Message, now time.Time, loc *time.Location) []Item {
	if loc == nil {
		loc = time.Local
	}
	items := make([]Item, 0, len(msgs)+1)
	for i, m := range msgs {
		if i == 0 || m.SentAtMs-msgs[i-1].SentAtMs > SeparatorGap.Milliseconds() {
			items = append(items, Item{
				Separator: true,
				Label:     Label(time.UnixMilli(m.SentAtMs), now, loc),
			})
		}
		items = append(items, Item{Message: m})
	}
	return items
}

// Label formats t for a separator: a bare time today, "Yesterday" plus time,
// month and day within the year, and a full date otherwise.
func Label(t, now time.Time, loc *time.Location) string {
	t = t.In(loc)
	now = now.In(loc)
	switch {
	case sameDay(t, now):
		return t.Format("15:04")
	case sameDay(t, now.AddDate(0, 0, -1)):
		return "Yesterday " + t.Format("15:04")
	case t.Year() == now.Year():
		return t.Format("Jan 2 15:04")
	default:
		return t.Format("2006-01-02 15:04")
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
