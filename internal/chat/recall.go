package chat

import "time"

// RecallWindow is how long after sending a sender may recall a message.
const RecallWindow = 5 * time.Minute

// CanRecall reports whether me may be offered a recall of m at now. The server
// remains the authority; this only gates what the client offers.
func CanRecall(m Message, me int64, now time.Time) bool {
	if m.From != me || m.Kind != KindText {
		return false
	}
	age := now.UnixMilli() - m.SentAtMs
	return age >= 0 && age <= RecallWindow.Milliseconds()
}
