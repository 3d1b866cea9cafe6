package store

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/matheus3301/forumdm/internal/chat"
)

// ErrBadCursor is returned for a thread cursor this store did not produce.
var ErrBadCursor = errors.New("invalid thread cursor")

// ThreadCursor encodes the position after a thread summary.
func ThreadCursor(t chat.ThreadSummary) string {
	return strconv.FormatInt(t.LastMessageAtMs, 10) + "|" + strconv.FormatInt(t.PeerID, 10)
}

func parseThreadCursor(s string) (at, peer int64, err error) {
	a, p, ok := strings.Cut(s, "|")
	if !ok {
		return 0, 0, fmt.Errorf("%w %q", ErrBadCursor, s)
	}
	if at, err = strconv.ParseInt(a, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("%w %q", ErrBadCursor, s)
	}
	if peer, err = strconv.ParseInt(p, 10, 64); err != nil {
		return 0, 0, fmt.Errorf("%w %q", ErrBadCursor, s)
	}
	return at, peer, nil
}

// ListThreads returns one page of me's conversations, most recent first.
func (db *DB) ListThreads(me int64, cursor string, limit int) (chat.ThreadPage, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		WITH conv AS (
			SELECT CASE WHEN from_id = ? THEN to_id ELSE from_id END AS peer, ` + messageColumns + `
			FROM messages WHERE from_id = ? OR to_id = ?
		), ranked AS (
			SELECT *, ROW_NUMBER() OVER (PARTITION BY peer ORDER BY sent_at_ms DESC, id DESC) AS rn FROM conv
		)
		SELECT peer, ` + messageColumns + ` FROM ranked WHERE rn = 1`
	args := []any{me, me, me}
	if cursor != "" {
		at, peer, err := parseThreadCursor(cursor)
		if err != nil {
			return chat.ThreadPage{}, err
		}
		query += ` AND (sent_at_ms < ? OR (sent_at_ms = ? AND peer < ?))`
		args = append(args, at, at, peer)
	}
	query += ` ORDER BY sent_at_ms DESC, peer DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := db.Query(query, args...)
	if err != nil {
		return chat.ThreadPage{}, err
	}
	defer func() { _ = rows.Close() }()

	var threads []chat.ThreadSummary
	for rows.Next() {
		var t chat.ThreadSummary
		var kind string
		m := &t.LastMessage
		if err := rows.Scan(&t.PeerID, &m.ID, &m.From, &m.To, &kind, &m.Body, &m.SentAtMs); err != nil {
			return chat.ThreadPage{}, err
		}
		m.Kind = chat.Kind(kind)
		t.LastMessageAtMs = m.SentAtMs
		threads = append(threads, t)
	}
	if err := rows.Err(); err != nil {
		return chat.ThreadPage{}, err
	}

	page := chat.ThreadPage{Threads: threads}
	if len(threads) > limit {
		page.Threads = threads[:limit]
		page.HasMore = true
		page.NextCursor = ThreadCursor(page.Threads[limit-1])
	}

	unread, err := db.unreadCounts(me)
	if err != nil {
		return chat.ThreadPage{}, err
	}
	for i := range page.Threads {
		page.Threads[i].UnreadCount = unread[page.Threads[i].PeerID]
	}
	return page, nil
}

func (db *DB) unreadCounts(me int64) (map[int64]int, error) {
	rows, err := db.Query(`
		SELECT m.from_id, COUNT(*)
		FROM messages m
		LEFT JOIN reads r ON r.user_id = m.to_id AND r.peer_id = m.from_id
		WHERE m.to_id = ? AND m.id > COALESCE(r.last_read_id, 0)
		GROUP BY m.from_id`, me)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[int64]int)
	for rows.Next() {
		var peer int64
		var n int
		if err := rows.Scan(&peer, &n); err != nil {
			return nil, err
		}
		out[peer] = n
	}
	return out, rows.Err()
}

// MarkRead records that me has read everything peer sent so far.
func (db *DB) MarkRead(me, peer int64) error {
	_, err := db.Exec(`
		INSERT INTO reads (user_id, peer_id, last_read_id)
		VALUES (?, ?, (SELECT COALESCE(MAX(id), 0) FROM messages WHERE from_id = ? AND to_id = ?))
		ON CONFLICT(user_id, peer_id) DO UPDATE SET last_read_id = excluded.last_read_id`,
		me, peer, peer, me)
	return err
}
