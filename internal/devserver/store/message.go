package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/matheus3301/forumdm/internal/chat"
)

const messageColumns = `id, from_id, to_id, kind, body, sent_at_ms`

func scanMessage(row interface{ Scan(...any) error }) (chat.Message, error) {
	var m chat.Message
	var kind string
	if err := row.Scan(&m.ID, &m.From, &m.To, &kind, &m.Body, &m.SentAtMs); err != nil {
		return chat.Message{}, err
	}
	m.Kind = chat.Kind(kind)
	return m, nil
}

// InsertMessage stores a text message. A non-empty token makes the insert
// idempotent per sender: a repeated token returns the original message and
// created=false.
func (db *DB) InsertMessage(from, to int64, body, token string, sentAtMs int64) (m chat.Message, created bool, err error) {
	if token != "" {
		if m, err := db.messageByToken(from, token); err == nil {
			return m, false, nil
		} else if !errors.Is(err, ErrNotFound) {
			return chat.Message{}, false, err
		}
	}

	var tok sql.NullString
	if token != "" {
		tok = sql.NullString{String: token, Valid: true}
	}
	res, err := db.Exec(`
		INSERT INTO messages (from_id, to_id, kind, body, sent_at_ms, client_token)
		VALUES (?, ?, ?, ?, ?, ?)`,
		from, to, string(chat.KindText), body, sentAtMs, tok)
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a race with a concurrent send carrying the same token.
			m, err := db.messageByToken(from, token)
			return m, false, err
		}
		return chat.Message{}, false, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return chat.Message{}, false, err
	}
	m, err = db.Message(id)
	return m, true, err
}

func (db *DB) messageByToken(from int64, token string) (chat.Message, error) {
	m, err := scanMessage(db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE from_id = ? AND client_token = ?`, from, token))
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Message{}, ErrNotFound
	}
	return m, err
}

// Message returns a message by id.
func (db *DB) Message(id int64) (chat.Message, error) {
	m, err := scanMessage(db.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Message{}, ErrNotFound
	}
	return m, err
}

// ListMessages returns one page of the conversation between me and peer,
// newest first, strictly older than cursor unless it is zero. Ordering and
// the cursor both use (sent_at_ms, id).
func (db *DB) ListMessages(me, peer int64, cursor chat.Cursor, limit int) (chat.MessagePage, error) {
	if limit <= 0 {
		limit = 30
	}
	query := `SELECT ` + messageColumns + ` FROM messages
		WHERE ((from_id = ? AND to_id = ?) OR (from_id = ? AND to_id = ?))`
	args := []any{me, peer, peer, me}
	if !cursor.IsZero() {
		query += ` AND (sent_at_ms < ? OR (sent_at_ms = ? AND id < ?))`
		args = append(args, cursor.SentAtMs, cursor.SentAtMs, cursor.ID)
	}
	query += ` ORDER BY sent_at_ms DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := db.Query(query, args...)
	if err != nil {
		return chat.MessagePage{}, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return chat.MessagePage{}, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return chat.MessagePage{}, err
	}

	page := chat.MessagePage{Messages: msgs}
	if len(msgs) > limit {
		page.Messages = msgs[:limit]
		page.HasMore = true
	}
	if n := len(page.Messages); n > 0 && page.HasMore {
		page.NextCursor = chat.CursorOf(page.Messages[n-1])
	}
	return page, nil
}

// RecallMessage retracts message id on behalf of user at nowMs. Recalling an
// already recalled message returns it unchanged.
func (db *DB) RecallMessage(user, id, nowMs int64) (chat.Message, error) {
	m, err := db.Message(id)
	if err != nil {
		return chat.Message{}, err
	}
	if m.From != user {
		return chat.Message{}, ErrNotSender
	}
	if m.Recalled() {
		return m, nil
	}
	if nowMs-m.SentAtMs > chat.RecallWindow.Milliseconds() {
		return chat.Message{}, ErrRecallWindow
	}
	if _, err := db.Exec(`UPDATE messages SET kind = ?, body = '' WHERE id = ?`, string(chat.KindRecalled), id); err != nil {
		return chat.Message{}, fmt.Errorf("recall message: %w", err)
	}
	m.Kind, m.Body = chat.KindRecalled, ""
	return m, nil
}
