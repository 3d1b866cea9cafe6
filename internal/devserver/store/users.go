package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/matheus3301/forumdm/internal/chat"
)

// EnsureUser returns the user named username, creating it if needed.
func (db *DB) EnsureUser(username string) (chat.Profile, error) {
	if _, err := db.Exec(`INSERT INTO users (username) VALUES (?) ON CONFLICT(username) DO NOTHING`, username); err != nil {
		return chat.Profile{}, fmt.Errorf("insert user: %w", err)
	}
	var p chat.Profile
	err := db.QueryRow(`SELECT id, username, avatar_url FROM users WHERE username = ?`, username).
		Scan(&p.ID, &p.Username, &p.AvatarURL)
	return p, err
}

// User returns a user by id.
func (db *DB) User(id int64) (chat.Profile, error) {
	var p chat.Profile
	err := db.QueryRow(`SELECT id, username, avatar_url FROM users WHERE id = ?`, id).
		Scan(&p.ID, &p.Username, &p.AvatarURL)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Profile{}, ErrNotFound
	}
	return p, err
}

// Touch records that the user was last seen at ms.
func (db *DB) Touch(id, ms int64) error {
	_, err := db.Exec(`UPDATE users SET last_active_at_ms = ? WHERE id = ?`, ms, id)
	return err
}

// LastActive returns the last-seen time of each known user in ids. Users that
// were never seen map to nil.
func (db *DB) LastActive(ids []int64) (map[int64]*int64, error) {
	out := make(map[int64]*int64, len(ids))
	for _, id := range ids {
		var at sql.NullInt64
		err := db.QueryRow(`SELECT last_active_at_ms FROM users WHERE id = ?`, id).Scan(&at)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if at.Valid {
			v := at.Int64
			out[id] = &v
		} else {
			out[id] = nil
		}
	}
	return out, nil
}
