package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dhkim312/unichat/internal/chat"
)

// LoadMessages returns the full ordered log for a room handle. Rows with a
// corrupt image_uris payload degrade to an empty attachment list rather
// than failing the whole load.
func (db *DB) LoadMessages(handle string) ([]chat.Message, error) {
	rows, err := db.Query(`
		SELECT msg_id, kind, body, image_uris, image_count, mine, sender_id, sender_email, sent_at, display_time
		FROM messages
		WHERE room_handle = ?
		ORDER BY id ASC`, handle)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []chat.Message
	for rows.Next() {
		var (
			m       chat.Message
			kind    string
			urisRaw string
		)
		if err := rows.Scan(&m.ID, &kind, &m.Text, &urisRaw, &m.Count, &m.Mine, &m.SenderID, &m.SenderEmail, &m.SentAt, &m.DisplayTime); err != nil {
			return nil, err
		}
		m.Kind = chat.Kind(kind)
		if urisRaw != "" {
			if err := json.Unmarshal([]byte(urisRaw), &m.ImageURIs); err != nil {
				m.ImageURIs = nil
			}
		}
		if len(m.ImageURIs) > 0 {
			m.URI = m.ImageURIs[0]
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// AppendMessage persists one message at the end of the room's log and
// returns the updated full sequence. Idempotent on (room, msg_id).
func (db *DB) AppendMessage(handle string, m chat.Message) ([]chat.Message, error) {
	db.logMu.Lock()
	defer db.logMu.Unlock()
	if err := db.insertMessage(handle, m); err != nil {
		return nil, err
	}
	return db.LoadMessages(handle)
}

// AppendOutboxText appends a locally-composed text message.
func (db *DB) AppendOutboxText(handle, text string, at time.Time) ([]chat.Message, error) {
	return db.AppendMessage(handle, chat.NewOutboxText(text, at))
}

// AppendOutboxImage appends a locally-composed image message.
func (db *DB) AppendOutboxImage(handle string, uris []string, at time.Time) ([]chat.Message, error) {
	return db.AppendMessage(handle, chat.NewOutboxImage(uris, at))
}

// AppendSystemMessage appends a system event entry.
func (db *DB) AppendSystemMessage(handle, text string, at time.Time) ([]chat.Message, error) {
	return db.AppendMessage(handle, chat.NewSystem(text, at))
}

// UpdateRoomLog atomically rewrites a room's log: it loads the current
// sequence, applies update, and persists the result. No append can land
// between the load and the rewrite, so entries written by other
// goroutines are never lost to a concurrent merge.
func (db *DB) UpdateRoomLog(handle string, update func([]chat.Message) []chat.Message) ([]chat.Message, error) {
	db.logMu.Lock()
	defer db.logMu.Unlock()

	local, err := db.LoadMessages(handle)
	if err != nil {
		return nil, fmt.Errorf("load room log: %w", err)
	}
	updated := update(local)
	if err := db.replaceMessages(handle, updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// ReplaceMessages swaps the room's log for the given sequence in one
// transaction. Row order is the sequence order. Callers that derive the
// sequence from the current log must use UpdateRoomLog instead.
func (db *DB) ReplaceMessages(handle string, msgs []chat.Message) error {
	db.logMu.Lock()
	defer db.logMu.Unlock()
	return db.replaceMessages(handle, msgs)
}

func (db *DB) replaceMessages(handle string, msgs []chat.Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE room_handle = ?`, handle); err != nil {
		return fmt.Errorf("clear room log: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, m := range msgs {
		uris, err := encodeURIs(m.ImageURIs)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO messages (room_handle, msg_id, kind, body, image_uris, image_count, mine, sender_id, sender_email, sent_at, display_time, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			handle, m.ID, string(m.Kind), m.Text, uris, m.Count, m.Mine, m.SenderID, m.SenderEmail, m.SentAt, m.DisplayTime, now); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	if len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		if _, err := tx.Exec(`
			UPDATE rooms SET last_message_at = ?, updated_at = ? WHERE handle = ?`,
			last.When().UnixMilli(), now, handle); err != nil {
			return fmt.Errorf("update room recency: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

// MoveMessagesRoom relocates a message log from one handle to another.
// No-op when the ids are equal, either is empty, or the destination
// already has messages (first-writer-wins; never merge or overwrite
// existing history).
func (db *DB) MoveMessagesRoom(oldHandle, newHandle string) error {
	if oldHandle == "" || newHandle == "" || oldHandle == newHandle {
		return nil
	}
	db.logMu.Lock()
	defer db.logMu.Unlock()
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var destCount int
	if err := tx.QueryRow(`SELECT COUNT(*) FROM messages WHERE room_handle = ?`, newHandle).Scan(&destCount); err != nil {
		return fmt.Errorf("count destination log: %w", err)
	}
	if destCount > 0 {
		return nil
	}
	if _, err := tx.Exec(`UPDATE messages SET room_handle = ? WHERE room_handle = ?`, newHandle, oldHandle); err != nil {
		return fmt.Errorf("move messages: %w", err)
	}
	return tx.Commit()
}

func (db *DB) insertMessage(handle string, m chat.Message) error {
	uris, err := encodeURIs(m.ImageURIs)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	if _, err := db.Exec(`
		INSERT INTO messages (room_handle, msg_id, kind, body, image_uris, image_count, mine, sender_id, sender_email, sent_at, display_time, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_handle, msg_id) DO NOTHING`,
		handle, m.ID, string(m.Kind), m.Text, uris, m.Count, m.Mine, m.SenderID, m.SenderEmail, m.SentAt, m.DisplayTime, now); err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	_, err = db.Exec(`
		UPDATE rooms SET last_message_at = ?, updated_at = ? WHERE handle = ?`,
		m.When().UnixMilli(), now, handle)
	return err
}

func encodeURIs(uris []string) (string, error) {
	if len(uris) == 0 {
		return "", nil
	}
	data, err := json.Marshal(uris)
	if err != nil {
		return "", fmt.Errorf("encode image uris: %w", err)
	}
	return string(data), nil
}
