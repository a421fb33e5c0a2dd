package store

import (
	"database/sql"
	"time"
)

// UpsertRoom inserts or updates a room mapping row.
func (db *DB) UpsertRoom(r *Room) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO rooms (handle, server_room_id, category, post_id, peer_nickname, unread_count, last_message_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(handle) DO UPDATE SET
			category = excluded.category,
			post_id = excluded.post_id,
			peer_nickname = excluded.peer_nickname,
			updated_at = excluded.updated_at`,
		r.Handle, r.ServerRoomID, r.Category, r.PostID, r.PeerNickname, r.UnreadCount, r.LastMessageAt, now)
	return err
}

// GetRoom returns a single room by handle, or nil if unknown.
func (db *DB) GetRoom(handle string) (*Room, error) {
	var r Room
	err := db.QueryRow(`
		SELECT handle, server_room_id, category, post_id, peer_nickname, unread_count, last_message_at
		FROM rooms WHERE handle = ?`, handle).
		Scan(&r.Handle, &r.ServerRoomID, &r.Category, &r.PostID, &r.PeerNickname, &r.UnreadCount, &r.LastMessageAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListRooms returns rooms sorted by last message timestamp descending.
func (db *DB) ListRooms(limit int) ([]Room, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT handle, server_room_id, category, post_id, peer_nickname, unread_count, last_message_at
		FROM rooms
		ORDER BY last_message_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var rooms []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.Handle, &r.ServerRoomID, &r.Category, &r.PostID, &r.PeerNickname, &r.UnreadCount, &r.LastMessageAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, r)
	}
	return rooms, rows.Err()
}

// SetServerRoomID persists the localHandle -> serverRoomId mapping after
// provisioning succeeds.
func (db *DB) SetServerRoomID(handle string, serverRoomID int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO rooms (handle, server_room_id, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(handle) DO UPDATE SET
			server_room_id = excluded.server_room_id,
			updated_at = excluded.updated_at`,
		handle, serverRoomID, now)
	return err
}

// SetUnread overwrites the room's unread summary with the server's
// authoritative value. Counts are never incremented locally.
func (db *DB) SetUnread(handle string, count int) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO rooms (handle, unread_count, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(handle) DO UPDATE SET
			unread_count = excluded.unread_count,
			updated_at = excluded.updated_at`,
		handle, count, now)
	return err
}

// RoomByServerID returns the room mapped to a server room id, or nil.
func (db *DB) RoomByServerID(serverRoomID int64) (*Room, error) {
	var r Room
	err := db.QueryRow(`
		SELECT handle, server_room_id, category, post_id, peer_nickname, unread_count, last_message_at
		FROM rooms WHERE server_room_id = ?`, serverRoomID).
		Scan(&r.Handle, &r.ServerRoomID, &r.Category, &r.PostID, &r.PeerNickname, &r.UnreadCount, &r.LastMessageAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}
