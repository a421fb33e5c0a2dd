// Package readsync pushes read receipts to the server and mirrors back
// the authoritative unread count.
package readsync

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ReadMarker is the server read-receipt call. It returns the room's
// unread count after the receipt is applied.
type ReadMarker interface {
	MarkRoomRead(ctx context.Context, roomID int64, lastMessageID string) (int, error)
}

// UnreadStore persists the per-room unread summary.
type UnreadStore interface {
	SetUnread(handle string, count int) error
}

// Debouncer suppresses redundant read-receipt calls. A receipt is keyed
// by (roomID, lastMessageID); repeating the same key is a no-op. The key
// is recorded before the server call, so a failed receipt is not retried
// until the room's tail actually changes.
type Debouncer struct {
	api    ReadMarker
	store  UnreadStore
	logger *zap.Logger

	mu   sync.Mutex
	last map[int64]string
}

// NewDebouncer creates a debouncer with empty suppression state.
func NewDebouncer(api ReadMarker, store UnreadStore, logger *zap.Logger) *Debouncer {
	return &Debouncer{
		api:    api,
		store:  store,
		logger: logger,
		last:   make(map[int64]string),
	}
}

// Sync marks roomID read up to lastMessageID and overwrites the local
// unread count for handle with the server's value. Failures are logged
// and swallowed; the next differing tail will try again.
func (d *Debouncer) Sync(ctx context.Context, handle string, roomID int64, lastMessageID string) {
	if roomID == 0 {
		return
	}
	sig := fmt.Sprintf("%d|%s", roomID, lastMessageID)

	d.mu.Lock()
	if d.last[roomID] == sig {
		d.mu.Unlock()
		return
	}
	d.last[roomID] = sig
	d.mu.Unlock()

	unread, err := d.api.MarkRoomRead(ctx, roomID, lastMessageID)
	if err != nil {
		d.logger.Warn("read receipt failed",
			zap.Error(err),
			zap.Int64("room_id", roomID),
			zap.String("last_message_id", lastMessageID))
		return
	}

	if handle == "" {
		return
	}
	if err := d.store.SetUnread(handle, unread); err != nil {
		d.logger.Warn("failed to store unread count",
			zap.Error(err),
			zap.String("handle", handle))
	}
}

// Reset clears the suppression state for a room, forcing the next Sync
// through. Used when the stream reconnects and local state may be stale.
func (d *Debouncer) Reset(roomID int64) {
	d.mu.Lock()
	delete(d.last, roomID)
	d.mu.Unlock()
}
