package sync

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/dhkim312/unichat/internal/api"
	"github.com/dhkim312/unichat/internal/bus"
	"github.com/dhkim312/unichat/internal/chat"
	"github.com/dhkim312/unichat/internal/store"
)

// Batch is the bus payload for a set of authoritative server records
// addressed to one room.
type Batch struct {
	RoomHandle string
	RoomID     int64
	Messages   []api.ServerMessage
}

// Engine reconciles incoming server batches with the locally persisted
// room logs. It subscribes to "server.*" events on the bus and processes
// them; screens observe the result via "message.merged" events.
type Engine struct {
	db      *store.DB
	bus     *bus.Bus
	logger  *zap.Logger
	myID    int64
	myEmail string
	cancel  context.CancelFunc
}

// NewEngine creates a new sync engine. myID and myEmail identify the local
// user for the "mine" computation on server-derived messages.
func NewEngine(db *store.DB, b *bus.Bus, myID int64, myEmail string, logger *zap.Logger) *Engine {
	return &Engine{
		db:      db,
		bus:     b,
		logger:  logger,
		myID:    myID,
		myEmail: myEmail,
	}
}

// Start subscribes to inbound server events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	ch, unsub := e.bus.Subscribe("server.", 256)

	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

func (e *Engine) handleEvent(evt bus.Event) {
	switch evt.Kind {
	case bus.KindServerBatch, bus.KindServerMessage:
		batch, ok := evt.Payload.(Batch)
		if !ok {
			return
		}
		if err := e.MergeBatch(batch); err != nil {
			e.logger.Error("failed to merge server batch",
				zap.Error(err),
				zap.String("room", batch.RoomHandle),
				zap.Int("count", len(batch.Messages)))
		}
	}
}

// MergeBatch reconciles one server batch into the room's persisted log.
// The room handle must already be resolved: identity resolution always
// completes before any batch for the room is processed.
func (e *Engine) MergeBatch(batch Batch) error {
	handle := batch.RoomHandle
	if handle == "" {
		room, err := e.db.RoomByServerID(batch.RoomID)
		if err != nil {
			return fmt.Errorf("resolve room handle: %w", err)
		}
		if room == nil {
			return fmt.Errorf("no local room for server room %d", batch.RoomID)
		}
		handle = room.Handle
	}

	// The load, merge, and rewrite happen as one atomic log update, so
	// a message appended concurrently by the send path survives.
	merged, err := e.db.UpdateRoomLog(handle, func(local []chat.Message) []chat.Message {
		return MergeServerMessages(local, batch.Messages, e.myID, e.myEmail)
	})
	if err != nil {
		return fmt.Errorf("persist merged log: %w", err)
	}

	checkpoint := strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := e.db.SetSyncState("room:"+handle+":last_merge", checkpoint); err != nil {
		e.logger.Warn("failed to update merge checkpoint", zap.Error(err), zap.String("room", handle))
	}

	e.bus.Publish(bus.Event{
		Kind:      bus.KindMessageMerged,
		Timestamp: time.Now(),
		Payload: map[string]any{
			"room_handle": handle,
			"messages":    len(merged),
			"incoming":    len(batch.Messages),
		},
	})
	return nil
}
