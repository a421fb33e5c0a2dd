package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dhkim312/unichat/internal/api"
	"github.com/dhkim312/unichat/internal/bus"
	"github.com/dhkim312/unichat/internal/store"
)

// MessageSender is the server call that persists one message.
type MessageSender interface {
	SendMessage(ctx context.Context, req api.SendMessageRequest) error
}

// RoomLookup maps a local handle to its room row, if any.
type RoomLookup interface {
	GetRoom(handle string) (*store.Room, error)
}

// Sender drains the outbox and delivers queued messages to the server.
// Entries whose room has no server room id yet are left queued; the next
// tick retries them once provisioning has caught up.
type Sender struct {
	db     *store.DB
	api    MessageSender
	rooms  RoomLookup
	bus    *bus.Bus
	logger *zap.Logger
	myID   int64
	cancel context.CancelFunc
}

// NewSender creates a new outbox sender. myID is stamped as the sender
// identity on every outgoing request.
func NewSender(db *store.DB, sender MessageSender, rooms RoomLookup, b *bus.Bus, myID int64, logger *zap.Logger) *Sender {
	return &Sender{
		db:     db,
		api:    sender,
		rooms:  rooms,
		bus:    b,
		myID:   myID,
		logger: logger,
	}
}

// Start begins polling the outbox for pending messages.
func (s *Sender) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the sender loop.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Sender) loop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.ProcessPending(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// ProcessPending makes one pass over the queued outbox entries.
func (s *Sender) ProcessPending(ctx context.Context) {
	pending, err := s.db.PendingOutbox()
	if err != nil {
		s.logger.Error("failed to read outbox", zap.Error(err))
		return
	}

	for _, entry := range pending {
		room, err := s.rooms.GetRoom(entry.RoomHandle)
		if err != nil {
			s.logger.Error("failed to look up room", zap.Error(err), zap.String("handle", entry.RoomHandle))
			continue
		}
		if room == nil || room.ServerRoomID == 0 {
			// Not provisioned yet. Leave the entry queued.
			continue
		}

		if err := s.db.MarkOutboxSending(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sending", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
			continue
		}

		err = s.api.SendMessage(ctx, api.SendMessageRequest{
			RoomID:      room.ServerRoomID,
			Sender:      s.myID,
			Message:     entry.Body,
			MessageType: entry.Kind,
		})
		if err != nil {
			s.logger.Error("failed to send message",
				zap.Error(err),
				zap.String("client_msg_id", entry.ClientMsgID),
				zap.String("handle", entry.RoomHandle))
			_ = s.db.MarkOutboxFailed(entry.ClientMsgID, err.Error())
			s.bus.Publish(bus.Event{
				Kind:      bus.KindMessageSendFailed,
				Timestamp: time.Now(),
				Payload: map[string]string{
					"client_msg_id": entry.ClientMsgID,
					"room_handle":   entry.RoomHandle,
					"error":         err.Error(),
				},
			})
			continue
		}

		if err := s.db.MarkOutboxSent(entry.ClientMsgID); err != nil {
			s.logger.Error("failed to mark sent", zap.Error(err), zap.String("client_msg_id", entry.ClientMsgID))
		}

		s.logger.Info("message sent",
			zap.String("client_msg_id", entry.ClientMsgID),
			zap.String("handle", entry.RoomHandle))
		s.bus.Publish(bus.Event{
			Kind:      bus.KindMessageSendAck,
			Timestamp: time.Now(),
			Payload: map[string]string{
				"client_msg_id": entry.ClientMsgID,
				"room_handle":   entry.RoomHandle,
			},
		})
	}
}
