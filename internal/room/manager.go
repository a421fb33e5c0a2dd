package room

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/dhkim312/unichat/internal/chat"
	"github.com/dhkim312/unichat/internal/store"
)

// RoomStore is the store surface the manager needs: the handle mapping
// plus the room rows it seeds sessions from.
type RoomStore interface {
	MappingStore
	GetRoom(handle string) (*store.Room, error)
	UpsertRoom(r *store.Room) error
}

// Manager owns one Session per open conversation. Opening the same
// handle twice returns the same session, so the initial-send latch and
// the provisioning cache survive across screens.
type Manager struct {
	resolver *Resolver
	creator  RoomCreator
	rooms    RoomStore
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty session manager.
func NewManager(resolver *Resolver, creator RoomCreator, rooms RoomStore, logger *zap.Logger) *Manager {
	return &Manager{
		resolver: resolver,
		creator:  creator,
		rooms:    rooms,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Open resolves the conversation's canonical handle and returns its
// session, creating one on first open. An empty handle (nothing to
// resolve yet) yields ("", nil).
func (m *Manager) Open(ctx context.Context, meta Meta, proposed string) (string, *Session) {
	handle := m.resolver.Resolve(ctx, meta, proposed)
	if handle == "" {
		return "", nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[handle]; ok {
		return handle, s
	}

	category := chat.CategoryToken(meta.Source)
	postID, _ := CoerceID(meta.PostID)
	if err := m.rooms.UpsertRoom(&store.Room{
		Handle:       handle,
		Category:     category,
		PostID:       postID,
		PeerNickname: meta.Nickname,
	}); err != nil {
		m.logger.Warn("failed to upsert room row", zap.Error(err), zap.String("handle", handle))
	}

	p := NewProvisioner(m.creator, m.rooms, handle, category, meta.PostID, meta.PeerID, m.logger)
	if row, err := m.rooms.GetRoom(handle); err == nil && row != nil && row.ServerRoomID != 0 {
		p.Seed(row.ServerRoomID)
	}

	s := NewSession()
	if err := s.MarkResolved(handle, p); err != nil {
		m.logger.Warn("session resolution bookkeeping failed", zap.Error(err), zap.String("handle", handle))
	}
	m.sessions[handle] = s
	return handle, s
}

// Get returns the session for an already-opened handle, or nil.
func (m *Manager) Get(handle string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[handle]
}
