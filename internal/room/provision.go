package room

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/dhkim312/unichat/internal/api"
)

// RoomCreator is the idempotent server-side room creation call.
type RoomCreator interface {
	CreateOrGetRoom(ctx context.Context, req api.CreateRoomRequest) (int64, error)
}

// MappingStore persists the localHandle -> serverRoomId association.
type MappingStore interface {
	SetServerRoomID(handle string, serverRoomID int64) error
}

// Provisioner guarantees a server-assigned room id exists for one
// conversation, creating the room on demand. It is safe to invoke
// concurrently: a single-flight guard collapses racing ensure calls into
// one creation request.
type Provisioner struct {
	api    RoomCreator
	store  MappingStore
	logger *zap.Logger

	handle   string
	category string
	postID   string
	peerID   string

	mu     sync.Mutex
	cached int64
	group  singleflight.Group
}

// NewProvisioner creates a provisioner for one conversation. postID and
// peerID are raw navigation inputs and may be empty or malformed; they are
// coerced on demand.
func NewProvisioner(creator RoomCreator, store MappingStore, handle, category, postID, peerID string, logger *zap.Logger) *Provisioner {
	return &Provisioner{
		api:      creator,
		store:    store,
		logger:   logger,
		handle:   handle,
		category: category,
		postID:   postID,
		peerID:   peerID,
	}
}

// Seed primes the cache with an already-known server room id.
func (p *Provisioner) Seed(serverRoomID int64) {
	p.mu.Lock()
	p.cached = serverRoomID
	p.mu.Unlock()
}

// ServerRoomID returns the cached server room id, or 0 if not provisioned.
func (p *Provisioner) ServerRoomID() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cached
}

// EnsureServerRoomID returns the server room id for this conversation,
// provisioning one if needed. A false result means "no id": either the
// identity inputs are not yet usable or the server is unreachable; callers
// treat it as retry-later, never as a fatal error.
func (p *Provisioner) EnsureServerRoomID(ctx context.Context) (int64, bool) {
	if id := p.ServerRoomID(); id != 0 {
		return id, true
	}

	postID, ok := CoerceID(p.postID)
	if !ok {
		return 0, false
	}
	peerID, ok := CoerceID(p.peerID)
	if !ok {
		return 0, false
	}

	v, err, _ := p.group.Do(p.handle, func() (any, error) {
		if id := p.ServerRoomID(); id != 0 {
			return id, nil
		}
		id, err := p.api.CreateOrGetRoom(ctx, api.CreateRoomRequest{
			Type:     p.category,
			TypeID:   postID,
			ToUserID: peerID,
		})
		if err != nil {
			return int64(0), err
		}
		p.mu.Lock()
		p.cached = id
		p.mu.Unlock()
		if err := p.store.SetServerRoomID(p.handle, id); err != nil {
			p.logger.Warn("failed to persist server room id",
				zap.Error(err),
				zap.String("handle", p.handle),
				zap.Int64("server_room_id", id))
		}
		return id, nil
	})
	if err != nil {
		p.logger.Warn("room provisioning failed",
			zap.Error(err),
			zap.String("handle", p.handle))
		return 0, false
	}
	return v.(int64), true
}

// CoerceID parses a raw string or numeric input into a non-negative id.
// Anything else yields ok=false ("no id").
func CoerceID(raw string) (int64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
