package room

import (
	"context"

	"go.uber.org/zap"

	"github.com/dhkim312/unichat/internal/chat"
)

// Meta is the conversation metadata a screen carries when opening a chat.
type Meta struct {
	Source   string // market, lost, groupbuy
	PostID   string
	Nickname string // counterpart nickname as the screen knows it
	PeerID   string // counterpart user id, used for room creation

	// RoomID and BuyerID are hints from navigation params. When both are
	// present the conversation's identity is already unambiguous and no
	// remote lookup is needed.
	RoomID        string
	BuyerID       string
	BuyerNickname string
}

// Directory derives the canonical room handle for conversation metadata.
// Implementations typically consult the server's room detail endpoint.
type Directory interface {
	CanonicalHandle(ctx context.Context, meta Meta) (string, error)
}

// MessageMover relocates a message log between handles.
type MessageMover interface {
	MoveMessagesRoom(oldHandle, newHandle string) error
}

// Resolver determines the canonical local handle for a conversation and
// migrates any messages recorded under a stale handle. It is the sole
// component that relocates a log between handles; everything else
// addresses only the handle it received.
type Resolver struct {
	dir    Directory
	mover  MessageMover
	logger *zap.Logger
}

// NewResolver creates a resolver backed by the given directory and store.
func NewResolver(dir Directory, mover MessageMover, logger *zap.Logger) *Resolver {
	return &Resolver{dir: dir, mover: mover, logger: logger}
}

// Resolve returns the canonical handle for this session. An empty proposed
// handle yields "" and the caller must treat the conversation as
// not-yet-materialized. Lookup failures fall back to the proposed handle;
// they never propagate to the caller.
func (r *Resolver) Resolve(ctx context.Context, meta Meta, proposed string) string {
	if proposed == "" {
		return ""
	}

	// Explicit room id plus buyer identity: resolution is already
	// unambiguous, skip the remote lookup.
	if meta.RoomID != "" && meta.BuyerID != "" {
		return proposed
	}

	canonical, err := r.dir.CanonicalHandle(ctx, meta)
	if err != nil {
		r.logger.Warn("canonical handle lookup failed, keeping proposed handle",
			zap.Error(err),
			zap.String("proposed", proposed))
		return proposed
	}
	if canonical == "" || canonical == proposed {
		return proposed
	}

	if err := r.mover.MoveMessagesRoom(proposed, canonical); err != nil {
		r.logger.Warn("message log migration failed",
			zap.Error(err),
			zap.String("from", proposed),
			zap.String("to", canonical))
	}
	return canonical
}

// DeriveHandle builds a handle directly from metadata, preferring the
// buyer nickname hint over the generic counterpart nickname.
func DeriveHandle(meta Meta, postID int64) string {
	nick := meta.BuyerNickname
	if nick == "" {
		nick = meta.Nickname
	}
	return chat.RoomHandle(meta.Source, postID, nick)
}
