package room

import (
	"context"
	"fmt"

	"github.com/dhkim312/unichat/internal/api"
	"github.com/dhkim312/unichat/internal/chat"
)

// RoomDetailFetcher is the server lookup the directory is built on.
type RoomDetailFetcher interface {
	GetRoomDetail(ctx context.Context, roomID int64) (*api.RoomDetail, error)
}

// APIDirectory derives canonical handles from the server's room detail:
// the conversation's business type, its post id, and the counterpart's
// nickname as the server records it.
type APIDirectory struct {
	api  RoomDetailFetcher
	myID int64
}

// NewAPIDirectory creates a directory for the local user id.
func NewAPIDirectory(fetcher RoomDetailFetcher, myID int64) *APIDirectory {
	return &APIDirectory{api: fetcher, myID: myID}
}

// CanonicalHandle implements Directory. Without a server room id the
// handle is derived purely from the metadata; with one, the server detail
// is authoritative for all three handle components.
func (d *APIDirectory) CanonicalHandle(ctx context.Context, meta Meta) (string, error) {
	if meta.RoomID == "" {
		postID, ok := CoerceID(meta.PostID)
		if !ok {
			return "", fmt.Errorf("post id %q is not a valid id", meta.PostID)
		}
		return DeriveHandle(meta, postID), nil
	}

	roomID, ok := CoerceID(meta.RoomID)
	if !ok {
		return "", fmt.Errorf("room id %q is not a valid id", meta.RoomID)
	}
	detail, err := d.api.GetRoomDetail(ctx, roomID)
	if err != nil {
		return "", fmt.Errorf("room detail lookup: %w", err)
	}

	counterpart := detail.BuyerNickname
	if d.myID != 0 && detail.BuyerID == d.myID {
		counterpart = detail.SellerNickname
	}
	return chat.RoomHandle(detail.Type, detail.TypeID, counterpart), nil
}
