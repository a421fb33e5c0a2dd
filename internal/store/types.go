package store

// Room is the persisted mapping for one conversation: the client-side
// handle, the server-assigned room id once provisioning succeeded, and the
// locally cached unread summary (overwritten wholesale by read-sync, never
// incremented here).
type Room struct {
	Handle        string
	ServerRoomID  int64
	Category      string
	PostID        int64
	PeerNickname  string
	UnreadCount   int
	LastMessageAt int64
}

// OutboxEntry represents a pending outgoing message.
type OutboxEntry struct {
	ID           int64
	ClientMsgID  string
	RoomHandle   string
	Kind         string
	Body         string
	Initial      bool // queued opening message, sent at most once
	Status       string // queued, sending, sent, failed
	ErrorMessage string
}
