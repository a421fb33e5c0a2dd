package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Event kinds. Subscribers filter by namespace prefix, so related kinds
// share a dotted prefix.
const (
	KindServerMessage = "server.message" // one ServerMessage for a room
	KindServerBatch   = "server.batch"   // authoritative batch for a room

	KindMessageQueued     = "message.queued"
	KindMessageMerged     = "message.merged"
	KindMessageSendAck    = "message.send_ack"
	KindMessageSendFailed = "message.send_failed"

	KindSyncConnected    = "sync.connected"
	KindSyncDisconnected = "sync.disconnected"

	KindSessionStatusChanged = "session.status_changed"
)
