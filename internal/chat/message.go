package chat

import (
	"fmt"
	"strings"
	"time"
)

// Kind discriminates the message variants. Every consumer switches on it
// exhaustively; there are no "maybe image" messages.
type Kind string

const (
	KindText   Kind = "text"
	KindImage  Kind = "image"
	KindSystem Kind = "system"
)

// ID prefixes. The prefix alone tells later merge passes whether an entry
// originated on this device or was synthesized from a server record.
const (
	PrefixServer = "srv-" // synthesized from a server wire record
	PrefixLocal  = "out-" // composed on this device
	PrefixLegacy = "loc-" // composed on this device by older builds
)

// Message is one entry in a room's log.
//
// SentAt holds the raw wire timestamp (RFC3339 or epoch millis) and is the
// only field ever parsed as a point in time. DisplayTime, when set, is an
// already-localized string owned by the rendering layer and is never
// re-parsed.
type Message struct {
	ID          string   `json:"id"`
	Kind        Kind     `json:"type"`
	Text        string   `json:"text,omitempty"`
	URI         string   `json:"uri,omitempty"` // legacy single-image field
	ImageURIs   []string `json:"imageUris,omitempty"`
	Count       int      `json:"count,omitempty"`
	SentAt      string   `json:"sentAt"`
	DisplayTime string   `json:"displayTime,omitempty"`
	Mine        bool     `json:"mine,omitempty"`
	SenderID    int64    `json:"senderId,omitempty"`
	SenderEmail string   `json:"senderEmail,omitempty"`
}

// NewOutboxText builds a locally-composed text message stamped with the
// device clock. The id is deterministic in the millisecond timestamp so a
// later server echo can be matched back to it.
func NewOutboxText(text string, at time.Time) Message {
	return Message{
		ID:     fmt.Sprintf("%s%d", PrefixLocal, at.UnixMilli()),
		Kind:   KindText,
		Text:   text,
		SentAt: at.UTC().Format(time.RFC3339Nano),
		Mine:   true,
	}
}

// NewOutboxImage builds a locally-composed image message. The legacy URI
// field mirrors the first attachment for consumers that predate multi-image
// support.
func NewOutboxImage(uris []string, at time.Time) Message {
	m := Message{
		ID:        fmt.Sprintf("%s%d", PrefixLocal, at.UnixMilli()),
		Kind:      KindImage,
		ImageURIs: uris,
		Count:     len(uris),
		SentAt:    at.UTC().Format(time.RFC3339Nano),
		Mine:      true,
	}
	if len(uris) > 0 {
		m.URI = uris[0]
	}
	return m
}

// NewSystem builds a system event entry (status close, room notices).
func NewSystem(text string, at time.Time) Message {
	return Message{
		ID:     fmt.Sprintf("sys-%d", at.UnixMilli()),
		Kind:   KindSystem,
		Text:   text,
		SentAt: at.UTC().Format(time.RFC3339Nano),
	}
}

// IsLocalID reports whether id carries one of the locally-composed
// prefixes.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, PrefixLocal) || strings.HasPrefix(id, PrefixLegacy)
}

// HasKnownPrefix reports whether id carries any recognized origin prefix.
func HasKnownPrefix(id string) bool {
	return strings.HasPrefix(id, PrefixServer) || IsLocalID(id)
}
