package sync

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dhkim312/unichat/internal/api"
	"github.com/dhkim312/unichat/internal/chat"
)

// Dedup tolerance tiers. The tight window covers records whose sender
// identity matches outright. The wide window covers the prefix heuristic:
// an optimistic local echo can trail its server confirmation by clock skew
// plus queueing latency, so the tolerance is looser there.
const (
	tightWindow = 30 * time.Second
	wideWindow  = 2 * time.Minute
)

// MergeServerMessages merges a batch of server-reported records into the
// current local sequence and returns the new sequence, ordered ascending
// by effective time. Local entries that a server record semantically
// duplicates are replaced in place (the server version wins the content
// slot); everything else is preserved. Entries with unparsable timestamps
// sort as if they occurred at the epoch.
func MergeServerMessages(local []chat.Message, batch []api.ServerMessage, myID int64, myEmail string) []chat.Message {
	out := make([]chat.Message, len(local))
	copy(out, local)

	for _, rec := range batch {
		in := MapServerMessage(rec, myID, myEmail)

		// Idempotent re-merge: the synthesized id already landed.
		if indexOfID(out, in.ID) >= 0 {
			continue
		}

		if i := findDuplicate(out, in, tightWindow, false); i >= 0 {
			out[i] = replaceKeepingMine(out[i], in)
			continue
		}
		if i := findDuplicate(out, in, wideWindow, true); i >= 0 {
			out[i] = replaceKeepingMine(out[i], in)
			continue
		}
		out = append(out, in)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].When().Before(out[j].When())
	})
	return out
}

// MapServerMessage converts a server wire record to the common message
// shape. The id is synthesized deterministically from sender id and
// timestamp with the server prefix, so later passes can tell server-derived
// entries apart by id alone.
func MapServerMessage(rec api.ServerMessage, myID int64, myEmail string) chat.Message {
	var ms int64
	if t, ok := chat.ParseWhen(rec.CreatedAt); ok {
		ms = t.UnixMilli()
	}
	m := chat.Message{
		ID:          fmt.Sprintf("%s%d-%d", chat.PrefixServer, rec.SenderID, ms),
		Kind:        chat.KindText,
		Text:        rec.Message,
		SentAt:      rec.CreatedAt,
		SenderID:    rec.SenderID,
		SenderEmail: rec.SenderEmail,
		Mine:        isMine(rec, myID, myEmail),
	}
	switch strings.ToLower(rec.MessageType) {
	case "image":
		m.Kind = chat.KindImage
		m.ImageURIs = rec.ImageURLs
		m.Count = len(rec.ImageURLs)
		if len(rec.ImageURLs) > 0 {
			m.URI = rec.ImageURLs[0]
		}
	case "system":
		m.Kind = chat.KindSystem
	}
	return m
}

// isMine: either the sender id or the sender email matching the local user
// is sufficient.
func isMine(rec api.ServerMessage, myID int64, myEmail string) bool {
	if myID != 0 && rec.SenderID == myID {
		return true
	}
	return emailsEqual(rec.SenderEmail, myEmail)
}

func emailsEqual(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	return a != "" && b != "" && strings.EqualFold(a, b)
}

// findDuplicate returns the index of a semantic duplicate of in, or -1.
// Only plain-text messages are ever deduplicated. localOnly restricts
// candidates to entries with a locally-composed id prefix and switches
// sender matching to the prefix heuristic (single local user per device:
// a fresh local echo matches its server confirmation even before any
// sender identity is attached to it).
func findDuplicate(seq []chat.Message, in chat.Message, window time.Duration, localOnly bool) int {
	if in.Kind != chat.KindText {
		return -1
	}
	inAt, inOK := chat.ParseWhen(in.SentAt)
	if !inOK {
		// Fail closed: prefer a visible duplicate over dropping a
		// distinct message.
		return -1
	}
	for i, cand := range seq {
		if cand.Kind != chat.KindText {
			continue
		}
		if localOnly {
			if !chat.IsLocalID(cand.ID) || !chat.HasKnownPrefix(in.ID) {
				continue
			}
		} else if !senderMatches(cand, in) {
			continue
		}
		if cand.Text != in.Text {
			continue
		}
		candAt, ok := chat.ParseWhen(cand.SentAt)
		if !ok {
			continue
		}
		if absDuration(candAt.Sub(inAt)) <= window {
			return i
		}
	}
	return -1
}

func senderMatches(a, b chat.Message) bool {
	if a.SenderID != 0 && a.SenderID == b.SenderID {
		return true
	}
	return emailsEqual(a.SenderEmail, b.SenderEmail)
}

// replaceKeepingMine substitutes the server record for a matched local
// entry but never regresses a known "sent by me" marker.
func replaceKeepingMine(old, in chat.Message) chat.Message {
	in.Mine = in.Mine || old.Mine
	return in
}

func indexOfID(seq []chat.Message, id string) int {
	for i := range seq {
		if seq[i].ID == id {
			return i
		}
	}
	return -1
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
