// Package metrics exposes daemon counters as a JSON endpoint.
package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
)

type Metrics struct {
	messagesMerged  atomic.Uint64
	messagesSent    atomic.Uint64
	sendFailures    atomic.Uint64
	streamDrops     atomic.Uint64
	roomsProvisions atomic.Uint64
}

func New() *Metrics {
	return &Metrics{}
}

func (m *Metrics) AddMerged(n int) {
	if n > 0 {
		m.messagesMerged.Add(uint64(n))
	}
}

func (m *Metrics) IncSent() {
	m.messagesSent.Add(1)
}

func (m *Metrics) IncSendFailure() {
	m.sendFailures.Add(1)
}

func (m *Metrics) IncStreamDrop() {
	m.streamDrops.Add(1)
}

func (m *Metrics) IncProvision() {
	m.roomsProvisions.Add(1)
}

func (m *Metrics) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]any{
		"messages_merged_total": m.messagesMerged.Load(),
		"messages_sent_total":   m.messagesSent.Load(),
		"send_failures_total":   m.sendFailures.Load(),
		"stream_drops_total":    m.streamDrops.Load(),
		"rooms_provisioned":     m.roomsProvisions.Load(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
