package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dhkim312/unichat/internal/api"
	"github.com/dhkim312/unichat/internal/bus"
	"github.com/dhkim312/unichat/internal/status"
)

const (
	reconnectMin = time.Second
	reconnectMax = 30 * time.Second
)

// streamFrame is one JSON frame on the chat websocket. The server pushes
// single live messages ("message") and whole-room authoritative snapshots
// ("sync").
type streamFrame struct {
	Type     string              `json:"type"`
	RoomID   int64               `json:"roomId"`
	Message  *api.ServerMessage  `json:"message,omitempty"`
	Messages []api.ServerMessage `json:"messages,omitempty"`
}

// Stream maintains the websocket connection to the chat server, drives
// the daemon state machine, and publishes parsed server events on the
// bus. It does NOT call the sync engine directly; the engine subscribes
// to the bus independently.
type Stream struct {
	url     string
	token   string
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	cancel  context.CancelFunc
}

// NewStream creates a stream client for the given websocket URL.
func NewStream(url, token string, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *Stream {
	return &Stream{
		url:     url,
		token:   token,
		bus:     b,
		machine: machine,
		logger:  logger,
	}
}

// Start runs the connect/read/reconnect loop until the context is
// cancelled. Reconnects back off exponentially up to reconnectMax.
func (s *Stream) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	go func() {
		backoff := reconnectMin
		for {
			if ctx.Err() != nil {
				return
			}
			_ = s.machine.Transition(status.Connecting)

			conn, err := s.dial(ctx)
			if err != nil {
				s.logger.Warn("stream dial failed",
					zap.Error(err),
					zap.Duration("retry_in", backoff))
				_ = s.machine.Transition(status.Reconnecting)
				select {
				case <-time.After(backoff):
				case <-ctx.Done():
					return
				}
				backoff = min(backoff*2, reconnectMax)
				continue
			}

			backoff = reconnectMin
			s.logger.Info("stream connected", zap.String("url", s.url))
			_ = s.machine.Transition(status.Syncing)
			s.bus.Publish(bus.Event{Kind: bus.KindSyncConnected, Timestamp: time.Now()})

			s.readLoop(ctx, conn)
			_ = conn.Close()

			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("stream disconnected")
			_ = s.machine.Transition(status.Reconnecting)
			s.bus.Publish(bus.Event{Kind: bus.KindSyncDisconnected, Timestamp: time.Now()})
		}
	}()
}

// Stop terminates the stream loop.
func (s *Stream) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, s.url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

func (s *Stream) readLoop(ctx context.Context, conn *websocket.Conn) {
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame streamFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn("bad stream frame", zap.Error(err))
			continue
		}
		s.handleFrame(frame)
	}
}

func (s *Stream) handleFrame(frame streamFrame) {
	if s.machine.Current() == status.Syncing {
		_ = s.machine.Transition(status.Ready)
	}

	switch frame.Type {
	case "message":
		if frame.Message == nil {
			return
		}
		s.bus.Publish(bus.Event{
			Kind:      bus.KindServerMessage,
			Timestamp: time.Now(),
			Payload: Batch{
				RoomID:   frame.RoomID,
				Messages: []api.ServerMessage{*frame.Message},
			},
		})
	case "sync":
		s.bus.Publish(bus.Event{
			Kind:      bus.KindServerBatch,
			Timestamp: time.Now(),
			Payload: Batch{
				RoomID:   frame.RoomID,
				Messages: frame.Messages,
			},
		})
	default:
		s.logger.Debug("ignoring stream frame", zap.String("type", frame.Type))
	}
}
