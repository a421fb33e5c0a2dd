package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/dhkim312/unichat/internal/api"
	"github.com/dhkim312/unichat/internal/bus"
	"github.com/dhkim312/unichat/internal/chat"
	"github.com/dhkim312/unichat/internal/metrics"
	"github.com/dhkim312/unichat/internal/readsync"
	"github.com/dhkim312/unichat/internal/room"
	"github.com/dhkim312/unichat/internal/session"
	"github.com/dhkim312/unichat/internal/status"
	"github.com/dhkim312/unichat/internal/store"
	intsync "github.com/dhkim312/unichat/internal/sync"
)

// HistoryFetcher pulls a room's authoritative message log. Used to
// backfill a room right after provisioning, when the stream has nothing
// buffered for it yet.
type HistoryFetcher interface {
	ListRoomMessages(ctx context.Context, roomID int64) ([]api.ServerMessage, error)
}

// Server exposes the daemon's control API as HTTP/JSON over the
// session's Unix domain socket.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger

	sessionName string
	db          *store.DB
	machine     *status.Machine
	rooms       *room.Manager
	readSync    *readsync.Debouncer
	history     HistoryFetcher
	metrics     *metrics.Metrics
	bus         *bus.Bus
}

// NewServer creates a server bound to the session's Unix domain socket.
func NewServer(
	p Params,
	logger *zap.Logger,
	db *store.DB,
	machine *status.Machine,
	rooms *room.Manager,
	readSync *readsync.Debouncer,
	history HistoryFetcher,
	m *metrics.Metrics,
	b *bus.Bus,
) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = session.SocketPath(p.SessionName)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	s := &Server{
		listener:    listener,
		socketPath:  socketPath,
		logger:      logger,
		sessionName: p.SessionName,
		db:          db,
		machine:     machine,
		rooms:       rooms,
		readSync:    readSync,
		history:     history,
		metrics:     m,
		bus:         b,
	}

	r := mux.NewRouter()
	r.HandleFunc("/v1/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/v1/rooms", s.handleListRooms).Methods(http.MethodGet)
	r.HandleFunc("/v1/rooms/open", s.handleOpenRoom).Methods(http.MethodPost)
	r.HandleFunc("/v1/rooms/{handle}/messages", s.handleListMessages).Methods(http.MethodGet)
	r.HandleFunc("/v1/rooms/{handle}/messages", s.handleSendMessage).Methods(http.MethodPost)
	r.HandleFunc("/v1/rooms/{handle}/read", s.handleMarkRead).Methods(http.MethodPost)
	r.Handle("/v1/metrics", m).Methods(http.MethodGet)

	s.httpServer = &http.Server{Handler: r}
	return s, nil
}

// Start begins serving requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("api server starting", zap.String("socket", s.socketPath))
	err := s.httpServer.Serve(s.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("api server stopping")
	_ = s.httpServer.Shutdown(ctx)
	_ = os.Remove(s.socketPath)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"session": s.sessionName,
		"state":   s.machine.Current(),
	})
}

func (s *Server) handleListRooms(w http.ResponseWriter, _ *http.Request) {
	rooms, err := s.db.ListRooms(0)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "list rooms", err)
		return
	}
	out := make([]map[string]any, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, map[string]any{
			"handle":        r.Handle,
			"serverRoomId":  r.ServerRoomID,
			"category":      r.Category,
			"postId":        r.PostID,
			"peerNickname":  r.PeerNickname,
			"unreadCount":   r.UnreadCount,
			"lastMessageAt": r.LastMessageAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": out})
}

type openRoomRequest struct {
	Source        string `json:"source"`
	PostID        string `json:"postId"`
	Nickname      string `json:"nickname"`
	PeerID        string `json:"peerId"`
	RoomID        string `json:"roomId"`
	BuyerID       string `json:"buyerId"`
	BuyerNickname string `json:"buyerNickname"`
	Handle        string `json:"handle"` // proposed; derived when empty
}

func (s *Server) handleOpenRoom(w http.ResponseWriter, r *http.Request) {
	var req openRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, "decode request", err)
		return
	}

	meta := room.Meta{
		Source:        req.Source,
		PostID:        req.PostID,
		Nickname:      req.Nickname,
		PeerID:        req.PeerID,
		RoomID:        req.RoomID,
		BuyerID:       req.BuyerID,
		BuyerNickname: req.BuyerNickname,
	}
	proposed := req.Handle
	if proposed == "" {
		if postID, ok := room.CoerceID(req.PostID); ok {
			proposed = room.DeriveHandle(meta, postID)
		}
	}

	handle, sess := s.rooms.Open(r.Context(), meta, proposed)
	if handle == "" {
		writeJSON(w, http.StatusOK, map[string]any{"handle": ""})
		return
	}
	s.provisionAsync(sess)

	writeJSON(w, http.StatusOK, map[string]any{
		"handle":       handle,
		"state":        sess.Current(),
		"serverRoomId": sess.Provisioner().ServerRoomID(),
	})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	handle := mux.Vars(r)["handle"]
	msgs, err := s.db.LoadMessages(handle)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "load messages", err)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type sendMessageRequest struct {
	Text      string   `json:"text"`
	ImageURIs []string `json:"imageUris"`
	Initial   bool     `json:"initial"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	handle := mux.Vars(r)["handle"]
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, "decode request", err)
		return
	}
	if req.Text == "" && len(req.ImageURIs) == 0 {
		s.fail(w, http.StatusBadRequest, "empty message", nil)
		return
	}

	sess := s.rooms.Get(handle)

	// Queued opening messages are attempted at most once per session.
	// The latch lives on the room session, so an initial send requires
	// the room to have been opened first.
	if req.Initial {
		if sess == nil {
			s.fail(w, http.StatusConflict, "room not open", nil)
			return
		}
		if !sess.ClaimInitialSend() {
			msgs, err := s.db.LoadMessages(handle)
			if err != nil {
				s.fail(w, http.StatusInternalServerError, "load messages", err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"messages": msgs, "queued": false})
			return
		}
	}

	now := time.Now()
	var msg chat.Message
	if len(req.ImageURIs) > 0 {
		msg = chat.NewOutboxImage(req.ImageURIs, now)
	} else {
		msg = chat.NewOutboxText(req.Text, now)
	}

	msgs, err := s.db.AppendMessage(handle, msg)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "append message", err)
		return
	}
	clientMsgID := uuid.New().String()
	if err := s.db.QueueOutbox(clientMsgID, handle, string(msg.Kind), msg.Text, req.Initial); err != nil {
		s.fail(w, http.StatusInternalServerError, "queue message", err)
		return
	}
	s.bus.Publish(bus.Event{
		Kind:      bus.KindMessageQueued,
		Timestamp: now,
		Payload:   map[string]string{"client_msg_id": clientMsgID, "msg_id": msg.ID, "room_handle": handle},
	})
	if sess != nil {
		s.provisionAsync(sess)
	}

	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs, "queued": true})
}

type markReadRequest struct {
	LastMessageID string `json:"lastMessageId"`
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	handle := mux.Vars(r)["handle"]
	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, "decode request", err)
		return
	}

	row, err := s.db.GetRoom(handle)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "load room", err)
		return
	}
	if row == nil || row.ServerRoomID == 0 {
		// Nothing to report server-side yet.
		writeJSON(w, http.StatusOK, map[string]any{"unreadCount": 0})
		return
	}

	s.readSync.Sync(r.Context(), handle, row.ServerRoomID, req.LastMessageID)

	row, err = s.db.GetRoom(handle)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "load room", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unreadCount": row.UnreadCount})
}

// provisionAsync kicks a background provisioning attempt. Failures stay
// inside the provisioner; the outbox retries once a mapping exists.
func (s *Server) provisionAsync(sess *room.Session) {
	if sess == nil || sess.Current() == room.Provisioned {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		id, ok := sess.Provisioner().EnsureServerRoomID(ctx)
		if !ok {
			return
		}
		if err := sess.MarkProvisioned(); err != nil {
			return
		}
		s.metrics.IncProvision()
		s.backfill(ctx, sess.Handle(), id)
	}()
}

// backfill pulls the room's authoritative log once provisioning yields
// a server room id and hands it to the merge engine via the bus.
func (s *Server) backfill(ctx context.Context, handle string, roomID int64) {
	msgs, err := s.history.ListRoomMessages(ctx, roomID)
	if err != nil {
		s.logger.Warn("room backfill failed",
			zap.Error(err),
			zap.String("handle", handle),
			zap.Int64("server_room_id", roomID))
		return
	}
	if len(msgs) == 0 {
		return
	}
	s.bus.Publish(bus.Event{
		Kind:      bus.KindServerBatch,
		Timestamp: time.Now(),
		Payload: intsync.Batch{
			RoomHandle: handle,
			RoomID:     roomID,
			Messages:   msgs,
		},
	})
}

func (s *Server) fail(w http.ResponseWriter, code int, msg string, err error) {
	if err != nil {
		s.logger.Warn(msg, zap.Error(err))
		writeJSON(w, code, map[string]string{"error": fmt.Sprintf("%s: %v", msg, err)})
		return
	}
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
