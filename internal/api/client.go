package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the campus community server's REST API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient creates a client for the given base URL. token is sent as a
// bearer credential on every request.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// GetRoomDetail fetches server-side conversation metadata.
func (c *Client) GetRoomDetail(ctx context.Context, roomID int64) (*RoomDetail, error) {
	var out struct {
		RoomInfo RoomDetail `json:"roomInfo"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/chat/rooms/%d", roomID), nil, &out); err != nil {
		return nil, err
	}
	return &out.RoomInfo, nil
}

// CreateOrGetRoom creates the server room for a conversation, or returns
// the existing one. Returns the server-assigned room id.
func (c *Client) CreateOrGetRoom(ctx context.Context, req CreateRoomRequest) (int64, error) {
	var out struct {
		RoomInfo struct {
			RoomID int64 `json:"roomId"`
		} `json:"roomInfo"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/chat/rooms", req, &out); err != nil {
		return 0, err
	}
	if out.RoomInfo.RoomID == 0 {
		return 0, fmt.Errorf("create room: server returned no room id")
	}
	return out.RoomInfo.RoomID, nil
}

// SendMessage persists one message server-side.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) error {
	return c.do(ctx, http.MethodPost, "/api/chat/messages", req, nil)
}

// MarkRoomRead issues the server read-receipt call and returns the room's
// authoritative unread count.
func (c *Client) MarkRoomRead(ctx context.Context, roomID int64, lastMessageID string) (int, error) {
	body := map[string]any{"roomId": roomID}
	if lastMessageID != "" {
		body["lastMessageId"] = lastMessageID
	}
	var out struct {
		UnreadCount int `json:"unreadCount"`
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/chat/rooms/%d/read", roomID), body, &out); err != nil {
		return 0, err
	}
	return out.UnreadCount, nil
}

// ListRoomMessages fetches the authoritative message log for a room. Used
// by the poll path when the stream is down.
func (c *Client) ListRoomMessages(ctx context.Context, roomID int64) ([]ServerMessage, error) {
	var out struct {
		Messages []ServerMessage `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/chat/rooms/%d/messages", roomID), nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
