package api

// ServerMessage is one message record as reported by the campus server.
type ServerMessage struct {
	ID          int64    `json:"id,omitempty"`
	SenderID    int64    `json:"senderId"`
	SenderEmail string   `json:"senderEmail,omitempty"`
	Message     string   `json:"message"`
	MessageType string   `json:"messageType,omitempty"` // TEXT, IMAGE, SYSTEM
	CreatedAt   string   `json:"createdAt"`
	ImageURLs   []string `json:"imageUrls,omitempty"`
}

// RoomDetail is the server-side conversation metadata.
type RoomDetail struct {
	RoomID         int64  `json:"roomId"`
	Type           string `json:"type"`   // market, lost, groupbuy
	TypeID         int64  `json:"typeId"` // post id within the type
	BuyerID        int64  `json:"buyerId"`
	BuyerNickname  string `json:"buyerNickname"`
	SellerID       int64  `json:"sellerId"`
	SellerNickname string `json:"sellerNickname"`
}

// CreateRoomRequest asks the server to create (or return) the room for a
// post/counterpart pair. The call is idempotent server-side.
type CreateRoomRequest struct {
	Type        string `json:"type"`
	TypeID      int64  `json:"typeId"`
	ToUserID    int64  `json:"toUserId"`
	Message     string `json:"message,omitempty"`
	MessageType string `json:"messageType,omitempty"`
}

// SendMessageRequest persists one message server-side.
type SendMessageRequest struct {
	RoomID      int64  `json:"roomId"`
	Sender      int64  `json:"sender"`
	Message     string `json:"message"`
	MessageType string `json:"type"`
}
