package chat

import "fmt"

// Room categories as stored in handles. The app-facing source label
// "groupbuy" maps to the stored token "group"; the mapping must stay
// bit-exact with handles already persisted on devices.
const (
	CategoryMarket = "market"
	CategoryLost   = "lost"
	CategoryGroup  = "group"
)

// CategoryToken normalizes an app source label to its stored handle token.
// Unknown labels pass through unchanged.
func CategoryToken(source string) string {
	if source == "groupbuy" {
		return CategoryGroup
	}
	return source
}

// RoomHandle builds the client-side room identifier for a conversation:
// "{category}-{postId}-{counterpartNickname}".
func RoomHandle(source string, postID int64, nickname string) string {
	return fmt.Sprintf("%s-%d-%s", CategoryToken(source), postID, nickname)
}
