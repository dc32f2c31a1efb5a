package types

import (
	"strconv"
	"time"
)

// RoomPrefix prefixes every channel room name
const RoomPrefix = "channel:"

// RoomName returns the broadcast room name for a channel
func RoomName(channelID int64) string {
	return RoomPrefix + strconv.FormatInt(channelID, 10)
}

// Identity is the pre-validated user attached to a connection
// FUNCTIONAL DISCOVERY: issued externally, the gateway only consumes it
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Channel member roles
const (
	RoleOwner  = "owner"
	RoleMember = "member"
)

// Channel represents a chat channel
type Channel struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedBy string    `json:"createdBy"`
	CreatedAt time.Time `json:"createdAt"`
}

// Message represents a persisted channel message
// ARCHITECTURAL DISCOVERY: ID is assigned by the store and is the only ordering
// and pagination key. Ids are increasing but may have gaps.
type Message struct {
	ID          int64      `json:"id"`
	ChannelID   int64      `json:"channelId"`
	SenderID    string     `json:"senderId"`
	Username    string     `json:"username,omitempty"`
	Content     string     `json:"content"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   *time.Time `json:"updatedAt,omitempty"`
	ClientMsgID string     `json:"clientMsgId,omitempty"`
}

// SearchHit is a message matched by a search query
type SearchHit struct {
	Message
	Highlight string `json:"highlight,omitempty"`
	Rank      int    `json:"rank,omitempty"`
}

// MessagePage is one page of cursor-paginated history, ascending by id
// FUNCTIONAL DISCOVERY: NextCursor is set only when the page was full,
// a nil cursor is the end-of-history signal
type MessagePage struct {
	Items      []*Message `json:"items"`
	NextCursor *int64     `json:"nextCursor"`
}

// SearchPage is one page of search results, ascending by id
type SearchPage struct {
	Items      []*SearchHit `json:"items"`
	NextCursor *int64       `json:"nextCursor"`
}

// Reaction is a single (user, message, emoji) tuple
type Reaction struct {
	MessageID int64     `json:"messageId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username,omitempty"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"createdAt"`
}

// ReactionUser names one reacting user inside a group
type ReactionUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// ReactionGroup aggregates reactions on a message by emoji
type ReactionGroup struct {
	Emoji string         `json:"emoji"`
	Count int            `json:"count"`
	Users []ReactionUser `json:"users"`
}

// PresenceEntry is one user present in a channel
type PresenceEntry struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// ChannelPresence is the full presence list of one channel
type ChannelPresence struct {
	ChannelID int64           `json:"channelId"`
	Users     []PresenceEntry `json:"users"`
}

// ReadState is the per-user read watermark for a channel
type ReadState struct {
	UserID            string    `json:"userId"`
	ChannelID         int64     `json:"channelId"`
	LastReadMessageID int64     `json:"lastReadMessageId"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// UnreadInfo is the unread count of one channel for one user
type UnreadInfo struct {
	ChannelID         int64 `json:"channelId"`
	LastReadMessageID int64 `json:"lastReadMessageId"`
	Unread            int   `json:"unread"`
}
