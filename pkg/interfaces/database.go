package interfaces

import (
	"context"

	"chatgate/pkg/types"
)

// HistoryStore persists messages and serves cursor-paginated reads and search
// ARCHITECTURAL DISCOVERY: ids are the only pagination key, every page
// holds ids strictly below the cursor and is returned ascending
type HistoryStore interface {
	// CreateMessage persists a message and returns it with its assigned id
	CreateMessage(ctx context.Context, channelID int64, senderID, content string) (*types.Message, error)

	// GetMessage returns a single message or ErrMessageNotFound
	GetMessage(ctx context.Context, messageID int64) (*types.Message, error)

	// EditMessage replaces content. ErrNotAuthor when userID did not write it
	EditMessage(ctx context.Context, messageID int64, userID, content string) (*types.Message, error)

	// DeleteMessage removes a message. ErrNotAuthor when userID did not write it
	DeleteMessage(ctx context.Context, messageID int64, userID string) (*types.Message, error)

	// ChannelHistory returns up to limit messages with id < cursor (nil cursor = newest)
	ChannelHistory(ctx context.Context, channelID int64, limit int, cursor *int64) (*types.MessagePage, error)

	// SearchChannel matches query inside one channel
	SearchChannel(ctx context.Context, channelID int64, query string, limit int, cursor *int64) (*types.SearchPage, error)

	// SearchGlobal matches query across the channels userID is a member of
	SearchGlobal(ctx context.Context, userID, query string, limit int, cursor *int64) (*types.SearchPage, error)
}

// ReactionStore keeps (user, message, emoji) tuples
// FUNCTIONAL DISCOVERY: add and remove are both idempotent
type ReactionStore interface {
	AddReaction(ctx context.Context, messageID int64, userID, emoji string) error
	RemoveReaction(ctx context.Context, messageID int64, userID, emoji string) error
	ListReactions(ctx context.Context, messageID int64) ([]types.ReactionGroup, error)
}

// MembershipOracle answers whether a user belongs to a channel.
// Answers are not cached by callers.
type MembershipOracle interface {
	IsMember(ctx context.Context, channelID int64, userID string) (bool, error)
}

// ChannelStore persists channels, memberships and known users
type ChannelStore interface {
	MembershipOracle
	CreateChannel(ctx context.Context, name, creatorID string) (*types.Channel, error)
	GetChannel(ctx context.Context, channelID int64) (*types.Channel, error)
	AddMember(ctx context.Context, channelID int64, userID, role string) error
	RemoveMember(ctx context.Context, channelID int64, userID string) error
	MemberRole(ctx context.Context, channelID int64, userID string) (string, error)
	ListUserChannels(ctx context.Context, userID string) ([]*types.Channel, error)
	UpsertUser(ctx context.Context, identity types.Identity) error
}

// ReadStateStore tracks read watermarks
type ReadStateStore interface {
	MarkRead(ctx context.Context, userID string, channelID, messageID int64) (*types.ReadState, error)
	UnreadCount(ctx context.Context, userID string, channelID int64) (*types.UnreadInfo, error)
	UnreadForUser(ctx context.Context, userID string) ([]types.UnreadInfo, error)
}

// DatabaseManager handles all database operations
// ARCHITECTURAL DISCOVERY: Single interface for all persistence operations
// enables consistent transaction handling and connection management
type DatabaseManager interface {
	HistoryStore
	ReactionStore
	ChannelStore
	ReadStateStore

	// HealthCheck verifies database connectivity and basic operations
	HealthCheck(ctx context.Context) error

	// Close closes the database connection and cleans up resources
	Close() error
}
