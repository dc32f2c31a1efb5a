package channel

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"chatgate/internal/logger"
	"chatgate/pkg/interfaces"
	"chatgate/pkg/types"
)

var log = logger.Named("channel")

// RevokeFunc is called after a user loses membership of a channel
type RevokeFunc func(channelID int64, userID string)

// Manager is the channel management façade and the membership oracle.
// ARCHITECTURAL DISCOVERY: membership answers always come from the store,
// nothing is cached here, so a revocation is visible to the very next event.
type Manager struct {
	store interfaces.ChannelStore

	mu    sync.RWMutex
	hooks []RevokeFunc
}

var _ interfaces.MembershipOracle = (*Manager)(nil)

// NewManager creates a new channel manager
func NewManager(store interfaces.ChannelStore) *Manager {
	return &Manager{store: store}
}

// OnRevoke registers fn to run after every membership removal
func (m *Manager) OnRevoke(fn RevokeFunc) {
	m.mu.Lock()
	m.hooks = append(m.hooks, fn)
	m.mu.Unlock()
}

// IsMember answers from the store on every call
func (m *Manager) IsMember(ctx context.Context, channelID int64, userID string) (bool, error) {
	if channelID <= 0 || userID == "" {
		return false, nil
	}
	return m.store.IsMember(ctx, channelID, userID)
}

// CreateChannel creates a channel owned by creator
func (m *Manager) CreateChannel(ctx context.Context, name string, creator types.Identity) (*types.Channel, error) {
	if !types.IsValidUserID(creator.UserID) {
		return nil, ErrInvalidUserID
	}
	if err := types.ValidateChannelName(name); err != nil {
		return nil, err
	}

	if err := m.store.UpsertUser(ctx, creator); err != nil {
		return nil, fmt.Errorf("failed to record creator: %w", err)
	}

	channel, err := m.store.CreateChannel(ctx, name, creator.UserID)
	if err != nil {
		return nil, err
	}

	log.Info("Created channel",
		zap.Int64("channel_id", channel.ID),
		zap.String("name", channel.Name),
		zap.String("owner", creator.UserID))
	return channel, nil
}

// GetChannel retrieves a channel by id
func (m *Manager) GetChannel(ctx context.Context, channelID int64) (*types.Channel, error) {
	if err := types.ValidateChannelID(channelID); err != nil {
		return nil, interfaces.ErrChannelNotFound
	}
	return m.store.GetChannel(ctx, channelID)
}

// JoinChannel makes user a member of an existing channel
func (m *Manager) JoinChannel(ctx context.Context, channelID int64, user types.Identity) (*types.Channel, error) {
	if !types.IsValidUserID(user.UserID) {
		return nil, ErrInvalidUserID
	}

	channel, err := m.GetChannel(ctx, channelID)
	if err != nil {
		return nil, err
	}

	if err := m.store.UpsertUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to record member: %w", err)
	}
	if err := m.store.AddMember(ctx, channelID, user.UserID, types.RoleMember); err != nil {
		return nil, err
	}

	log.Debug("User joined channel", zap.Int64("channel_id", channelID), zap.String("user_id", user.UserID))
	return channel, nil
}

// RemoveMember removes targetID from a channel on behalf of actorID.
// Anyone may remove themselves; removing someone else requires ownership.
func (m *Manager) RemoveMember(ctx context.Context, channelID int64, actorID, targetID string) error {
	if actorID != targetID {
		role, err := m.store.MemberRole(ctx, channelID, actorID)
		if err != nil {
			return err
		}
		if role != types.RoleOwner {
			return ErrNotOwner
		}
	}

	if err := m.store.RemoveMember(ctx, channelID, targetID); err != nil {
		return err
	}

	m.mu.RLock()
	hooks := append([]RevokeFunc(nil), m.hooks...)
	m.mu.RUnlock()
	for _, hook := range hooks {
		hook(channelID, targetID)
	}

	log.Info("Revoked channel membership",
		zap.Int64("channel_id", channelID),
		zap.String("user_id", targetID),
		zap.String("by", actorID))
	return nil
}

// ListChannels returns the channels userID belongs to
func (m *Manager) ListChannels(ctx context.Context, userID string) ([]*types.Channel, error) {
	return m.store.ListUserChannels(ctx, userID)
}

// GetStats returns channel manager statistics
func (m *Manager) GetStats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"revoke_hooks": len(m.hooks),
	}
}
