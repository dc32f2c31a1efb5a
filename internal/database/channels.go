package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"chatgate/pkg/interfaces"
	"chatgate/pkg/types"
)

// Channel member roles
const (
	RoleOwner  = types.RoleOwner
	RoleMember = types.RoleMember
)

// CreateChannel creates a channel and makes its creator the owner
func (m *Manager) CreateChannel(ctx context.Context, name, creatorID string) (*types.Channel, error) {
	name = strings.TrimSpace(name)
	if err := types.ValidateChannelName(name); err != nil {
		return nil, err
	}

	channel := &types.Channel{
		Name:      name,
		CreatedBy: creatorID,
		CreatedAt: time.Now().UTC(),
	}

	err := m.executeWrite(ctx, func(db *sql.DB) error {
		// FUNCTIONAL DISCOVERY: channel and owner membership are created atomically
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		res, err := tx.ExecContext(ctx,
			"INSERT INTO channels (name, created_by, created_at) VALUES (?, ?, ?)",
			channel.Name, channel.CreatedBy, channel.CreatedAt,
		)
		if err != nil {
			if isConstraint(err, sqlite3.ErrConstraintUnique) {
				return interfaces.ErrChannelExists
			}
			return fmt.Errorf("failed to insert channel: %w", err)
		}
		if channel.ID, err = res.LastInsertId(); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			"INSERT INTO channel_members (channel_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)",
			channel.ID, creatorID, RoleOwner, channel.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert owner membership: %w", err)
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit channel creation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return channel, nil
}

// GetChannel retrieves a channel by id
func (m *Manager) GetChannel(ctx context.Context, channelID int64) (*types.Channel, error) {
	var channel types.Channel
	err := m.db.QueryRowContext(ctx,
		"SELECT id, name, created_by, created_at FROM channels WHERE id = ?",
		channelID,
	).Scan(&channel.ID, &channel.Name, &channel.CreatedBy, &channel.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrChannelNotFound
		}
		return nil, fmt.Errorf("failed to query channel: %w", err)
	}
	return &channel, nil
}

// AddMember adds userID to a channel; an existing membership keeps its role
func (m *Manager) AddMember(ctx context.Context, channelID int64, userID, role string) error {
	if role == "" {
		role = RoleMember
	}
	if role != RoleOwner && role != RoleMember {
		return ErrInvalidRole
	}

	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO channel_members (channel_id, user_id, role, joined_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(channel_id, user_id) DO NOTHING
		`, channelID, userID, role, time.Now().UTC())
		if err != nil {
			if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
				return interfaces.ErrChannelNotFound
			}
			return fmt.Errorf("failed to insert membership: %w", err)
		}
		return nil
	})
}

// RemoveMember revokes userID's membership. ErrNotMember when there was none.
func (m *Manager) RemoveMember(ctx context.Context, channelID int64, userID string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			"DELETE FROM channel_members WHERE channel_id = ? AND user_id = ?",
			channelID, userID,
		)
		if err != nil {
			return fmt.Errorf("failed to delete membership: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return interfaces.ErrNotMember
		}
		return nil
	})
}

// IsMember reports whether userID belongs to the channel.
// Always answered from the store, never cached.
func (m *Manager) IsMember(ctx context.Context, channelID int64, userID string) (bool, error) {
	var exists int
	err := m.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM channel_members WHERE channel_id = ? AND user_id = ?)",
		channelID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query membership: %w", err)
	}
	return exists == 1, nil
}

// MemberRole returns userID's role in the channel or ErrNotMember
func (m *Manager) MemberRole(ctx context.Context, channelID int64, userID string) (string, error) {
	var role string
	err := m.db.QueryRowContext(ctx,
		"SELECT role FROM channel_members WHERE channel_id = ? AND user_id = ?",
		channelID, userID,
	).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", interfaces.ErrNotMember
		}
		return "", fmt.Errorf("failed to query member role: %w", err)
	}
	return role, nil
}

// ListUserChannels returns the channels userID belongs to, by name
func (m *Manager) ListUserChannels(ctx context.Context, userID string) ([]*types.Channel, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.created_by, c.created_at
		FROM channels c
		JOIN channel_members cm ON cm.channel_id = c.id
		WHERE cm.user_id = ?
		ORDER BY c.name COLLATE NOCASE ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user channels: %w", err)
	}
	defer func() { _ = rows.Close() }()

	channels := []*types.Channel{}
	for rows.Next() {
		var channel types.Channel
		if err := rows.Scan(&channel.ID, &channel.Name, &channel.CreatedBy, &channel.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan channel row: %w", err)
		}
		channels = append(channels, &channel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating channel rows: %w", err)
	}

	return channels, nil
}

// UpsertUser records the latest display name seen for a user
func (m *Manager) UpsertUser(ctx context.Context, identity types.Identity) error {
	now := time.Now().UTC()
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO users (id, username, created_at, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				username = excluded.username,
				updated_at = excluded.updated_at
			WHERE users.username <> excluded.username
		`, identity.UserID, identity.Username, now, now)
		if err != nil {
			return fmt.Errorf("failed to upsert user: %w", err)
		}
		return nil
	})
}
