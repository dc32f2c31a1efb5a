package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"chatgate/pkg/interfaces"
	"chatgate/pkg/types"
)

// AddReaction records (user, message, emoji); a repeated add is a no-op
func (m *Manager) AddReaction(ctx context.Context, messageID int64, userID, emoji string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO reactions (message_id, user_id, emoji, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(message_id, user_id, emoji) DO NOTHING
		`, messageID, userID, emoji, time.Now().UTC())
		if err != nil {
			if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
				return interfaces.ErrMessageNotFound
			}
			return fmt.Errorf("failed to insert reaction: %w", err)
		}
		return nil
	})
}

// RemoveReaction deletes (user, message, emoji); removing nothing is not an error
func (m *Manager) RemoveReaction(ctx context.Context, messageID int64, userID, emoji string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx,
			"DELETE FROM reactions WHERE message_id = ? AND user_id = ? AND emoji = ?",
			messageID, userID, emoji,
		)
		if err != nil {
			return fmt.Errorf("failed to delete reaction: %w", err)
		}
		return nil
	})
}

// ListReactions aggregates a message's reactions by emoji. Groups are
// ordered by their first reaction, users inside a group by reaction time.
func (m *Manager) ListReactions(ctx context.Context, messageID int64) ([]types.ReactionGroup, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT r.emoji, r.user_id, COALESCE(u.username, r.user_id)
		FROM reactions r
		LEFT JOIN users u ON u.id = r.user_id
		WHERE r.message_id = ?
		ORDER BY r.rowid ASC
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	groups := []types.ReactionGroup{}
	index := make(map[string]int)
	for rows.Next() {
		var emoji string
		var user types.ReactionUser
		if err := rows.Scan(&emoji, &user.UserID, &user.Username); err != nil {
			return nil, fmt.Errorf("failed to scan reaction row: %w", err)
		}

		i, ok := index[emoji]
		if !ok {
			i = len(groups)
			index[emoji] = i
			groups = append(groups, types.ReactionGroup{Emoji: emoji})
		}
		groups[i].Users = append(groups[i].Users, user)
		groups[i].Count++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating reaction rows: %w", err)
	}

	return groups, nil
}
