package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chatgate/pkg/types"
)

// MarkRead advances the read watermark; an older messageID never moves it back
func (m *Manager) MarkRead(ctx context.Context, userID string, channelID, messageID int64) (*types.ReadState, error) {
	if messageID < 0 {
		return nil, types.ErrInvalidMessageID
	}

	err := m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO read_states (user_id, channel_id, last_read_message_id, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id, channel_id) DO UPDATE SET
				last_read_message_id = MAX(read_states.last_read_message_id, excluded.last_read_message_id),
				updated_at = excluded.updated_at
		`, userID, channelID, messageID, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("failed to upsert read state: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	state := &types.ReadState{UserID: userID, ChannelID: channelID}
	err = m.db.QueryRowContext(ctx,
		"SELECT last_read_message_id, updated_at FROM read_states WHERE user_id = ? AND channel_id = ?",
		userID, channelID,
	).Scan(&state.LastReadMessageID, &state.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to query read state: %w", err)
	}
	return state, nil
}

// UnreadCount counts messages in a channel newer than userID's watermark
func (m *Manager) UnreadCount(ctx context.Context, userID string, channelID int64) (*types.UnreadInfo, error) {
	info := &types.UnreadInfo{ChannelID: channelID}

	err := m.db.QueryRowContext(ctx,
		"SELECT last_read_message_id FROM read_states WHERE user_id = ? AND channel_id = ?",
		userID, channelID,
	).Scan(&info.LastReadMessageID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to query read state: %w", err)
	}

	err = m.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM messages WHERE channel_id = ? AND id > ?",
		channelID, info.LastReadMessageID,
	).Scan(&info.Unread)
	if err != nil {
		return nil, fmt.Errorf("failed to count unread messages: %w", err)
	}

	return info, nil
}

// UnreadForUser returns unread counts for every channel userID belongs to
func (m *Manager) UnreadForUser(ctx context.Context, userID string) ([]types.UnreadInfo, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT cm.channel_id,
		       COALESCE(rs.last_read_message_id, 0),
		       (SELECT COUNT(*) FROM messages m
		        WHERE m.channel_id = cm.channel_id
		          AND m.id > COALESCE(rs.last_read_message_id, 0))
		FROM channel_members cm
		LEFT JOIN read_states rs ON rs.user_id = cm.user_id AND rs.channel_id = cm.channel_id
		WHERE cm.user_id = ?
		ORDER BY cm.channel_id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query unread counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	infos := []types.UnreadInfo{}
	for rows.Next() {
		var info types.UnreadInfo
		if err := rows.Scan(&info.ChannelID, &info.LastReadMessageID, &info.Unread); err != nil {
			return nil, fmt.Errorf("failed to scan unread row: %w", err)
		}
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating unread rows: %w", err)
	}

	return infos, nil
}
