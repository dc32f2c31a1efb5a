package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mattn/go-sqlite3"

	"chatgate/pkg/interfaces"
	"chatgate/pkg/types"
)

// messageColumns selects a message joined with its author's display name
const messageColumns = `
	m.id, m.channel_id, m.sender_id, COALESCE(u.username, m.sender_id),
	m.content, m.created_at, m.updated_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner, extra ...interface{}) (*types.Message, error) {
	var message types.Message
	var updatedAt sql.NullTime

	dest := []interface{}{
		&message.ID,
		&message.ChannelID,
		&message.SenderID,
		&message.Username,
		&message.Content,
		&message.CreatedAt,
		&updatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}

	if updatedAt.Valid {
		message.UpdatedAt = &updatedAt.Time
	}
	return &message, nil
}

// CreateMessage persists a message and returns it with its store-assigned id
func (m *Manager) CreateMessage(ctx context.Context, channelID int64, senderID, content string) (*types.Message, error) {
	var id int64
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx,
			`INSERT INTO messages (channel_id, sender_id, content, created_at) VALUES (?, ?, ?, ?)`,
			channelID, senderID, content, time.Now().UTC(),
		)
		if err != nil {
			if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
				return interfaces.ErrChannelNotFound
			}
			return fmt.Errorf("failed to insert message: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, err
	}

	return m.GetMessage(ctx, id)
}

// GetMessage retrieves a message by id
func (m *Manager) GetMessage(ctx context.Context, messageID int64) (*types.Message, error) {
	// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
	row := m.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.id = ?
	`, messageID)

	message, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	return message, nil
}

// authorOf returns the sender of a message inside a write operation
func authorOf(ctx context.Context, db *sql.DB, messageID int64) (string, error) {
	var senderID string
	err := db.QueryRowContext(ctx, "SELECT sender_id FROM messages WHERE id = ?", messageID).Scan(&senderID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", interfaces.ErrMessageNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query message author: %w", err)
	}
	return senderID, nil
}

// EditMessage replaces the content of a message written by userID
func (m *Manager) EditMessage(ctx context.Context, messageID int64, userID, content string) (*types.Message, error) {
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		senderID, err := authorOf(ctx, db, messageID)
		if err != nil {
			return err
		}
		if senderID != userID {
			return interfaces.ErrNotAuthor
		}

		_, err = db.ExecContext(ctx,
			"UPDATE messages SET content = ?, updated_at = ? WHERE id = ?",
			content, time.Now().UTC(), messageID,
		)
		if err != nil {
			return fmt.Errorf("failed to update message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return m.GetMessage(ctx, messageID)
}

// DeleteMessage removes a message written by userID and returns it as it was
func (m *Manager) DeleteMessage(ctx context.Context, messageID int64, userID string) (*types.Message, error) {
	message, err := m.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.SenderID != userID {
		return nil, interfaces.ErrNotAuthor
	}

	err = m.executeWrite(ctx, func(db *sql.DB) error {
		// TECHNICAL DISCOVERY: author re-checked inside the writer, the row
		// may have changed between the read above and this write
		senderID, err := authorOf(ctx, db, messageID)
		if err != nil {
			return err
		}
		if senderID != userID {
			return interfaces.ErrNotAuthor
		}

		if _, err := db.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", messageID); err != nil {
			return fmt.Errorf("failed to delete message: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return message, nil
}

// ChannelHistory returns up to limit messages older than cursor, ascending.
// FUNCTIONAL DISCOVERY: the page is fetched newest-first and reversed so a
// full page hands out its oldest id as the next cursor.
func (m *Manager) ChannelHistory(ctx context.Context, channelID int64, limit int, cursor *int64) (*types.MessagePage, error) {
	limit = types.ClampLimit(limit, types.DefaultHistoryLimit)

	rows, err := m.db.QueryContext(ctx, `
		SELECT `+messageColumns+`
		FROM messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.channel_id = ? AND m.id < ?
		ORDER BY m.id DESC
		LIMIT ?
	`, channelID, upperBound(cursor), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query channel history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]*types.Message, 0, limit)
	for rows.Next() {
		message, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		items = append(items, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}

	reverse(items)
	page := &types.MessagePage{Items: items}
	if len(items) == limit {
		next := items[0].ID
		page.NextCursor = &next
	}
	return page, nil
}

// upperBound converts an optional cursor into an exclusive id bound
func upperBound(cursor *int64) int64 {
	if cursor == nil {
		return math.MaxInt64
	}
	return *cursor
}

func reverse[T any](items []T) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
