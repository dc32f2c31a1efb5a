package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"chatgate/pkg/types"
)

// Highlight markers wrapped around matched terms in snippets
const (
	HighlightOpen  = "<mark>"
	HighlightClose = "</mark>"
)

// searchScope restricts a search to one channel or to a user's channels.
// FUNCTIONAL DISCOVERY: the membership filter is part of the same WHERE clause
// as the text predicate, so result counts never reveal foreign channels.
type searchScope struct {
	clause string
	arg    interface{}
}

func channelScope(channelID int64) searchScope {
	return searchScope{clause: "m.channel_id = ?", arg: channelID}
}

func memberScope(userID string) searchScope {
	return searchScope{
		clause: "m.channel_id IN (SELECT channel_id FROM channel_members WHERE user_id = ?)",
		arg:    userID,
	}
}

// SearchChannel matches query inside one channel
func (m *Manager) SearchChannel(ctx context.Context, channelID int64, query string, limit int, cursor *int64) (*types.SearchPage, error) {
	return m.search(ctx, channelScope(channelID), query, types.ClampLimit(limit, types.DefaultHistoryLimit), cursor)
}

// SearchGlobal matches query across every channel userID belongs to
func (m *Manager) SearchGlobal(ctx context.Context, userID, query string, limit int, cursor *int64) (*types.SearchPage, error) {
	return m.search(ctx, memberScope(userID), query, types.ClampLimit(limit, types.DefaultGlobalLimit), cursor)
}

func (m *Manager) search(ctx context.Context, scope searchScope, query string, limit int, cursor *int64) (*types.SearchPage, error) {
	term := strings.TrimSpace(query)
	if term == "" {
		return emptySearchPage(), nil
	}

	var (
		rows *sql.Rows
		err  error
	)
	if types.IsShortQuery(term) {
		// TECHNICAL DISCOVERY: FTS tokens below three characters are too noisy,
		// short terms fall back to a case-insensitive substring scan
		rows, err = m.db.QueryContext(ctx, `
			SELECT `+messageColumns+`, '', 0
			FROM messages m
			LEFT JOIN users u ON u.id = m.sender_id
			WHERE `+scope.clause+`
			  AND m.id < ?
			  AND instr(casefold(m.content), casefold(?)) > 0
			ORDER BY m.id DESC
			LIMIT ?
		`, scope.arg, upperBound(cursor), term, limit)
	} else {
		match := ftsExpression(term)
		if match == "" {
			return emptySearchPage(), nil
		}
		rows, err = m.db.QueryContext(ctx, `
			SELECT `+messageColumns+`,
			       snippet(messages_fts, '`+HighlightOpen+`', '`+HighlightClose+`', '...', -1, 12),
			       offsets(messages_fts)
			FROM messages_fts
			JOIN messages m ON m.id = messages_fts.docid
			LEFT JOIN users u ON u.id = m.sender_id
			WHERE messages_fts MATCH ?
			  AND `+scope.clause+`
			  AND m.id < ?
			ORDER BY m.id DESC
			LIMIT ?
		`, match, scope.arg, upperBound(cursor), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]*types.SearchHit, 0, limit)
	for rows.Next() {
		var highlight, offsets string
		message, err := scanMessage(rows, &highlight, &offsets)
		if err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		items = append(items, &types.SearchHit{
			Message:   *message,
			Highlight: highlight,
			Rank:      hitCount(offsets),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search rows: %w", err)
	}

	reverse(items)
	page := &types.SearchPage{Items: items}
	if len(items) == limit {
		next := items[0].ID
		page.NextCursor = &next
	}
	return page, nil
}

func emptySearchPage() *types.SearchPage {
	return &types.SearchPage{Items: []*types.SearchHit{}}
}

// ftsExpression turns free text into an FTS4 MATCH expression where every
// whitespace-separated term must occur. Terms are quoted so operators and
// column filters typed by users are matched literally.
func ftsExpression(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, field := range fields {
		field = strings.ReplaceAll(field, `"`, "")
		if field == "" {
			continue
		}
		terms = append(terms, `"`+field+`"`)
	}
	return strings.Join(terms, " ")
}

// hitCount counts matched term occurrences in an FTS offsets() result,
// which lists four integers per occurrence
func hitCount(offsets string) int {
	return len(strings.Fields(offsets)) / 4
}
