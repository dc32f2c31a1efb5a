package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Separate validation component enables testing
// and deployment verification without coupling to migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"users":             "User directory",
		"channels":          "Channel catalogue",
		"channel_members":   "Channel membership",
		"messages":          "Message history",
		"reactions":         "Message reactions",
		"read_states":       "Per-user read markers",
		"messages_fts":      "Full-text message index",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.tableExists(table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies table column structure matches expectations
// TECHNICAL DISCOVERY: Column validation ensures type compatibility between
// Go structs and database schema
func (v *SchemaValidator) ValidateTableStructure() error {
	tables := []struct {
		name    string
		columns map[string]string
	}{
		{"channels", map[string]string{
			"id":         "INTEGER",
			"name":       "TEXT",
			"created_by": "TEXT",
			"created_at": "DATETIME",
		}},
		{"channel_members", map[string]string{
			"channel_id": "INTEGER",
			"user_id":    "TEXT",
			"role":       "TEXT",
			"joined_at":  "DATETIME",
		}},
		{"messages", map[string]string{
			"id":         "INTEGER",
			"channel_id": "INTEGER",
			"sender_id":  "TEXT",
			"content":    "TEXT",
			"created_at": "DATETIME",
			"updated_at": "DATETIME",
		}},
		{"reactions", map[string]string{
			"message_id": "INTEGER",
			"user_id":    "TEXT",
			"emoji":      "TEXT",
		}},
		{"read_states", map[string]string{
			"user_id":              "TEXT",
			"channel_id":           "INTEGER",
			"last_read_message_id": "INTEGER",
		}},
	}

	for _, table := range tables {
		if err := v.validateColumns(table.name, table.columns); err != nil {
			return fmt.Errorf("%s table structure invalid: %w", table.name, err)
		}
	}

	return nil
}

// ValidateIndexes verifies that all performance indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_channel_members_user": "Channels of a user",
		"idx_messages_channel_id":  "Keyset history pagination",
		"idx_messages_sender":      "Author lookups",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.indexExists(index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

// ValidateConstraints verifies that database constraints are properly enforced.
// The probes run inside a transaction that is always rolled back.
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin constraint probe: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// messages.channel_id -> channels.id
	_, err = tx.Exec(`
		INSERT INTO messages (channel_id, sender_id, content, created_at)
		VALUES (-1, 'probe', 'probe', CURRENT_TIMESTAMP)
	`)
	if err == nil {
		return fmt.Errorf("foreign key constraint not enforced: messages.channel_id")
	}

	res, err := tx.Exec(`
		INSERT INTO channels (name, created_by, created_at)
		VALUES ('__constraint_probe__', 'probe', CURRENT_TIMESTAMP)
	`)
	if err != nil {
		return fmt.Errorf("failed to create probe channel: %w", err)
	}
	channelID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read probe channel id: %w", err)
	}

	_, err = tx.Exec(`
		INSERT INTO channel_members (channel_id, user_id, role, joined_at)
		VALUES (?, 'probe', 'admin', CURRENT_TIMESTAMP)
	`, channelID)
	if err == nil {
		return fmt.Errorf("check constraint not enforced: channel_members.role")
	}

	// Channel names are unique regardless of case
	_, err = tx.Exec(`
		INSERT INTO channels (name, created_by, created_at)
		VALUES ('__CONSTRAINT_PROBE__', 'probe', CURRENT_TIMESTAMP)
	`)
	if err == nil {
		return fmt.Errorf("unique constraint not enforced: channels.name")
	}

	return nil
}

// tableExists checks if a table exists in the database
func (v *SchemaValidator) tableExists(tableName string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
		tableName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// indexExists checks if an index exists in the database
func (v *SchemaValidator) indexExists(indexName string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?",
		indexName,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull int
		var defaultValue interface{}
		var pk int

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}

	return nil
}
