package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"chatgate/internal/logger"
	"chatgate/pkg/interfaces"
	dbconfig "chatgate/pkg/database"
)

var log = logger.Named("database")

// driverName is go-sqlite3 with the casefold() SQL function registered on
// every connection. SQLite's built-in lower() only folds ASCII.
const driverName = "sqlite3_chatgate"

func init() {
	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("casefold", strings.ToLower, true)
		},
	})
}

var _ interfaces.DatabaseManager = (*Manager)(nil)

// Manager implements the DatabaseManager interface
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status
	retryDelay   time.Duration
}

// writeOperation represents a database write operation
type writeOperation struct {
	ctx       context.Context
	operation func(*sql.DB) error
	result    chan error
}

// NewManager creates a new database manager
func NewManager(config *dbconfig.Config) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open(driverName, dbconfig.DSN(config.DatabasePath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := applySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan writeOperation, 100), // TECHNICAL: Buffer for write operations prevents blocking
		shutdown:     make(chan struct{}),
		retryDelay:   5 * time.Second,
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// Migrate applies pending migrations and validates the resulting schema.
// MigrationsPath, when set, replaces the embedded migrations.
func (m *Manager) Migrate() error {
	var mm *dbconfig.MigrationManager
	if m.config.MigrationsPath != "" {
		mm = dbconfig.NewMigrationManager(m.db, os.DirFS(m.config.MigrationsPath))
	} else {
		mm = dbconfig.NewMigrationManager(m.db, nil)
	}

	if err := mm.ApplyMigrations(); err != nil {
		return err
	}
	if err := mm.ValidateSchema(); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	// FUNCTIONAL DISCOVERY: membership and uniqueness rules live in the schema,
	// a connection without foreign keys would silently skip them
	if err := dbconfig.NewSchemaValidator(m.db).ValidateConstraints(); err != nil {
		return fmt.Errorf("schema constraints not enforced: %w", err)
	}
	return nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- m.runWrite(op)

		case <-m.shutdown:
			log.Debug("Database write loop shutting down")
			return
		}
	}
}

// runWrite executes one operation, retrying transient failures once.
// Domain errors and cancelled contexts are returned without retry.
func (m *Manager) runWrite(op writeOperation) error {
	if err := op.ctx.Err(); err != nil {
		return err
	}

	err := op.operation(m.db)
	if err == nil || !isRetryable(err) || op.ctx.Err() != nil {
		return err
	}

	log.Warn("Database write failed, retrying", zap.Duration("delay", m.retryDelay), zap.Error(err))
	select {
	case <-time.After(m.retryDelay):
	case <-op.ctx.Done():
		return op.ctx.Err()
	case <-m.shutdown:
		return ErrShuttingDown
	}

	if err = op.operation(m.db); err != nil {
		log.Error("Database write failed after retry", zap.Error(err))
	}
	return err
}

// executeWrite queues a write operation and waits for completion
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	// TECHNICAL DISCOVERY: Check if manager is closed before attempting write
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)
	timeout := time.NewTimer(m.config.WriteTimeout)
	defer timeout.Stop()

	select {
	case m.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-timeout.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdown:
		return ErrShuttingDown
	}

	// The operation is queued; its result channel is buffered so the
	// writer never blocks on an abandoned caller.
	select {
	case err := <-result:
		return err
	case <-timeout.C:
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrShuttingDown
	}
}

// isRetryable reports whether a write error may succeed on a second attempt
func isRetryable(err error) bool {
	switch {
	case errors.Is(err, interfaces.ErrMessageNotFound),
		errors.Is(err, interfaces.ErrChannelNotFound),
		errors.Is(err, interfaces.ErrChannelExists),
		errors.Is(err, interfaces.ErrNotAuthor),
		errors.Is(err, interfaces.ErrNotMember),
		errors.Is(err, ErrInvalidRole),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return false
	}
	return true
}

// isConstraint reports whether err is the given SQLite extended constraint violation
func isConstraint(err error, code sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == code
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return ErrManagerClosed
	}

	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	// Test read operation to verify the schema is accessible
	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM channels").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	// ARCHITECTURAL DISCOVERY: Graceful shutdown requires careful goroutine coordination
	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// applySQLiteOptimizations applies performance optimizations
func applySQLiteOptimizations(db *sql.DB) error {
	for _, pragma := range dbconfig.SQLitePragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
