package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/mikey/mail-triage/internal/core"
)

// MySQLCache is a MySQL implementation of the CacheRepository interface
type MySQLCache struct {
	db     *sql.DB
	logger *zap.Logger
	stop   func()
}

// NewMySQLCache creates a new MySQL cache
func NewMySQLCache(dsn string, logger *zap.Logger, cleanupFreq time.Duration) (*MySQLCache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL database: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS triage_cache (
			cache_key VARCHAR(255) PRIMARY KEY,
			value MEDIUMBLOB NOT NULL,
			expires_at BIGINT NOT NULL,
			INDEX idx_triage_cache_expires_at (expires_at)
		)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}

	c := &MySQLCache{
		db:     db,
		logger: logger,
		stop:   func() {},
	}
	if cleanupFreq > 0 {
		c.stop = startCleanupTask(c, cleanupFreq, logger)
	}
	return c, nil
}

// Get returns a live entry or ErrCacheMiss
func (c *MySQLCache) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := c.db.QueryRowContext(ctx, `
		SELECT value FROM triage_cache
		WHERE cache_key = ? AND expires_at > ?
	`, key, time.Now().UnixNano()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cache: %w", err)
	}
	return value, nil
}

// Set stores a cache entry
func (c *MySQLCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO triage_cache (cache_key, value, expires_at)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			value = VALUES(value),
			expires_at = VALUES(expires_at)
	`, key, value, time.Now().Add(ttl).UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert cache entry: %w", err)
	}
	return nil
}

// SetNX stores a cache entry unless a live one exists. MySQL reports 1 affected row for an
// insert, 2 for an update and 0 when the live entry was kept.
func (c *MySQLCache) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	now := time.Now()
	result, err := c.db.ExecContext(ctx, `
		INSERT INTO triage_cache (cache_key, value, expires_at)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			value = IF(expires_at <= ?, VALUES(value), value),
			expires_at = IF(expires_at <= ?, VALUES(expires_at), expires_at)
	`, key, value, now.Add(ttl).UnixNano(), now.UnixNano(), now.UnixNano())
	if err != nil {
		return false, fmt.Errorf("failed to insert cache entry: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}

// Delete removes a cache entry
func (c *MySQLCache) Delete(ctx context.Context, key string) error {
	_, err := c.db.ExecContext(ctx, `
		DELETE FROM triage_cache
		WHERE cache_key = ?
	`, key)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Cleanup removes expired entries
func (c *MySQLCache) Cleanup(ctx context.Context) error {
	result, err := c.db.ExecContext(ctx, `
		DELETE FROM triage_cache
		WHERE expires_at <= ?
	`, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to clean up expired entries: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		c.logger.Warn("Failed to get rows affected during cleanup", zap.Error(err))
	} else {
		c.logger.Debug("Cleaned up expired cache entries", zap.Int64("expired_count", rowsAffected))
	}
	return nil
}

// Stop stops the background cleanup task and closes the database connection
func (c *MySQLCache) Stop() {
	c.stop()
	if err := c.db.Close(); err != nil {
		c.logger.Error("Failed to close MySQL database", zap.Error(err))
	}
}
