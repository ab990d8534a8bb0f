/**
 * PostgreSQL Client for the OCR worker
 *
 * Owns the connection pool shared by the OCR run and review queue
 * repositories, and applies the embedded schema migrations.
 */

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	_ "github.com/lib/pq"
)

// DBTX is the subset of *sql.DB and *sql.Tx the repositories need
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// PostgresClient handles database operations
type PostgresClient struct {
	db *sql.DB
}

// NewPostgresClient creates a new PostgreSQL client
func NewPostgresClient(databaseURL string) (*PostgresClient, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	// Connect to database
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(2 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresClient{db: db}, nil
}

// DB exposes the pool for repositories
func (p *PostgresClient) DB() *sql.DB {
	return p.db
}

// OCR returns the OCR run repository backed by this client
func (p *PostgresClient) OCR() *OCRRepository {
	return NewOCRRepository(p.db)
}

// ReviewQueue returns the review queue repository backed by this client
func (p *PostgresClient) ReviewQueue() *ReviewQueueRepository {
	return NewReviewQueueRepository(p.db)
}

// Ping checks database connectivity
func (p *PostgresClient) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the database connection
func (p *PostgresClient) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

// GetStats returns connection pool statistics
func (p *PostgresClient) GetStats() map[string]interface{} {
	stats := p.db.Stats()
	return map[string]interface{}{
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration":        stats.WaitDuration.String(),
	}
}

var (
	nullEscape    = regexp.MustCompile(`\\u0000`)
	controlEscape = regexp.MustCompile(`\\u00[01][0-9a-fA-F]`)
)

// marshalJSONB encodes v for a jsonb parameter. A nil map becomes SQL NULL.
func marshalJSONB(v map[string]interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal jsonb: %w", err)
	}
	return string(sanitizeJSONForPostgres(data)), nil
}

// unmarshalJSONB decodes a nullable jsonb column.
func unmarshalJSONB(raw []byte) (map[string]interface{}, error) {
	if raw == nil {
		return nil, nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal jsonb: %w", err)
	}
	return out, nil
}

// sanitizeJSONForPostgres removes escape sequences PostgreSQL JSONB rejects.
// OCR output of damaged scans regularly contains NUL and other control characters.
func sanitizeJSONForPostgres(jsonBytes []byte) []byte {
	result := nullEscape.ReplaceAll(jsonBytes, []byte{})
	return controlEscape.ReplaceAll(result, []byte(" "))
}
