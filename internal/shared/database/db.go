package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/fairwaylabs/mcp-gateway/internal/shared/models"
)

type DB struct {
	conn *sql.DB
}

// New creates a new database connection
func New(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(10)
	conn.SetConnMaxLifetime(5 * time.Minute)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	return &DB{conn: conn}, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks connectivity.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// InsertAudit persists one dispatch audit record
func (db *DB) InsertAudit(ctx context.Context, rec *models.AuditRecord) error {
	query := `
		INSERT INTO gateway_audit (
			id, tool, user_id, key_id, client_ip, success, error_kind, latency_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := db.conn.ExecContext(ctx,
		query,
		rec.ID,
		rec.Tool,
		nullable(rec.UserID),
		nullable(rec.KeyID),
		rec.ClientIP,
		rec.Success,
		nullable(rec.ErrorKind),
		rec.LatencyMs,
		rec.CreatedAt,
	)

	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
