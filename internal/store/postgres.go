package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	postgresMinConns = 1
	postgresMaxConns = 10
)

// Postgres stores messages in PostgreSQL through a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres creates the pool, verifies connectivity, and applies the schema.
func OpenPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	cfg.MinConns = postgresMinConns
	cfg.MaxConns = postgresMaxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	store := NewPostgres(pool)
	if err := store.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements(postgresSchema) {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Ping checks connectivity and logs the server version.
func (p *Postgres) Ping(ctx context.Context) error {
	var version string
	if err := p.pool.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	log.Printf("Database connection successful! PostgreSQL version: %s", version)
	return nil
}

// AppendMessage inserts one message.
func (p *Postgres) AppendMessage(ctx context.Context, msg Message) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO messages (room_id, user_id, text, created_at) VALUES ($1, $2, $3, $4)`,
		msg.RoomID, msg.UserID, msg.Text, msg.Timestamp.UTC())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// FetchPage returns up to limit messages of roomID older than before,
// newest first.
func (p *Postgres) FetchPage(ctx context.Context, roomID string, before *time.Time, limit int) (Page, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if before != nil {
		rows, err = p.pool.Query(ctx,
			`SELECT user_id, text, created_at FROM messages
			  WHERE room_id = $1 AND created_at < $2
			  ORDER BY created_at DESC LIMIT $3`,
			roomID, before.UTC(), limit)
	} else {
		rows, err = p.pool.Query(ctx,
			`SELECT user_id, text, created_at FROM messages
			  WHERE room_id = $1
			  ORDER BY created_at DESC LIMIT $2`,
			roomID, limit)
	}
	if err != nil {
		return Page{}, fmt.Errorf("query messages: %w", err)
	}

	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		m := Message{RoomID: roomID}
		if err := row.Scan(&m.UserID, &m.Text, &m.Timestamp); err != nil {
			return Message{}, err
		}
		m.Timestamp = m.Timestamp.UTC()
		return m, nil
	})
	if err != nil {
		return Page{}, fmt.Errorf("scan messages: %w", err)
	}
	return newPage(messages), nil
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
