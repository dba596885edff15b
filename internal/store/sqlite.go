package store

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// sqliteTimeLayout is fixed width so text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLite stores messages in a SQLite database file or in memory.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens path (":memory:" for an in-memory database) and applies
// the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: every :memory: connection would be its own database,
	// and SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	store := &SQLite{db: db}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, stmt := range schemaStatements(sqliteSchema) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return store, nil
}

// Ping checks connectivity and logs the library version.
func (s *SQLite) Ping(ctx context.Context) error {
	var version string
	if err := s.db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err != nil {
		return fmt.Errorf("sqlite ping: %w", err)
	}
	log.Printf("Database connection successful! SQLite version: %s", version)
	return nil
}

// AppendMessage inserts one message.
func (s *SQLite) AppendMessage(ctx context.Context, msg Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (room_id, user_id, text, created_at) VALUES (?, ?, ?, ?)`,
		msg.RoomID, msg.UserID, msg.Text, msg.Timestamp.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// FetchPage returns up to limit messages of roomID older than before,
// newest first.
func (s *SQLite) FetchPage(ctx context.Context, roomID string, before *time.Time, limit int) (Page, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if before != nil {
		rows, err = s.db.QueryContext(ctx,
			`SELECT user_id, text, created_at FROM messages
			  WHERE room_id = ? AND created_at < ?
			  ORDER BY created_at DESC LIMIT ?`,
			roomID, before.UTC().Format(sqliteTimeLayout), limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT user_id, text, created_at FROM messages
			  WHERE room_id = ?
			  ORDER BY created_at DESC LIMIT ?`,
			roomID, limit)
	}
	if err != nil {
		return Page{}, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			m         = Message{RoomID: roomID}
			createdAt string
		)
		if err := rows.Scan(&m.UserID, &m.Text, &createdAt); err != nil {
			return Page{}, fmt.Errorf("scan message: %w", err)
		}
		if m.Timestamp, err = time.Parse(sqliteTimeLayout, createdAt); err != nil {
			return Page{}, fmt.Errorf("parse created_at %q: %w", createdAt, err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("iterate messages: %w", err)
	}
	return newPage(messages), nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
