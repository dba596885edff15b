// Package store persists chat messages and serves keyset-paginated history.
//
// Two backends share the same contract: Postgres through pgx for production
// and SQLite through modernc.org/sqlite for local development and tests.
package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnsupportedURL is returned by Open for database URLs it cannot route.
var ErrUnsupportedURL = errors.New("unsupported database url")

// Message is one stored chat line.
type Message struct {
	RoomID    string
	UserID    string
	Text      string
	Timestamp time.Time
}

// Page is a newest-first slice of a room's history. NextCursor is the
// timestamp of the last message in the page, nil when the page is empty.
type Page struct {
	Messages   []Message
	NextCursor *time.Time
}

// Store is implemented by every backend.
type Store interface {
	AppendMessage(ctx context.Context, msg Message) error
	FetchPage(ctx context.Context, roomID string, before *time.Time, limit int) (Page, error)
	Ping(ctx context.Context) error
	Close() error
}

var (
	//go:embed schema_postgres.sql
	postgresSchema string
	//go:embed schema_sqlite.sql
	sqliteSchema string
)

// Open connects to the backend selected by the URL scheme: postgres:// or
// postgresql:// for Postgres, sqlite: for SQLite (sqlite::memory: for an
// in-memory database). The schema is applied before Open returns.
func Open(ctx context.Context, databaseURL string) (Store, error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		pg, err := OpenPostgres(ctx, databaseURL)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case strings.HasPrefix(databaseURL, "sqlite:"):
		lite, err := OpenSQLite(ctx, strings.TrimPrefix(databaseURL, "sqlite:"))
		if err != nil {
			return nil, err
		}
		return lite, nil
	case databaseURL == "":
		return nil, fmt.Errorf("%w: DATABASE_URL is empty", ErrUnsupportedURL)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedURL, redact(databaseURL))
	}
}

// newPage wraps newest-first rows and derives the cursor.
func newPage(messages []Message) Page {
	page := Page{Messages: messages}
	if len(messages) > 0 {
		last := messages[len(messages)-1].Timestamp
		page.NextCursor = &last
	}
	return page
}

// redact strips credentials from a URL before it is logged.
func redact(databaseURL string) string {
	scheme, rest, ok := strings.Cut(databaseURL, "://")
	if !ok {
		return databaseURL
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		rest = "***@" + rest[at+1:]
	}
	return scheme + "://" + rest
}

// schemaStatements splits an embedded schema into single statements.
func schemaStatements(schema string) []string {
	var statements []string
	for _, stmt := range strings.Split(schema, ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			statements = append(statements, stmt)
		}
	}
	return statements
}
