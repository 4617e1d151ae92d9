package sqlite_test

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/canmetro/turnstiled/internal/db"
	sqlitestore "github.com/canmetro/turnstiled/internal/turnstile/telemetry/sqlite"
)

// openTestDB returns an in-memory SQLite connection with the same
// PRAGMAs and schema as production. Closed automatically when the test
// finishes.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	// Each call gets a unique in-memory database. The shared-cache URI
	// keeps it alive for the lifetime of the connection pool.
	dsn := fmt.Sprintf(
		"file:test_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)",
		t.Name(),
	)

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("openTestDB: sql.Open: %v", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	if err := conn.Ping(); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: ping: %v", err)
	}

	if err := db.Migrate(context.Background(), conn); err != nil {
		conn.Close()
		t.Fatalf("openTestDB: migrate: %v", err)
	}

	t.Cleanup(func() { conn.Close() })
	return conn
}

// newTestStore returns a Store backed by an in-memory database. The
// writer is closed automatically when the test finishes.
func newTestStore(t *testing.T) (*sqlitestore.Store, *sql.DB) {
	t.Helper()

	conn := openTestDB(t)
	w := db.NewWorker(conn)
	t.Cleanup(func() { w.Close() })

	return sqlitestore.NewStore(conn, w, log.New(io.Discard, "", 0)), conn
}
