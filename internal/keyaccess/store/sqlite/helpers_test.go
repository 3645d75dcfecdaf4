package sqlite_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/db"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/types"
)

// openTestDB returns a private in-memory database with production PRAGMAs
// and schema. Closed on test cleanup.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

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

func newTestWriter(t *testing.T, conn *sql.DB) *db.Worker {
	t.Helper()
	w := db.NewWorker(conn)
	t.Cleanup(func() { w.Close() })
	return w
}

func intPtr(n int) *int { return &n }

var testNow = time.Date(2025, 1, 14, 12, 0, 0, 0, time.UTC)

func testKey(id string, maxUses *int) types.RoomKey {
	return types.RoomKey{
		ID:          id,
		BookingID:   "bk-1",
		RoomID:      "room-1",
		Kind:        types.KeyKindDigital,
		KeyMaterial: "tok-" + id,
		ValidFrom:   testNow,
		ValidUntil:  testNow.Add(24 * time.Hour),
		MaxUses:     maxUses,
		Active:      true,
	}
}
