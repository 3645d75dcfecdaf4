package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type SeedDevOptions struct {
	// Now anchors the sample stay; zero means time.Now().
	Now time.Time
}

// SeedDev inserts one open booking for today plus a simulation lock on its
// room so a fresh dev database can exercise unlock end to end.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	now := opt.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	nowMs := now.UnixMilli()
	checkIn := now.Add(-2 * time.Hour).UnixMilli()
	checkOut := now.Add(22 * time.Hour).UnixMilli()

	if _, err := db.ExecContext(ctx, `
INSERT INTO bookings(
  booking_id, room_id, room_number, hotel_id, hotel_name,
  guest_name, guest_email, check_in_ms, check_out_ms, status,
  created_at_ms, updated_at_ms
) VALUES ('bk-dev-001', 'room-101', '101', 'hotel-dev', 'Dev Hotel',
  'Dev Guest', 'guest@example.com', ?, ?, 'confirmed', ?, ?)
ON CONFLICT(booking_id) DO NOTHING;`, checkIn, checkOut, nowMs, nowMs); err != nil {
		return fmt.Errorf("seed booking: %w", err)
	}

	if _, err := db.ExecContext(ctx, `
INSERT INTO lock_devices(
  device_id, room_id, lock_type, enabled, created_at_ms, updated_at_ms
) VALUES ('lock-101', 'room-101', 'simulation', 1, ?, ?)
ON CONFLICT(device_id) DO UPDATE SET
  enabled = 1,
  updated_at_ms = excluded.updated_at_ms;`, nowMs, nowMs); err != nil {
		return fmt.Errorf("seed device lock-101: %w", err)
	}
	return nil
}
