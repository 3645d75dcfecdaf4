package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Portunus/keyaccess/internal/db"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/store"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/types"
)

const bookingColumns = `booking_id, room_id, room_number, hotel_id, hotel_name,
  guest_name, guest_email, check_in_ms, check_out_ms, status, timeout_notified_at_ms`

type BookingStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewBookingStore(db *sql.DB, writer *dbpkg.Worker) *BookingStore {
	return &BookingStore{db: db, writer: writer}
}

func scanBooking(r rowScanner) (types.Booking, error) {
	var (
		b           types.Booking
		inMs, outMs int64
		notifiedMs  sql.NullInt64
	)
	if err := r.Scan(&b.ID, &b.RoomID, &b.RoomNumber, &b.HotelID, &b.HotelName,
		&b.GuestName, &b.GuestEmail, &inMs, &outMs, &b.Status, &notifiedMs); err != nil {
		return types.Booking{}, err
	}
	b.CheckIn = time.UnixMilli(inMs).UTC()
	b.CheckOut = time.UnixMilli(outMs).UTC()
	if notifiedMs.Valid {
		t := time.UnixMilli(notifiedMs.Int64).UTC()
		b.TimeoutNotifiedAt = &t
	}
	return b, nil
}

// Put inserts or replaces a booking row. The reservation system normally
// owns these; Put exists for imports and tests.
func (s *BookingStore) Put(ctx context.Context, b types.Booking) error {
	nowMs := time.Now().UTC().UnixMilli()
	var notified any
	if b.TimeoutNotifiedAt != nil {
		notified = b.TimeoutNotifiedAt.UTC().UnixMilli()
	}
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO bookings(`+bookingColumns+`, created_at_ms, updated_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(booking_id) DO UPDATE SET
  room_id = excluded.room_id,
  room_number = excluded.room_number,
  hotel_id = excluded.hotel_id,
  hotel_name = excluded.hotel_name,
  guest_name = excluded.guest_name,
  guest_email = excluded.guest_email,
  check_in_ms = excluded.check_in_ms,
  check_out_ms = excluded.check_out_ms,
  status = excluded.status,
  timeout_notified_at_ms = excluded.timeout_notified_at_ms,
  updated_at_ms = excluded.updated_at_ms;
`,
			b.ID, b.RoomID, b.RoomNumber, b.HotelID, b.HotelName,
			b.GuestName, b.GuestEmail, b.CheckIn.UTC().UnixMilli(), b.CheckOut.UTC().UnixMilli(),
			b.Status, notified, nowMs, nowMs,
		); err != nil {
			return fmt.Errorf("Put booking: %w", err)
		}
		return nil
	})
}

func (s *BookingStore) Get(ctx context.Context, bookingID string) (*types.Booking, error) {
	b, err := scanBooking(s.db.QueryRowContext(ctx, `
SELECT `+bookingColumns+` FROM bookings WHERE booking_id = ?;
`, bookingID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get booking: %w", err)
	}
	return &b, nil
}

func (s *BookingStore) ListOverdue(ctx context.Context, now time.Time) ([]types.Booking, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+bookingColumns+`
FROM bookings
WHERE status IN (?, ?, ?)
  AND check_out_ms < ?
ORDER BY check_out_ms;
`, types.BookingPending, types.BookingConfirmed, types.BookingCheckedIn, now.UTC().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("ListOverdue query: %w", err)
	}
	defer rows.Close()

	var out []types.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("ListOverdue scan: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *BookingStore) UpdateStatus(ctx context.Context, bookingID, status string) error {
	return s.updateOne(ctx, "UpdateStatus", `
UPDATE bookings SET status = ?, updated_at_ms = ? WHERE booking_id = ?;
`, status, time.Now().UTC().UnixMilli(), bookingID)
}

func (s *BookingStore) MarkTimeoutNotified(ctx context.Context, bookingID string, at time.Time) error {
	return s.updateOne(ctx, "MarkTimeoutNotified", `
UPDATE bookings SET timeout_notified_at_ms = ?, updated_at_ms = ? WHERE booking_id = ?;
`, at.UTC().UnixMilli(), time.Now().UTC().UnixMilli(), bookingID)
}

func (s *BookingStore) updateOne(ctx context.Context, op, query string, args ...any) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}
