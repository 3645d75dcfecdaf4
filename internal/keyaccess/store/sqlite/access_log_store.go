package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Portunus/keyaccess/internal/db"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/types"
)

type AccessLogStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAccessLogStore(db *sql.DB, writer *dbpkg.Worker) *AccessLogStore {
	return &AccessLogStore{db: db, writer: writer}
}

func (s *AccessLogStore) Append(ctx context.Context, e types.AccessLog) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	var lat, lng any
	if e.Geo != nil {
		lat, lng = e.Geo.Lat, e.Geo.Lng
	}
	var success int
	if e.Success {
		success = 1
	}

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		// key_id is resolved against room_keys so an attempt carrying an
		// unknown id (forged or foreign token) still lands, with a NULL key.
		if _, err := tx.ExecContext(ctx, `
INSERT INTO access_logs(
  actor_id, key_id, booking_id, action, device_id, origin,
  geo_lat, geo_lng, success, error_message, at_ms
) VALUES (?, (SELECT key_id FROM room_keys WHERE key_id = ?), ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			nullString(e.ActorID), e.KeyID, nullString(e.BookingID), string(e.Action),
			nullString(e.DeviceID), nullString(e.Origin), lat, lng, success,
			nullString(e.ErrorMessage), e.At.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("Append access log: %w", err)
		}
		return nil
	})
}

// ListForKey returns the audit rows for one key, oldest first.
func (s *AccessLogStore) ListForKey(ctx context.Context, keyID string) ([]types.AccessLog, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, actor_id, key_id, booking_id, action, device_id, origin,
       geo_lat, geo_lng, success, error_message, at_ms
FROM access_logs
WHERE key_id = ?
ORDER BY at_ms, id;
`, keyID)
	if err != nil {
		return nil, fmt.Errorf("ListForKey query: %w", err)
	}
	defer rows.Close()

	var out []types.AccessLog
	for rows.Next() {
		var (
			e                                        types.AccessLog
			actor, key, booking, device, origin, msg sql.NullString
			action                                   string
			lat, lng                                 sql.NullFloat64
			success                                  int
			atMs                                     int64
		)
		if err := rows.Scan(&e.ID, &actor, &key, &booking, &action, &device, &origin,
			&lat, &lng, &success, &msg, &atMs); err != nil {
			return nil, fmt.Errorf("ListForKey scan: %w", err)
		}
		e.ActorID = actor.String
		e.KeyID = key.String
		e.BookingID = booking.String
		e.Action = types.AccessAction(action)
		e.DeviceID = device.String
		e.Origin = origin.String
		if lat.Valid && lng.Valid {
			e.Geo = &types.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
		}
		e.Success = success == 1
		e.ErrorMessage = msg.String
		e.At = time.UnixMilli(atMs).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
