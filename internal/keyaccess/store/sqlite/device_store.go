package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Portunus/keyaccess/internal/db"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/store"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/types"
)

const deviceColumns = `device_id, room_id, lock_type, enabled, metadata_json, last_seen_at_ms`

type DeviceStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewDeviceStore(db *sql.DB, writer *dbpkg.Worker) *DeviceStore {
	return &DeviceStore{db: db, writer: writer}
}

func scanDevice(r rowScanner) (types.DeviceConfig, error) {
	var (
		d        types.DeviceConfig
		lockType string
		enabled  int
		meta     string
		seenMs   sql.NullInt64
	)
	if err := r.Scan(&d.DeviceID, &d.RoomID, &lockType, &enabled, &meta, &seenMs); err != nil {
		return types.DeviceConfig{}, err
	}
	d.LockType = types.LockType(lockType)
	d.Enabled = enabled == 1
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &d.Metadata); err != nil {
			return types.DeviceConfig{}, fmt.Errorf("device %s metadata: %w", d.DeviceID, err)
		}
	}
	if seenMs.Valid {
		t := time.UnixMilli(seenMs.Int64).UTC()
		d.LastSeen = &t
	}
	return d, nil
}

func (s *DeviceStore) ForRoom(ctx context.Context, roomID string) (*types.DeviceConfig, error) {
	return s.getOne(ctx, `SELECT `+deviceColumns+` FROM lock_devices WHERE room_id = ?;`, roomID)
}

func (s *DeviceStore) Get(ctx context.Context, deviceID string) (*types.DeviceConfig, error) {
	return s.getOne(ctx, `SELECT `+deviceColumns+` FROM lock_devices WHERE device_id = ?;`, deviceID)
}

func (s *DeviceStore) getOne(ctx context.Context, query string, arg string) (*types.DeviceConfig, error) {
	d, err := scanDevice(s.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get device: %w", err)
	}
	return &d, nil
}

// Upsert binds cfg.DeviceID to cfg.RoomID. A room holds one lock, so any
// other device previously bound to the room is removed first.
func (s *DeviceStore) Upsert(ctx context.Context, cfg types.DeviceConfig) error {
	meta := "{}"
	if len(cfg.Metadata) > 0 {
		b, err := json.Marshal(cfg.Metadata)
		if err != nil {
			return fmt.Errorf("Upsert device metadata: %w", err)
		}
		meta = string(b)
	}
	var enabled int
	if cfg.Enabled {
		enabled = 1
	}
	nowMs := time.Now().UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
DELETE FROM lock_devices WHERE room_id = ? AND device_id <> ?;
`, cfg.RoomID, cfg.DeviceID); err != nil {
			return fmt.Errorf("Upsert device clear room: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO lock_devices(
  device_id, room_id, lock_type, enabled, metadata_json, created_at_ms, updated_at_ms
) VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(device_id) DO UPDATE SET
  room_id = excluded.room_id,
  lock_type = excluded.lock_type,
  enabled = excluded.enabled,
  metadata_json = excluded.metadata_json,
  updated_at_ms = excluded.updated_at_ms;
`, cfg.DeviceID, cfg.RoomID, string(cfg.LockType), enabled, meta, nowMs, nowMs); err != nil {
			return fmt.Errorf("Upsert device: %w", err)
		}
		return nil
	})
}

func (s *DeviceStore) MarkSeen(ctx context.Context, deviceID string, t time.Time) error {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
UPDATE lock_devices SET last_seen_at_ms = ? WHERE device_id = ?;
`, t.UTC().UnixMilli(), deviceID); err != nil {
			return fmt.Errorf("MarkSeen: %w", err)
		}
		return nil
	})
}
