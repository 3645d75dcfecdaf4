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

const keyColumns = `key_id, booking_id, room_id, kind, key_material,
  valid_from_ms, valid_until_ms, max_uses, used_count, active, revoked,
  created_at_ms, updated_at_ms`

type KeyStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewKeyStore(db *sql.DB, writer *dbpkg.Worker) *KeyStore {
	return &KeyStore{db: db, writer: writer}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(r rowScanner) (types.RoomKey, error) {
	var (
		k                    types.RoomKey
		kind                 string
		fromMs, untilMs      int64
		maxUses              sql.NullInt64
		active, revoked      int
		createdMs, updatedMs int64
	)
	if err := r.Scan(&k.ID, &k.BookingID, &k.RoomID, &kind, &k.KeyMaterial,
		&fromMs, &untilMs, &maxUses, &k.UsedCount, &active, &revoked,
		&createdMs, &updatedMs); err != nil {
		return types.RoomKey{}, err
	}
	k.Kind = types.KeyKind(kind)
	k.ValidFrom = time.UnixMilli(fromMs).UTC()
	k.ValidUntil = time.UnixMilli(untilMs).UTC()
	if maxUses.Valid {
		n := int(maxUses.Int64)
		k.MaxUses = &n
	}
	k.Active = active == 1
	k.Revoked = revoked == 1
	k.CreatedAt = time.UnixMilli(createdMs).UTC()
	k.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return k, nil
}

func (s *KeyStore) FindActive(ctx context.Context, bookingID, roomID string, kind types.KeyKind) (*types.RoomKey, error) {
	k, err := scanKey(s.db.QueryRowContext(ctx, `
SELECT `+keyColumns+`
FROM room_keys
WHERE booking_id = ? AND room_id = ? AND kind = ? AND active = 1 AND revoked = 0;
`, bookingID, roomID, string(kind)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("FindActive query: %w", err)
	}
	return &k, nil
}

func (s *KeyStore) Get(ctx context.Context, keyID string) (*types.RoomKey, error) {
	k, err := scanKey(s.db.QueryRowContext(ctx, `
SELECT `+keyColumns+` FROM room_keys WHERE key_id = ?;
`, keyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("Get key: %w", err)
	}
	return &k, nil
}

func getKeyTx(ctx context.Context, tx *sql.Tx, keyID string) (types.RoomKey, error) {
	k, err := scanKey(tx.QueryRowContext(ctx, `
SELECT `+keyColumns+` FROM room_keys WHERE key_id = ?;
`, keyID))
	if errors.Is(err, sql.ErrNoRows) {
		return types.RoomKey{}, store.ErrNotFound
	}
	return k, err
}

func (s *KeyStore) Create(ctx context.Context, key types.RoomKey) (types.RoomKey, error) {
	now := time.Now().UTC()
	if key.CreatedAt.IsZero() {
		key.CreatedAt = now
	}
	key.UpdatedAt = now

	var maxUses any
	if key.MaxUses != nil {
		maxUses = *key.MaxUses
	}

	var out types.RoomKey
	var existsErr error
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if key.Usable() {
			existing, err := scanKey(tx.QueryRowContext(ctx, `
SELECT `+keyColumns+`
FROM room_keys
WHERE booking_id = ? AND room_id = ? AND kind = ? AND active = 1 AND revoked = 0;
`, key.BookingID, key.RoomID, string(key.Kind)))
			if err == nil {
				out, existsErr = existing, store.ErrActiveKeyExists
				return nil
			}
			if !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("Create check active: %w", err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO room_keys(`+keyColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			key.ID, key.BookingID, key.RoomID, string(key.Kind), key.KeyMaterial,
			key.ValidFrom.UTC().UnixMilli(), key.ValidUntil.UTC().UnixMilli(),
			maxUses, key.UsedCount, boolInt(key.Active), boolInt(key.Revoked),
			key.CreatedAt.UTC().UnixMilli(), key.UpdatedAt.UTC().UnixMilli(),
		); err != nil {
			return fmt.Errorf("Create insert: %w", err)
		}
		out = key
		return nil
	})
	if err != nil {
		return types.RoomKey{}, err
	}
	return out, existsErr
}

// IncrementUsage is one conditional UPDATE; a zero row count means the key
// is missing, no longer active, or at its ceiling.
func (s *KeyStore) IncrementUsage(ctx context.Context, keyID string) (types.RoomKey, error) {
	var out types.RoomKey
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE room_keys
SET used_count = used_count + 1,
    updated_at_ms = ?
WHERE key_id = ?
  AND active = 1
  AND revoked = 0
  AND (max_uses IS NULL OR used_count < max_uses);
`, time.Now().UTC().UnixMilli(), keyID)
		if err != nil {
			return fmt.Errorf("IncrementUsage update: %w", err)
		}
		n, _ := res.RowsAffected()
		k, err := getKeyTx(ctx, tx, keyID)
		if err != nil {
			return err
		}
		out = k
		switch {
		case n > 0:
			return nil
		case !k.Usable():
			return store.ErrKeyInactive
		default:
			return store.ErrUsageLimitExceeded
		}
	})
	if errors.Is(err, store.ErrUsageLimitExceeded) || errors.Is(err, store.ErrKeyInactive) {
		return out, err
	}
	if err != nil {
		return types.RoomKey{}, err
	}
	return out, nil
}

func (s *KeyStore) Revoke(ctx context.Context, keyID string) error {
	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		k, err := getKeyTx(ctx, tx, keyID)
		if err != nil {
			return err
		}
		if k.Revoked {
			return store.ErrAlreadyRevoked
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE room_keys SET active = 0, revoked = 1, updated_at_ms = ? WHERE key_id = ?;
`, time.Now().UTC().UnixMilli(), keyID); err != nil {
			return fmt.Errorf("Revoke: %w", err)
		}
		return nil
	})
}

func (s *KeyStore) RevokeAllForBooking(ctx context.Context, bookingID string) (int64, error) {
	var n int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
UPDATE room_keys
SET active = 0, revoked = 1, updated_at_ms = ?
WHERE booking_id = ? AND active = 1 AND revoked = 0;
`, time.Now().UTC().UnixMilli(), bookingID)
		if err != nil {
			return fmt.Errorf("RevokeAllForBooking: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
