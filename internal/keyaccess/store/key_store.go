package store

import (
	"context"

	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/types"
)

// KeyStore persists issued room keys.
//
// FindActive returns (nil, nil) when no active, unrevoked key exists.
// Create returns the existing key together with ErrActiveKeyExists when the
// (booking, room, kind) triple already has one. IncrementUsage is a single
// conditional update; it returns ErrKeyInactive for a deactivated or revoked
// key and ErrUsageLimitExceeded once max uses is reached, in both cases
// without advancing the counter.
type KeyStore interface {
	FindActive(ctx context.Context, bookingID, roomID string, kind types.KeyKind) (*types.RoomKey, error)
	Get(ctx context.Context, keyID string) (*types.RoomKey, error)
	Create(ctx context.Context, key types.RoomKey) (types.RoomKey, error)
	IncrementUsage(ctx context.Context, keyID string) (types.RoomKey, error)
	Revoke(ctx context.Context, keyID string) error
	RevokeAllForBooking(ctx context.Context, bookingID string) (int64, error)
}
