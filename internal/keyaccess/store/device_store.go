package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/types"
)

// DeviceStore maps rooms to their lock devices.
type DeviceStore interface {
	ForRoom(ctx context.Context, roomID string) (*types.DeviceConfig, error)
	Get(ctx context.Context, deviceID string) (*types.DeviceConfig, error)
	Upsert(ctx context.Context, cfg types.DeviceConfig) error
	MarkSeen(ctx context.Context, deviceID string, t time.Time) error
}
