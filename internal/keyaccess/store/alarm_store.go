package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/types"
)

// AlarmStore holds timeout alarms. Raise is an upsert keyed by booking: a
// booking has at most one unresolved alarm, and raising again refreshes its
// overtime instead of creating a second one.
type AlarmStore interface {
	Raise(ctx context.Context, alarm types.TimeoutAlarm) (types.TimeoutAlarm, error)
	Open(ctx context.Context) ([]types.TimeoutAlarm, error)
	List(ctx context.Context, includeHandled bool) ([]types.TimeoutAlarm, error)
	Acknowledge(ctx context.Context, alarmID, staff string, at time.Time) (types.TimeoutAlarm, error)
	Resolve(ctx context.Context, bookingID string, at time.Time) error
}
