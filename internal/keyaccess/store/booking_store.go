package store

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/types"
)

// BookingStore is the read/notify surface of the reservation system.
// ListOverdue returns open bookings whose checkout is before now, oldest
// checkout first, including ones already marked timeout-notified so alarms
// can be re-derived after a restart.
type BookingStore interface {
	Get(ctx context.Context, bookingID string) (*types.Booking, error)
	ListOverdue(ctx context.Context, now time.Time) ([]types.Booking, error)
	UpdateStatus(ctx context.Context, bookingID, status string) error
	MarkTimeoutNotified(ctx context.Context, bookingID string, at time.Time) error
}
