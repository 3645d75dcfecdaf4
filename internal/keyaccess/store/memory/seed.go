package memory

import (
	"time"

	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/types"
)

// DevSeed returns the same sample stay and simulation lock the sqlite dev
// seed inserts, anchored at now.
func DevSeed(now time.Time) (types.Booking, types.DeviceConfig) {
	b := types.Booking{
		ID:         "bk-dev-001",
		RoomID:     "room-101",
		RoomNumber: "101",
		HotelID:    "hotel-dev",
		HotelName:  "Dev Hotel",
		GuestName:  "Dev Guest",
		GuestEmail: "guest@example.com",
		CheckIn:    now.Add(-2 * time.Hour),
		CheckOut:   now.Add(22 * time.Hour),
		Status:     types.BookingConfirmed,
	}
	d := types.DeviceConfig{
		DeviceID: "lock-101",
		RoomID:   "room-101",
		LockType: types.LockSimulation,
		Enabled:  true,
	}
	return b, d
}
