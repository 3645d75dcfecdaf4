package types

import (
	"strings"
	"time"
)

const (
	BookingPending    = "pending"
	BookingConfirmed  = "confirmed"
	BookingCheckedIn  = "checked_in"
	BookingCheckedOut = "checked_out"
	BookingCancelled  = "cancelled"
)

// Booking is the slice of the reservation record this service reads.
type Booking struct {
	ID                string     `json:"id"`
	RoomID            string     `json:"room_id"`
	RoomNumber        string     `json:"room_number"`
	HotelID           string     `json:"hotel_id"`
	HotelName         string     `json:"hotel_name"`
	GuestName         string     `json:"guest_name"`
	GuestEmail        string     `json:"guest_email"`
	CheckIn           time.Time  `json:"check_in"`
	CheckOut          time.Time  `json:"check_out"`
	Status            string     `json:"status"`
	TimeoutNotifiedAt *time.Time `json:"timeout_notified_at,omitempty"`
}

// Open reports whether the stay has not been formally closed.
func (b Booking) Open() bool {
	switch strings.ToLower(b.Status) {
	case BookingPending, BookingConfirmed, BookingCheckedIn:
		return true
	}
	return false
}

// OverdueHandled reports whether checkout enforcement already ran for the
// current check-out time. A marker older than CheckOut belongs to a stay
// that has since been extended.
func (b Booking) OverdueHandled() bool {
	return b.TimeoutNotifiedAt != nil && !b.TimeoutNotifiedAt.Before(b.CheckOut)
}

// StayWindow is the inclusive interval during which a booking's keys work.
type StayWindow struct {
	Start time.Time
	End   time.Time
}

func (w StayWindow) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

func (b Booking) Window(early time.Duration) StayWindow {
	return StayWindow{Start: b.CheckIn.Add(-early), End: b.CheckOut}
}
