package types

import "time"

type KeyKind string

const (
	KeyKindQR      KeyKind = "qr"
	KeyKindNFC     KeyKind = "nfc"
	KeyKindDigital KeyKind = "digital"
)

func (k KeyKind) Valid() bool {
	switch k {
	case KeyKindQR, KeyKindNFC, KeyKindDigital:
		return true
	}
	return false
}

// RoomKey is one issued credential for a (booking, room, kind) triple.
// MaxUses nil means unlimited.
type RoomKey struct {
	ID          string    `json:"id"`
	BookingID   string    `json:"booking_id"`
	RoomID      string    `json:"room_id"`
	Kind        KeyKind   `json:"kind"`
	KeyMaterial string    `json:"-"`
	ValidFrom   time.Time `json:"valid_from"`
	ValidUntil  time.Time `json:"valid_until"`
	MaxUses     *int      `json:"max_uses,omitempty"`
	UsedCount   int       `json:"used_count"`
	Active      bool      `json:"active"`
	Revoked     bool      `json:"revoked"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Usable reports whether the key may still be presented to a lock.
func (k RoomKey) Usable() bool {
	return k.Active && !k.Revoked
}

// RemainingUses returns nil for unlimited keys.
func (k RoomKey) RemainingUses() *int {
	if k.MaxUses == nil {
		return nil
	}
	n := *k.MaxUses - k.UsedCount
	if n < 0 {
		n = 0
	}
	return &n
}

func (k RoomKey) Exhausted() bool {
	return k.MaxUses != nil && k.UsedCount >= *k.MaxUses
}
