package types

import "time"

type AccessAction string

const (
	ActionUnlock          AccessAction = "unlock"
	ActionKeyVerification AccessAction = "key_verification"
	ActionLock            AccessAction = "lock"
)

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// AccessLog is one append-only audit row. ActorID is empty for anonymous
// device calls; KeyID is empty when no key could be resolved.
type AccessLog struct {
	ID           int64        `json:"id,omitempty"`
	ActorID      string       `json:"actor_id,omitempty"`
	KeyID        string       `json:"key_id,omitempty"`
	BookingID    string       `json:"booking_id,omitempty"`
	Action       AccessAction `json:"action"`
	DeviceID     string       `json:"device_id,omitempty"`
	Origin       string       `json:"origin,omitempty"`
	Geo          *GeoPoint    `json:"geo,omitempty"`
	Success      bool         `json:"success"`
	ErrorMessage string       `json:"error_message,omitempty"`
	At           time.Time    `json:"at"`
}

// AccountRequest is a guest-initiated request where the server resolves the
// key itself (unlock, lock, credential issuance).
type AccountRequest struct {
	BookingID string    `json:"booking_id"`
	Subject   string    `json:"-"`
	Origin    string    `json:"-"`
	Geo       *GeoPoint `json:"geo,omitempty"`
}

// VerifyRequest is the device-facing path: a bare token presented at a lock.
type VerifyRequest struct {
	Token    string    `json:"token"`
	DeviceID string    `json:"device_id"`
	RoomID   string    `json:"room_id"`
	Origin   string    `json:"-"`
	Geo      *GeoPoint `json:"geo,omitempty"`
}

// UnlockResponse is returned on a successful actuation. RemainingUses is nil
// when the key has no usage ceiling.
type UnlockResponse struct {
	OK            bool      `json:"ok"`
	KeyID         string    `json:"key_id"`
	RoomNumber    string    `json:"room_number"`
	HotelName     string    `json:"hotel_name"`
	ActuatedAt    time.Time `json:"actuated_at"`
	RemainingUses *int      `json:"remaining_uses"`
	Unlimited     bool      `json:"unlimited"`
	ValidUntil    time.Time `json:"valid_until"`
	Message       string    `json:"message,omitempty"`
}

// CredentialResponse carries a displayable credential. Exactly one of QRCode
// or NFCRecord is set depending on Kind.
type CredentialResponse struct {
	KeyID         string    `json:"key_id"`
	Kind          KeyKind   `json:"kind"`
	Token         string    `json:"token"`
	QRCode        string    `json:"qr_code,omitempty"`
	NFCRecord     string    `json:"nfc_record,omitempty"`
	RoomNumber    string    `json:"room_number"`
	HotelName     string    `json:"hotel_name"`
	ValidFrom     time.Time `json:"valid_from"`
	ValidUntil    time.Time `json:"valid_until"`
	RemainingUses *int      `json:"remaining_uses"`
	Unlimited     bool      `json:"unlimited"`
}
