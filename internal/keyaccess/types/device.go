package types

import "time"

type LockType string

const (
	LockSimulation  LockType = "simulation"
	LockMQTT        LockType = "mqtt"
	LockVendorCloud LockType = "vendor_cloud"
)

// DeviceConfig binds a physical lock to a room and names its driver.
type DeviceConfig struct {
	DeviceID string            `json:"device_id"`
	RoomID   string            `json:"room_id"`
	LockType LockType          `json:"lock_type"`
	Enabled  bool              `json:"enabled"`
	Metadata map[string]string `json:"metadata,omitempty"`
	LastSeen *time.Time        `json:"last_seen,omitempty"`
}

type RegisterDeviceRequest struct {
	DeviceID string            `json:"device_id"`
	RoomID   string            `json:"room_id"`
	LockType LockType          `json:"lock_type"`
	Metadata map[string]string `json:"metadata,omitempty"`
}
