// Package lock puts every lock vendor behind one Provider interface and
// selects a driver per device through a Registry.
package lock

import (
	"context"
	"errors"
	"time"
)

// Error codes carried in Result.ErrorCode. Drivers may pass through vendor
// specific codes as well.
const (
	CodeTimeout       = "TIMEOUT"
	CodeUnreachable   = "UNREACHABLE"
	CodeDeviceUnknown = "DEVICE_UNKNOWN"
	CodeJammed        = "JAMMED"
	CodeRejected      = "REJECTED"
)

var (
	ErrProviderNotConfigured = errors.New("lock: no provider for lock type")
	ErrUnknownDevice         = errors.New("lock: unknown device")
	ErrDeviceDisabled        = errors.New("lock: device disabled")
)

// Result is the outcome of an actuation. A failed actuation is a Result with
// Success false, never an error.
type Result struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	ErrorCode string    `json:"error_code,omitempty"`
}

type Status struct {
	DeviceID       string    `json:"device_id"`
	Online         bool      `json:"online"`
	Locked         bool      `json:"locked"`
	BatteryPercent *int      `json:"battery_percent,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
	Detail         string    `json:"detail,omitempty"`
}

type Provider interface {
	Unlock(ctx context.Context, deviceID, keyMaterial string) Result
	Lock(ctx context.Context, deviceID string) Result
	Status(ctx context.Context, deviceID string) (Status, error)
	RegisterDevice(ctx context.Context, deviceID string, metadata map[string]string) error
}

func failed(code, msg string) Result {
	return Result{Success: false, Message: msg, ErrorCode: code, Timestamp: time.Now().UTC()}
}

func succeeded(msg string) Result {
	return Result{Success: true, Message: msg, Timestamp: time.Now().UTC()}
}
