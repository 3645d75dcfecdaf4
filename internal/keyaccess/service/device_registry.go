package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/lock"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/store"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/types"
)

// DeviceRegistry resolves the lock on a room and the driver behind it.
type DeviceRegistry struct {
	store  store.DeviceStore
	locks  *lock.Registry
	logger *log.Logger
}

func NewDeviceRegistry(st store.DeviceStore, locks *lock.Registry, logger *log.Logger) *DeviceRegistry {
	return &DeviceRegistry{store: st, locks: locks, logger: logger}
}

// ForRoom returns the room's device once it is known to be actuatable.
func (r *DeviceRegistry) ForRoom(ctx context.Context, roomID string) (types.DeviceConfig, error) {
	dev, err := r.store.ForRoom(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return types.DeviceConfig{}, accessErr(KindProviderNotConfigured, "no lock configured for room %s", roomID)
	}
	if err != nil {
		return types.DeviceConfig{}, err
	}
	if !dev.Enabled {
		return types.DeviceConfig{}, accessErr(KindProviderNotConfigured, "lock %s is disabled", dev.DeviceID)
	}
	if _, err := r.locks.Provider(dev.LockType); err != nil {
		return types.DeviceConfig{}, &AccessError{
			Kind:    KindProviderNotConfigured,
			Message: "no driver for lock type " + string(dev.LockType),
			Err:     err,
		}
	}
	return *dev, nil
}

func (r *DeviceRegistry) Unlock(ctx context.Context, dev types.DeviceConfig, keyMaterial string) (lock.Result, error) {
	res, err := r.locks.Unlock(ctx, dev, keyMaterial)
	if err != nil {
		return lock.Result{}, &AccessError{Kind: KindProviderNotConfigured, Message: err.Error(), Err: err}
	}
	r.noteSeen(ctx, dev.DeviceID, res)
	return res, nil
}

func (r *DeviceRegistry) Lock(ctx context.Context, dev types.DeviceConfig) (lock.Result, error) {
	res, err := r.locks.Lock(ctx, dev)
	if err != nil {
		return lock.Result{}, &AccessError{Kind: KindProviderNotConfigured, Message: err.Error(), Err: err}
	}
	r.noteSeen(ctx, dev.DeviceID, res)
	return res, nil
}

func (r *DeviceRegistry) noteSeen(ctx context.Context, deviceID string, res lock.Result) {
	if !res.Success {
		return
	}
	if err := r.store.MarkSeen(ctx, deviceID, res.Timestamp); err != nil {
		r.logger.Printf("device mark seen failed device=%s err=%v", deviceID, err)
	}
}

// Register validates req, hands the device to its driver and stores the
// room binding. A room holds one device; re-registering moves the room.
func (r *DeviceRegistry) Register(ctx context.Context, req types.RegisterDeviceRequest) (types.DeviceConfig, error) {
	dev := types.DeviceConfig{
		DeviceID: strings.TrimSpace(req.DeviceID),
		RoomID:   strings.TrimSpace(req.RoomID),
		LockType: req.LockType,
		Enabled:  true,
		Metadata: req.Metadata,
	}
	if dev.DeviceID == "" || dev.RoomID == "" {
		return types.DeviceConfig{}, accessErr(KindInvalidRequest, "device_id and room_id are required")
	}
	if dev.LockType == "" {
		dev.LockType = types.LockSimulation
	}
	if _, err := r.locks.Provider(dev.LockType); err != nil {
		return types.DeviceConfig{}, &AccessError{
			Kind:    KindProviderNotConfigured,
			Message: "no driver for lock type " + string(dev.LockType),
			Err:     err,
		}
	}
	if err := r.locks.RegisterDevice(ctx, dev); err != nil {
		return types.DeviceConfig{}, &AccessError{Kind: KindActuationFailed, Message: err.Error(), Err: err}
	}
	if err := r.store.Upsert(ctx, dev); err != nil {
		return types.DeviceConfig{}, err
	}
	r.logger.Printf("device registered device=%s room=%s type=%s", dev.DeviceID, dev.RoomID, dev.LockType)
	return dev, nil
}

func (r *DeviceRegistry) Status(ctx context.Context, deviceID string) (lock.Status, error) {
	dev, err := r.store.Get(ctx, strings.TrimSpace(deviceID))
	if errors.Is(err, store.ErrNotFound) {
		return lock.Status{}, accessErr(KindNotFound, "device %s is not registered", deviceID)
	}
	if err != nil {
		return lock.Status{}, err
	}
	st, err := r.locks.Status(ctx, *dev)
	if errors.Is(err, lock.ErrProviderNotConfigured) {
		return lock.Status{}, &AccessError{Kind: KindProviderNotConfigured, Message: err.Error(), Err: err}
	}
	if errors.Is(err, lock.ErrUnknownDevice) {
		// The driver has not heard from it yet; report what we know.
		return lock.Status{DeviceID: dev.DeviceID, Online: false, CheckedAt: time.Now().UTC(), Detail: "unknown to driver"}, nil
	}
	if err != nil {
		return lock.Status{}, &AccessError{Kind: KindActuationFailed, Message: err.Error(), Err: err}
	}
	if st.Online {
		_ = r.store.MarkSeen(ctx, dev.DeviceID, st.CheckedAt)
	}
	return st, nil
}
