package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/store"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/types"
)

type DeviceStore struct {
	mu      sync.RWMutex
	devices map[string]types.DeviceConfig
}

func NewDeviceStore(seed ...types.DeviceConfig) *DeviceStore {
	s := &DeviceStore{devices: make(map[string]types.DeviceConfig, len(seed))}
	for _, d := range seed {
		d.DeviceID = strings.TrimSpace(d.DeviceID)
		if d.DeviceID != "" {
			s.devices[d.DeviceID] = d
		}
	}
	return s
}

func (s *DeviceStore) ForRoom(_ context.Context, roomID string) (*types.DeviceConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, d := range s.devices {
		if d.RoomID == roomID {
			return &d, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *DeviceStore) Get(_ context.Context, deviceID string) (*types.DeviceConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &d, nil
}

// Upsert replaces any device already bound to the same room.
func (s *DeviceStore) Upsert(_ context.Context, cfg types.DeviceConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, d := range s.devices {
		if d.RoomID == cfg.RoomID && id != cfg.DeviceID {
			delete(s.devices, id)
		}
	}
	s.devices[cfg.DeviceID] = cfg
	return nil
}

func (s *DeviceStore) MarkSeen(_ context.Context, deviceID string, t time.Time) error {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return nil
	}
	d.LastSeen = &t
	s.devices[deviceID] = d
	return nil
}
