package lock

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

type SimulationConfig struct {
	Latency     time.Duration
	FailureRate float64 // 0..1
}

type simDevice struct {
	locked   bool
	metadata map[string]string
	lastSeen time.Time
}

// Simulation is the dev/test driver. Unknown devices are registered on first
// contact so a fresh database works without setup.
type Simulation struct {
	cfg  SimulationConfig
	roll func() float64

	mu      sync.Mutex
	devices map[string]*simDevice
}

func NewSimulation(cfg SimulationConfig) *Simulation {
	return &Simulation{
		cfg:     cfg,
		roll:    rand.Float64,
		devices: make(map[string]*simDevice),
	}
}

// WithRoll replaces the failure dice; used by tests.
func (s *Simulation) WithRoll(roll func() float64) *Simulation {
	s.roll = roll
	return s
}

func (s *Simulation) wait(ctx context.Context) bool {
	if s.cfg.Latency <= 0 {
		return true
	}
	t := time.NewTimer(s.cfg.Latency)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Simulation) device(id string) *simDevice {
	d, ok := s.devices[id]
	if !ok {
		d = &simDevice{locked: true}
		s.devices[id] = d
	}
	d.lastSeen = time.Now().UTC()
	return d
}

func (s *Simulation) actuate(ctx context.Context, deviceID string, lock bool) Result {
	if !s.wait(ctx) {
		return failed(CodeTimeout, "simulated lock timed out")
	}
	if s.cfg.FailureRate > 0 && s.roll() < s.cfg.FailureRate {
		return failed(CodeJammed, "simulated mechanical failure")
	}

	s.mu.Lock()
	s.device(deviceID).locked = lock
	s.mu.Unlock()

	if lock {
		return succeeded("door locked")
	}
	return succeeded("door unlocked")
}

func (s *Simulation) Unlock(ctx context.Context, deviceID, keyMaterial string) Result {
	if keyMaterial == "" {
		return failed(CodeRejected, "empty key material")
	}
	return s.actuate(ctx, deviceID, false)
}

func (s *Simulation) Lock(ctx context.Context, deviceID string) Result {
	return s.actuate(ctx, deviceID, true)
}

func (s *Simulation) Status(_ context.Context, deviceID string) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[deviceID]
	if !ok {
		return Status{}, ErrUnknownDevice
	}
	battery := 100
	return Status{
		DeviceID:       deviceID,
		Online:         true,
		Locked:         d.locked,
		BatteryPercent: &battery,
		CheckedAt:      time.Now().UTC(),
		Detail:         "simulation",
	}, nil
}

func (s *Simulation) RegisterDevice(_ context.Context, deviceID string, metadata map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.device(deviceID)
	d.metadata = metadata
	return nil
}
