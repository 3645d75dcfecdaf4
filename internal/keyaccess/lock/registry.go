package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/types"
)

// DefaultTimeout bounds a single actuation round trip.
const DefaultTimeout = 8 * time.Second

// Registry dispatches to the Provider registered for a device's lock type.
// Actuation calls are bounded by the registry timeout; a driver that does not
// answer in time yields a TIMEOUT result.
type Registry struct {
	mu        sync.RWMutex
	providers map[types.LockType]Provider
	timeout   time.Duration
}

func NewRegistry(timeout time.Duration) *Registry {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Registry{
		providers: make(map[types.LockType]Provider),
		timeout:   timeout,
	}
}

func (r *Registry) Register(t types.LockType, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[t] = p
}

func (r *Registry) Provider(t types.LockType) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[t]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrProviderNotConfigured, t)
	}
	return p, nil
}

// Types lists the lock types with a registered driver.
func (r *Registry) Types() []types.LockType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.LockType, 0, len(r.providers))
	for t := range r.providers {
		out = append(out, t)
	}
	return out
}

func (r *Registry) resolve(dev types.DeviceConfig) (Provider, error) {
	if !dev.Enabled {
		return nil, fmt.Errorf("%w: %s", ErrDeviceDisabled, dev.DeviceID)
	}
	return r.Provider(dev.LockType)
}

// Unlock returns an error only when no driver can be selected for dev.
func (r *Registry) Unlock(ctx context.Context, dev types.DeviceConfig, keyMaterial string) (Result, error) {
	p, err := r.resolve(dev)
	if err != nil {
		return Result{}, err
	}
	return r.bounded(ctx, func(ctx context.Context) Result {
		return p.Unlock(ctx, dev.DeviceID, keyMaterial)
	}), nil
}

func (r *Registry) Lock(ctx context.Context, dev types.DeviceConfig) (Result, error) {
	p, err := r.resolve(dev)
	if err != nil {
		return Result{}, err
	}
	return r.bounded(ctx, func(ctx context.Context) Result {
		return p.Lock(ctx, dev.DeviceID)
	}), nil
}

func (r *Registry) Status(ctx context.Context, dev types.DeviceConfig) (Status, error) {
	p, err := r.Provider(dev.LockType)
	if err != nil {
		return Status{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return p.Status(ctx, dev.DeviceID)
}

func (r *Registry) RegisterDevice(ctx context.Context, dev types.DeviceConfig) error {
	p, err := r.Provider(dev.LockType)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return p.RegisterDevice(ctx, dev.DeviceID, dev.Metadata)
}

// bounded runs call with a deadline. The driver keeps its goroutine if it
// ignores ctx; the buffered channel lets it finish without blocking.
func (r *Registry) bounded(ctx context.Context, call func(context.Context) Result) Result {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ch := make(chan Result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				ch <- failed(CodeRejected, fmt.Sprintf("driver panic: %v", rec))
			}
		}()
		ch <- call(ctx)
	}()

	select {
	case res := <-ch:
		if res.Timestamp.IsZero() {
			res.Timestamp = time.Now().UTC()
		}
		return res
	case <-ctx.Done():
		return failed(CodeTimeout, fmt.Sprintf("lock did not respond within %s", r.timeout))
	}
}
