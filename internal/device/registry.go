package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// lockStripes is the number of per-device mutexes. Names hash onto stripes,
// so two devices may share one; a device never maps to two.
const lockStripes = 64

// Registry is the service layer the HTTP handlers and the MQTT controller
// subscriber call. It wraps a Store and fans committed changes out to
// observers. Writes to one device are serialized through notification.
//
// All public methods are safe for concurrent use. Observers must not write
// back to the registry from OnStateChange.
type Registry struct {
	store  Store
	logger Logger

	locks [lockStripes]sync.Mutex

	observersMu sync.RWMutex
	observers   []StateObserver
}

// NewRegistry creates a registry over store.
func NewRegistry(store Store) *Registry {
	return &Registry{
		store:  store,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// AddObserver registers o to receive every committed change.
func (r *Registry) AddObserver(o StateObserver) {
	r.observersMu.Lock()
	defer r.observersMu.Unlock()
	r.observers = append(r.observers, o)
}

// Initialize seeds the store with names.
func (r *Registry) Initialize(ctx context.Context, names []string) error {
	if err := r.store.Initialize(ctx, names); err != nil {
		return fmt.Errorf("seeding device registry: %w", err)
	}
	r.logger.Info("device registry seeded", "count", len(names))
	return nil
}

// Get returns one device.
func (r *Registry) Get(ctx context.Context, name string) (*Device, error) {
	return r.store.Get(ctx, name)
}

// GetMany returns devices in the order given.
func (r *Registry) GetMany(ctx context.Context, names []string) ([]Device, error) {
	return r.store.GetMany(ctx, names)
}

// ListByPrefix returns devices whose names start with prefix, sorted by name.
func (r *Registry) ListByPrefix(ctx context.Context, prefix string) ([]Device, error) {
	return r.store.ListByPrefix(ctx, prefix)
}

// List returns all devices sorted by name.
func (r *Registry) List(ctx context.Context) ([]Device, error) {
	return r.store.List(ctx)
}

// SetActive replaces a device's active flag.
func (r *Registry) SetActive(ctx context.Context, name string, active bool) (*Device, error) {
	return r.commit(ctx, name, func() (*Device, error) {
		return r.store.SetActive(ctx, name, active)
	})
}

// SetAttributes replaces a device's attributes.
func (r *Registry) SetAttributes(ctx context.Context, name string, attrs Attributes) (*Device, error) {
	return r.commit(ctx, name, func() (*Device, error) {
		return r.store.SetAttributes(ctx, name, attrs)
	})
}

// Toggle flips a device and returns its new active value.
func (r *Registry) Toggle(ctx context.Context, name string) (bool, error) {
	d, err := r.commit(ctx, name, func() (*Device, error) {
		return r.store.Toggle(ctx, name)
	})
	if err != nil {
		return false, err
	}
	r.logger.Debug("device toggled", "device", name, "active", d.Active, "version", d.Version)
	return d.Active, nil
}

// Fan returns the decoded fan state.
func (r *Registry) Fan(ctx context.Context) (FanState, error) {
	d, err := r.store.Get(ctx, Fan)
	if err != nil {
		return FanState{}, err
	}
	st := DecodeFan(*d)
	r.warn(st.Warning)
	return st, nil
}

// UpdateFan applies u to the fan and returns the resulting state.
func (r *Registry) UpdateFan(ctx context.Context, u FanUpdate) (FanState, error) {
	d, err := r.update(ctx, Fan, func(cur Device) (Device, error) {
		active, attrs, err := EncodeFanUpdate(cur, u)
		if err != nil {
			return Device{}, err
		}
		cur.Active, cur.Attributes = active, attrs
		return cur, nil
	})
	if err != nil {
		return FanState{}, err
	}
	return DecodeFan(*d), nil
}

// AC returns the decoded air conditioner state.
func (r *Registry) AC(ctx context.Context) (ACState, error) {
	d, err := r.store.Get(ctx, AC)
	if err != nil {
		return ACState{}, err
	}
	st := DecodeAC(*d)
	r.warn(st.Warning)
	return st, nil
}

// UpdateAC applies u to the air conditioner and returns the resulting state.
func (r *Registry) UpdateAC(ctx context.Context, u ACUpdate) (ACState, error) {
	d, err := r.update(ctx, AC, func(cur Device) (Device, error) {
		active, attrs, err := EncodeACUpdate(cur, u)
		if err != nil {
			return Device{}, err
		}
		cur.Active, cur.Attributes = active, attrs
		return cur, nil
	})
	if err != nil {
		return ACState{}, err
	}
	return DecodeAC(*d), nil
}

func (r *Registry) update(ctx context.Context, name string, fn UpdateFunc) (*Device, error) {
	return r.commit(ctx, name, func() (*Device, error) {
		return r.store.Update(ctx, name, fn)
	})
}

// commit runs one store write and notifies observers while holding the
// device's stripe lock. Observers therefore see a device's versions in
// commit order, and the last change they are handed is the stored one.
func (r *Registry) commit(ctx context.Context, name string, write func() (*Device, error)) (*Device, error) {
	mu := r.lockFor(name)
	mu.Lock()
	defer mu.Unlock()

	d, err := write()
	if err != nil {
		return nil, err
	}
	r.notify(ctx, *d)
	return d, nil
}

func (r *Registry) lockFor(name string) *sync.Mutex {
	return &r.locks[xxhash.Sum64String(name)%lockStripes]
}

// notify delivers a committed change to every observer. The request may be
// finished by the time an observer runs, so cancellation is detached.
func (r *Registry) notify(ctx context.Context, d Device) {
	r.observersMu.RLock()
	observers := r.observers
	r.observersMu.RUnlock()

	if len(observers) == 0 {
		return
	}

	change := StateChange{
		EventID: uuid.NewString(),
		Device:  d.Clone(),
		Source:  SourceFrom(ctx),
	}
	octx := context.WithoutCancel(ctx)
	for _, o := range observers {
		if err := o.OnStateChange(octx, change); err != nil {
			r.logger.Warn("state observer failed",
				"device", d.Name, "version", d.Version, "error", err)
		}
	}
}

func (r *Registry) warn(w *DecodeWarning) {
	if w != nil {
		r.logger.Warn("device attributes not decoded",
			"device", w.Device, "field", w.Field, "reason", w.Reason)
	}
}
