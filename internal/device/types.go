package device

import (
	"bytes"
	"context"
	"encoding/json"
	"time"
)

// Device is the stored state of one household device.
type Device struct {
	// Name is the registry key, e.g. "lamp_one". Immutable.
	Name string `json:"name"`

	// Active is the power or engagement state.
	Active bool `json:"active"`

	// Attributes is the opaque composite sub-state (fan speed, AC temperature).
	// Nil means no attributes have been written.
	Attributes Attributes `json:"attributes"`

	// Version counts committed writes to this device, starting at 0.
	Version int64 `json:"version"`

	// UpdatedAt is when the last write committed (UTC).
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy that shares no memory with d.
func (d Device) Clone() Device {
	d.Attributes = d.Attributes.Clone()
	return d
}

// Attributes is the raw attributes payload exactly as stored.
//
// The store never interprets it. Empty payloads are normalised to nil.
type Attributes []byte

// Clone returns a copy of a.
func (a Attributes) Clone() Attributes {
	if len(a) == 0 {
		return nil
	}
	return bytes.Clone(a)
}

// MarshalJSON emits the payload verbatim when it is valid JSON, and as a
// JSON string otherwise so a corrupted row can still be inspected.
func (a Attributes) MarshalJSON() ([]byte, error) {
	if len(a) == 0 {
		return []byte("null"), nil
	}
	if json.Valid(a) {
		return bytes.Clone(a), nil
	}
	return json.Marshal(string(a))
}

// UnmarshalJSON stores the raw JSON value. A JSON null yields nil.
func (a *Attributes) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*a = nil
		return nil
	}
	*a = bytes.Clone(data)
	return nil
}

// Source values record which path committed a change.
const (
	SourceAPI        = "api"
	SourceController = "controller"
	SourceMQTT       = "mqtt"
)

type sourceKey struct{}

// WithSource tags ctx with the origin of the writes made under it.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

// SourceFrom returns the origin recorded by WithSource, or SourceAPI.
func SourceFrom(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return SourceAPI
}

// StateChange is delivered to observers after a write commits.
type StateChange struct {
	// EventID uniquely identifies this change across observers.
	EventID string `json:"event_id"`

	// Device is the committed state, including the new Version.
	Device Device `json:"device"`

	// Source is where the write came from (api, controller, mqtt).
	Source string `json:"source"`
}

// StateObserver is notified of every committed change.
//
// Observers run synchronously on the writer's goroutine after the commit, so
// they must not block for long. A returned error is logged and otherwise ignored.
type StateObserver interface {
	OnStateChange(ctx context.Context, change StateChange) error
}

// ObserverFunc adapts a function to StateObserver.
type ObserverFunc func(ctx context.Context, change StateChange) error

// OnStateChange calls f.
func (f ObserverFunc) OnStateChange(ctx context.Context, change StateChange) error {
	return f(ctx, change)
}
