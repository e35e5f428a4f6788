package device

import (
	"context"
	"time"
)

// Store persists device records keyed by name.
//
// Every mutating method commits before it returns and hands back the
// committed record, so a later Get from any goroutine observes the write.
// Storage failures wrap ErrStorageUnavailable; unknown names return
// ErrDeviceNotFound. Implementations never retry.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Initialize ensures a record exists for every name, with Active false and
	// no attributes. Existing records are left untouched.
	Initialize(ctx context.Context, names []string) error

	// Get returns the current record for name.
	Get(ctx context.Context, name string) (*Device, error)

	// GetMany returns the records for names in the same order as names.
	// Any unknown name fails the whole call.
	GetMany(ctx context.Context, names []string) ([]Device, error)

	// ListByPrefix returns every record whose name starts with prefix,
	// ordered lexicographically by name.
	ListByPrefix(ctx context.Context, prefix string) ([]Device, error)

	// List returns all records ordered lexicographically by name.
	List(ctx context.Context) ([]Device, error)

	// SetActive replaces the active flag.
	SetActive(ctx context.Context, name string, active bool) (*Device, error)

	// SetAttributes replaces the attributes payload wholesale.
	SetAttributes(ctx context.Context, name string, attrs Attributes) (*Device, error)

	// Toggle atomically negates the active flag. The returned record carries
	// the new value.
	Toggle(ctx context.Context, name string) (*Device, error)

	// Update runs fn against the current record and writes back the Active and
	// Attributes of the record fn returns, all in one transaction. If fn
	// returns an error nothing is written.
	Update(ctx context.Context, name string, fn UpdateFunc) (*Device, error)
}

// UpdateFunc computes the new state of a device from its current state.
// The argument is a private copy and may be modified and returned.
type UpdateFunc func(current Device) (Device, error)

// timeFormat is fixed width so stored timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeFormat, s)
}
