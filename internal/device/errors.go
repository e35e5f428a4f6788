package device

import (
	"errors"
	"fmt"
)

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle unknown device
//	}
var (
	// ErrDeviceNotFound is returned when a name is not in the device table.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrStorageUnavailable is returned when the backing store cannot be
	// opened, read or written. The driver error is wrapped alongside it.
	ErrStorageUnavailable = errors.New("device: storage unavailable")

	// ErrInvalidName is returned when a device name is empty, too long,
	// padded with whitespace or repeated in a registry.
	ErrInvalidName = errors.New("device: invalid name")

	// ErrInvalidSpeed is returned when a fan speed is not 1, 2 or 3.
	ErrInvalidSpeed = errors.New("device: invalid fan speed")

	// ErrInvalidTemperature is returned when an AC temperature is out of range.
	ErrInvalidTemperature = errors.New("device: invalid temperature")

	// ErrInvalidReport is returned when a controller report cannot be applied.
	ErrInvalidReport = errors.New("device: invalid controller report")
)

// storageError wraps a driver error so callers can test for ErrStorageUnavailable
// and still reach the underlying cause.
func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorageUnavailable, op, err)
}

// notFound names the missing device while keeping ErrDeviceNotFound matchable.
func notFound(name string) error {
	return fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
}

// DecodeWarning describes attributes the codec could not interpret.
// It is carried on decoded state, never returned as an error by decoders.
type DecodeWarning struct {
	Device string
	Field  string
	Reason string
}

func (w *DecodeWarning) Error() string {
	return fmt.Sprintf("device %s: %s: %s", w.Device, w.Field, w.Reason)
}
