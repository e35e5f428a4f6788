package device

import "strings"

// Registered device names.
const (
	LampOne       = "lamp_one"
	LampTwo       = "lamp_two"
	LampThree     = "lamp_three"
	Terminal      = "terminal"
	Fan           = "fan"
	TiraiLeft     = "tirai_left"
	TiraiRight    = "tirai_right"
	AC            = "ac"
	Door          = "door"
	Plant         = "plant"
	Saluran       = "saluran"
	SistemLampu   = "sistem_lampu"
	SistemTirai   = "sistem_tirai"
	SistemTanaman = "sistem_tanaman"
)

// Kind tells the codec how to interpret a device's attributes.
type Kind string

const (
	// KindPlain devices carry only the active flag.
	KindPlain Kind = "plain"
	// KindFan devices store {"speed": "one"|"two"|"three"}.
	KindFan Kind = "fan"
	// KindAC devices store {"temperature": <number>}.
	KindAC Kind = "ac"
)

// Device groups addressed together by the HTTP layer, in display order.
var (
	Lamps = []string{LampOne, LampTwo, LampThree}
	Tirai = []string{TiraiLeft, TiraiRight}
)

// DefaultNames returns the household registry seeded when the configuration
// does not name one. The slice is a fresh copy.
func DefaultNames() []string {
	return []string{
		LampOne, LampTwo, LampThree,
		Terminal,
		Fan,
		TiraiLeft, TiraiRight,
		AC,
		Door,
		Plant,
		Saluran,
		SistemLampu, SistemTirai, SistemTanaman,
	}
}

// KindOf returns the attribute schema for a device name.
func KindOf(name string) Kind {
	switch name {
	case Fan:
		return KindFan
	case AC:
		return KindAC
	default:
		return KindPlain
	}
}

const maxNameLength = 64

// ValidateName checks that a name can be stored as a device key.
func ValidateName(name string) error {
	if name == "" || len(name) > maxNameLength {
		return ErrInvalidName
	}
	if strings.TrimSpace(name) != name {
		return ErrInvalidName
	}
	return nil
}

// ValidateNames checks every name and rejects duplicates.
func ValidateNames(names []string) error {
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if err := ValidateName(n); err != nil {
			return err
		}
		if _, dup := seen[n]; dup {
			return ErrInvalidName
		}
		seen[n] = struct{}{}
	}
	return nil
}
