package device

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// Speed is a fan speed setting. SpeedUnknown is the zero value.
type Speed int

// Fan speeds.
const (
	SpeedUnknown Speed = 0
	SpeedOne     Speed = 1
	SpeedTwo     Speed = 2
	SpeedThree   Speed = 3
)

// speedWords is the stored spelling of each speed.
var speedWords = map[Speed]string{
	SpeedOne:   "one",
	SpeedTwo:   "two",
	SpeedThree: "three",
}

// Valid reports whether s is one of the three real speeds.
func (s Speed) Valid() bool {
	_, ok := speedWords[s]
	return ok
}

// Word returns the stored spelling, or "" for an invalid speed.
func (s Speed) Word() string {
	return speedWords[s]
}

// MarshalJSON encodes a known speed as its number and an unknown one as null.
func (s Speed) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return []byte("null"), nil
	}
	return json.Marshal(int(s))
}

// parseSpeed accepts the stored words and the JSON numbers 1, 2 and 3.
// Strings holding digits are not accepted.
func parseSpeed(raw json.RawMessage) (Speed, bool) {
	var word string
	if err := json.Unmarshal(raw, &word); err == nil {
		for s, w := range speedWords {
			if w == word {
				return s, true
			}
		}
		return SpeedUnknown, false
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil && n >= 1 && n <= 3 && n == math.Trunc(n) {
		return Speed(n), true
	}
	return SpeedUnknown, false
}

// AC temperature setpoint bounds (degrees Celsius), inclusive.
const (
	MinTemperature = 16
	MaxTemperature = 32
)

// ValidTemperature reports whether t can be written as an AC setpoint.
func ValidTemperature(t float64) bool {
	return !math.IsNaN(t) && t >= MinTemperature && t <= MaxTemperature
}

// FanState is the decoded view of the fan.
type FanState struct {
	On    bool  `json:"on"`
	Speed Speed `json:"speed"`

	// Warning is set when the attributes could not be fully decoded.
	Warning *DecodeWarning `json:"-"`
}

// ACState is the decoded view of the air conditioner.
type ACState struct {
	On bool `json:"on"`

	// Temperature is nil when unknown.
	Temperature *float64 `json:"temperature"`

	Warning *DecodeWarning `json:"-"`
}

// DecodeFan interprets a fan record. It never fails: unreadable attributes
// leave Speed unknown and set Warning.
func DecodeFan(d Device) FanState {
	st := FanState{On: d.Active}

	raw, w := attributeField(d, "speed")
	if w != nil {
		st.Warning = w
		return st
	}

	s, ok := parseSpeed(raw)
	if !ok {
		st.Warning = &DecodeWarning{Device: d.Name, Field: "speed", Reason: fmt.Sprintf("unrecognised value %s", raw)}
		return st
	}
	st.Speed = s
	return st
}

// DecodeAC interprets an AC record. It never fails: unreadable attributes
// leave Temperature nil and set Warning.
func DecodeAC(d Device) ACState {
	st := ACState{On: d.Active}

	raw, w := attributeField(d, "temperature")
	if w != nil {
		st.Warning = w
		return st
	}

	var t float64
	if err := json.Unmarshal(raw, &t); err != nil {
		st.Warning = &DecodeWarning{Device: d.Name, Field: "temperature", Reason: fmt.Sprintf("unrecognised value %s", raw)}
		return st
	}
	st.Temperature = &t
	return st
}

// attributeField extracts one key of the attributes object.
func attributeField(d Device, field string) (json.RawMessage, *DecodeWarning) {
	if len(d.Attributes) == 0 {
		return nil, &DecodeWarning{Device: d.Name, Field: field, Reason: "attributes absent"}
	}

	obj, err := attributeObject(d.Attributes)
	if err != nil {
		return nil, &DecodeWarning{Device: d.Name, Field: field, Reason: "attributes are not a JSON object"}
	}

	raw, ok := obj[field]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, &DecodeWarning{Device: d.Name, Field: field, Reason: "field absent"}
	}
	return raw, nil
}

func attributeObject(a Attributes) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(a, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		// JSON null
		return nil, fmt.Errorf("attributes are null")
	}
	return obj, nil
}

// FanUpdate names the fields to change. Nil fields keep their current value.
type FanUpdate struct {
	On    *bool
	Speed *Speed
}

// ACUpdate names the fields to change. Nil fields keep their current value.
type ACUpdate struct {
	On          *bool
	Temperature *float64
}

// EncodeFanUpdate computes the fan's new active flag and attributes.
//
// Only the touched fields change. Setting Speed rewrites the attributes
// object with the speed in its word form and every other key preserved;
// leaving Speed nil returns the current attributes unchanged.
func EncodeFanUpdate(current Device, u FanUpdate) (bool, Attributes, error) {
	active := current.Active
	if u.On != nil {
		active = *u.On
	}

	if u.Speed == nil {
		return active, current.Attributes.Clone(), nil
	}
	if !u.Speed.Valid() {
		return false, nil, fmt.Errorf("%w: %d", ErrInvalidSpeed, *u.Speed)
	}

	attrs, err := setAttribute(current.Attributes, "speed", u.Speed.Word())
	if err != nil {
		return false, nil, err
	}
	return active, attrs, nil
}

// EncodeACUpdate computes the AC's new active flag and attributes.
// Temperature must lie within MinTemperature..MaxTemperature.
func EncodeACUpdate(current Device, u ACUpdate) (bool, Attributes, error) {
	active := current.Active
	if u.On != nil {
		active = *u.On
	}

	if u.Temperature == nil {
		return active, current.Attributes.Clone(), nil
	}
	if !ValidTemperature(*u.Temperature) {
		return false, nil, fmt.Errorf("%w: %v not in %d..%d",
			ErrInvalidTemperature, *u.Temperature, MinTemperature, MaxTemperature)
	}

	attrs, err := setAttribute(current.Attributes, "temperature", *u.Temperature)
	if err != nil {
		return false, nil, err
	}
	return active, attrs, nil
}

// setAttribute rewrites one key of the attributes object. Attributes that are
// absent or not an object are replaced by a fresh object.
func setAttribute(current Attributes, key string, value any) (Attributes, error) {
	obj := map[string]json.RawMessage{}
	if len(current) > 0 {
		if existing, err := attributeObject(current); err == nil {
			obj = existing
		}
	}

	v, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", key, err)
	}
	obj[key] = v

	out, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encoding attributes: %w", err)
	}
	return out, nil
}
