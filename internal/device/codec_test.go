package device

import (
	"encoding/json"
	"errors"
	"testing"
)

func ptr[T any](v T) *T { return &v }

func TestDecodeFan(t *testing.T) {
	tests := []struct {
		name        string
		device      Device
		wantOn      bool
		wantSpeed   Speed
		wantWarning bool
	}{
		{"word one", Device{Name: Fan, Active: true, Attributes: Attributes(`{"speed":"one"}`)}, true, SpeedOne, false},
		{"word two", Device{Name: Fan, Attributes: Attributes(`{"speed":"two"}`)}, false, SpeedTwo, false},
		{"word three", Device{Name: Fan, Attributes: Attributes(`{"speed":"three"}`)}, false, SpeedThree, false},
		{"number", Device{Name: Fan, Active: true, Attributes: Attributes(`{"speed":2}`)}, true, SpeedTwo, false},
		{"extra keys", Device{Name: Fan, Attributes: Attributes(`{"speed":"one","swing":true}`)}, false, SpeedOne, false},
		{"absent attributes", Device{Name: Fan, Active: true}, true, SpeedUnknown, true},
		{"malformed", Device{Name: Fan, Active: true, Attributes: Attributes("not json")}, true, SpeedUnknown, true},
		{"not an object", Device{Name: Fan, Attributes: Attributes(`[1,2]`)}, false, SpeedUnknown, true},
		{"null object", Device{Name: Fan, Attributes: Attributes(`null`)}, false, SpeedUnknown, true},
		{"speed missing", Device{Name: Fan, Attributes: Attributes(`{}`)}, false, SpeedUnknown, true},
		{"speed null", Device{Name: Fan, Attributes: Attributes(`{"speed":null}`)}, false, SpeedUnknown, true},
		{"digit string", Device{Name: Fan, Attributes: Attributes(`{"speed":"2"}`)}, false, SpeedUnknown, true},
		{"other word", Device{Name: Fan, Attributes: Attributes(`{"speed":"turbo"}`)}, false, SpeedUnknown, true},
		{"out of range", Device{Name: Fan, Attributes: Attributes(`{"speed":4}`)}, false, SpeedUnknown, true},
		{"fractional", Device{Name: Fan, Attributes: Attributes(`{"speed":1.5}`)}, false, SpeedUnknown, true},
		{"capitalised", Device{Name: Fan, Attributes: Attributes(`{"speed":"One"}`)}, false, SpeedUnknown, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeFan(tt.device)
			if got.On != tt.wantOn {
				t.Errorf("On = %v, want %v", got.On, tt.wantOn)
			}
			if got.Speed != tt.wantSpeed {
				t.Errorf("Speed = %v, want %v", got.Speed, tt.wantSpeed)
			}
			if (got.Warning != nil) != tt.wantWarning {
				t.Errorf("Warning = %v, want warning %v", got.Warning, tt.wantWarning)
			}
		})
	}
}

func TestDecodeAC(t *testing.T) {
	tests := []struct {
		name     string
		attrs    string
		wantTemp *float64
	}{
		{"integer", `{"temperature":24}`, ptr(24.0)},
		{"fraction", `{"temperature":22.5}`, ptr(22.5)},
		{"absent", ``, nil},
		{"malformed", `{"temperature":`, nil},
		{"string", `{"temperature":"24"}`, nil},
		{"missing", `{"mode":"cool"}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Device{Name: AC, Active: true}
			if tt.attrs != "" {
				d.Attributes = Attributes(tt.attrs)
			}

			got := DecodeAC(d)
			if !got.On {
				t.Error("On = false, want true")
			}
			switch {
			case tt.wantTemp == nil && got.Temperature != nil:
				t.Errorf("Temperature = %v, want unknown", *got.Temperature)
			case tt.wantTemp != nil && (got.Temperature == nil || *got.Temperature != *tt.wantTemp):
				t.Errorf("Temperature = %v, want %v", got.Temperature, *tt.wantTemp)
			}
			if (got.Warning == nil) != (tt.wantTemp != nil) {
				t.Errorf("Warning = %v", got.Warning)
			}
		})
	}
}

func TestEncodeFanUpdate_RoundTrip(t *testing.T) {
	for _, speed := range []Speed{SpeedOne, SpeedTwo, SpeedThree} {
		t.Run(speed.Word(), func(t *testing.T) {
			active, attrs, err := EncodeFanUpdate(Device{Name: Fan}, FanUpdate{On: ptr(true), Speed: ptr(speed)})
			if err != nil {
				t.Fatalf("EncodeFanUpdate() error = %v", err)
			}

			got := DecodeFan(Device{Name: Fan, Active: active, Attributes: attrs})
			if !got.On || got.Speed != speed || got.Warning != nil {
				t.Errorf("DecodeFan(EncodeFanUpdate(true, %d)) = %+v", speed, got)
			}

			var stored map[string]string
			if err := json.Unmarshal(attrs, &stored); err != nil {
				t.Fatalf("attributes not an object: %v", err)
			}
			if stored["speed"] != speed.Word() {
				t.Errorf("stored speed = %q, want word %q", stored["speed"], speed.Word())
			}
		})
	}
}

func TestEncodeFanUpdate_TouchesOnlyNamedField(t *testing.T) {
	current := Device{Name: Fan, Active: true, Attributes: Attributes(`{"speed":"one","swing":true}`)}

	t.Run("speed only keeps active", func(t *testing.T) {
		active, attrs, err := EncodeFanUpdate(current, FanUpdate{Speed: ptr(SpeedThree)})
		if err != nil {
			t.Fatalf("EncodeFanUpdate() error = %v", err)
		}
		if !active {
			t.Error("active changed by speed-only update")
		}
		if string(attrs) != `{"speed":"three","swing":true}` {
			t.Errorf("attributes = %s, want speed replaced and swing kept", attrs)
		}
	})

	t.Run("on only keeps attributes", func(t *testing.T) {
		active, attrs, err := EncodeFanUpdate(current, FanUpdate{On: ptr(false)})
		if err != nil {
			t.Fatalf("EncodeFanUpdate() error = %v", err)
		}
		if active {
			t.Error("active = true, want false")
		}
		if string(attrs) != string(current.Attributes) {
			t.Errorf("attributes = %s, want unchanged %s", attrs, current.Attributes)
		}
	})

	t.Run("malformed attributes replaced", func(t *testing.T) {
		_, attrs, err := EncodeFanUpdate(Device{Name: Fan, Attributes: Attributes("not json")}, FanUpdate{Speed: ptr(SpeedTwo)})
		if err != nil {
			t.Fatalf("EncodeFanUpdate() error = %v", err)
		}
		if string(attrs) != `{"speed":"two"}` {
			t.Errorf("attributes = %s", attrs)
		}
	})
}

func TestEncodeFanUpdate_InvalidSpeed(t *testing.T) {
	for _, s := range []Speed{SpeedUnknown, 4, -1} {
		_, _, err := EncodeFanUpdate(Device{Name: Fan}, FanUpdate{Speed: ptr(s)})
		if !errors.Is(err, ErrInvalidSpeed) {
			t.Errorf("EncodeFanUpdate(speed %d) error = %v, want ErrInvalidSpeed", s, err)
		}
	}
}

func TestEncodeACUpdate(t *testing.T) {
	current := Device{Name: AC, Active: false, Attributes: Attributes(`{"mode":"cool","temperature":20}`)}

	active, attrs, err := EncodeACUpdate(current, ACUpdate{Temperature: ptr(24.0)})
	if err != nil {
		t.Fatalf("EncodeACUpdate() error = %v", err)
	}
	if active {
		t.Error("active changed by temperature-only update")
	}
	if string(attrs) != `{"mode":"cool","temperature":24}` {
		t.Errorf("attributes = %s", attrs)
	}

	got := DecodeAC(Device{Name: AC, Active: active, Attributes: attrs})
	if got.Temperature == nil || *got.Temperature != 24 {
		t.Errorf("round trip temperature = %v, want 24", got.Temperature)
	}
}

func TestEncodeACUpdate_Range(t *testing.T) {
	tests := []struct {
		temp    float64
		wantErr bool
	}{
		{MinTemperature, false},
		{MaxTemperature, false},
		{22.5, false},
		{15.9, true},
		{33, true},
	}

	for _, tt := range tests {
		_, _, err := EncodeACUpdate(Device{Name: AC}, ACUpdate{Temperature: ptr(tt.temp)})
		if (err != nil) != tt.wantErr {
			t.Errorf("EncodeACUpdate(%v) error = %v, wantErr %v", tt.temp, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidTemperature) {
			t.Errorf("EncodeACUpdate(%v) error = %v, want ErrInvalidTemperature", tt.temp, err)
		}
	}
}

func TestSpeed_MarshalJSON(t *testing.T) {
	out, err := json.Marshal(FanState{On: true, Speed: SpeedTwo})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != `{"on":true,"speed":2}` {
		t.Errorf("Marshal() = %s", out)
	}

	out, err = json.Marshal(FanState{Warning: &DecodeWarning{}})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(out) != `{"on":false,"speed":null}` {
		t.Errorf("Marshal() unknown = %s", out)
	}
}

func TestAttributes_MarshalJSON(t *testing.T) {
	tests := []struct {
		name  string
		attrs Attributes
		want  string
	}{
		{"nil", nil, `{"a":null}`},
		{"object", Attributes(`{"speed":"one"}`), `{"a":{"speed":"one"}}`},
		{"malformed", Attributes("not json"), `{"a":"not json"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := json.Marshal(struct {
				A Attributes `json:"a"`
			}{tt.attrs})
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(out) != tt.want {
				t.Errorf("Marshal() = %s, want %s", out, tt.want)
			}
		})
	}
}
