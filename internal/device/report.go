package device

import (
	"context"
	"encoding/json"
	"fmt"
)

// ControllerReport is the full state pushed by the household controller.
// Switch values are "on" or "off".
type ControllerReport struct {
	LampOne    string    `json:"lamp_one"`
	LampTwo    string    `json:"lamp_two"`
	LampThree  string    `json:"lamp_three"`
	Terminal   string    `json:"terminal"`
	Fan        FanReport `json:"fan"`
	TiraiLeft  string    `json:"tirai_left"`
	TiraiRight string    `json:"tirai_right"`
	AC         ACReport  `json:"ac"`
}

// FanReport is the fan section of a ControllerReport. Speed is a word
// ("one", "two", "three") or a number 1..3.
type FanReport struct {
	Status string          `json:"status"`
	Speed  json.RawMessage `json:"speed"`
}

// ACReport is the AC section of a ControllerReport.
type ACReport struct {
	Status      string          `json:"status"`
	Temperature json.RawMessage `json:"temperature"`
}

// reportStep is one field write derived from a report.
type reportStep struct {
	device string
	active *bool
	speed  *Speed
	temp   *float64
}

// plan validates the whole report and turns it into per-field writes.
func (rep ControllerReport) plan() ([]reportStep, error) {
	var steps []reportStep

	switches := []struct {
		name  string
		value string
	}{
		{LampOne, rep.LampOne},
		{LampTwo, rep.LampTwo},
		{LampThree, rep.LampThree},
		{Terminal, rep.Terminal},
		{TiraiLeft, rep.TiraiLeft},
		{TiraiRight, rep.TiraiRight},
		{Fan, rep.Fan.Status},
		{AC, rep.AC.Status},
	}
	for _, sw := range switches {
		on, err := parseSwitch(sw.value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrInvalidReport, sw.name, err)
		}
		steps = append(steps, reportStep{device: sw.name, active: &on})
	}

	speed, ok := parseSpeed(rep.Fan.Speed)
	if !ok {
		return nil, fmt.Errorf("%w: fan speed %s", ErrInvalidReport, string(rep.Fan.Speed))
	}
	steps = append(steps, reportStep{device: Fan, speed: &speed})

	var temp float64
	if err := json.Unmarshal(rep.AC.Temperature, &temp); err != nil || !ValidTemperature(temp) {
		return nil, fmt.Errorf("%w: ac temperature %s", ErrInvalidReport, string(rep.AC.Temperature))
	}
	steps = append(steps, reportStep{device: AC, temp: &temp})

	return steps, nil
}

func parseSwitch(v string) (bool, error) {
	switch v {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, fmt.Errorf("switch value %q is not on or off", v)
	}
}

// ApplyReport writes a controller report one field at a time.
//
// The whole report is validated before anything is written. After that each
// field commits on its own; there is no atomicity across devices, and a
// storage failure part way through leaves the earlier fields written.
func (r *Registry) ApplyReport(ctx context.Context, rep ControllerReport) error {
	steps, err := rep.plan()
	if err != nil {
		return err
	}

	for _, st := range steps {
		switch {
		case st.active != nil:
			_, err = r.SetActive(ctx, st.device, *st.active)
		case st.speed != nil:
			_, err = r.UpdateFan(ctx, FanUpdate{Speed: st.speed})
		case st.temp != nil:
			_, err = r.UpdateAC(ctx, ACUpdate{Temperature: st.temp})
		}
		if err != nil {
			return fmt.Errorf("applying report to %s: %w", st.device, err)
		}
	}

	r.logger.Info("controller report applied", "source", SourceFrom(ctx), "writes", len(steps))
	return nil
}

// Snapshot is the state the controller polls for.
type Snapshot struct {
	LampOne    bool     `json:"lamp_one"`
	LampTwo    bool     `json:"lamp_two"`
	LampThree  bool     `json:"lamp_three"`
	Terminal   bool     `json:"terminal"`
	TiraiLeft  bool     `json:"tirai_left"`
	TiraiRight bool     `json:"tirai_right"`
	Fan        FanState `json:"fan"`
	AC         ACState  `json:"ac"`
}

// Snapshot reads every controller-facing device. Each value is that device's
// latest commit; the set is not read atomically.
func (r *Registry) Snapshot(ctx context.Context) (Snapshot, error) {
	names := []string{LampOne, LampTwo, LampThree, Terminal, TiraiLeft, TiraiRight, Fan, AC}
	devices, err := r.store.GetMany(ctx, names)
	if err != nil {
		return Snapshot{}, err
	}

	byName := make(map[string]Device, len(devices))
	for _, d := range devices {
		byName[d.Name] = d
	}

	snap := Snapshot{
		LampOne:    byName[LampOne].Active,
		LampTwo:    byName[LampTwo].Active,
		LampThree:  byName[LampThree].Active,
		Terminal:   byName[Terminal].Active,
		TiraiLeft:  byName[TiraiLeft].Active,
		TiraiRight: byName[TiraiRight].Active,
		Fan:        DecodeFan(byName[Fan]),
		AC:         DecodeAC(byName[AC]),
	}
	r.warn(snap.Fan.Warning)
	r.warn(snap.AC.Warning)
	return snap, nil
}
