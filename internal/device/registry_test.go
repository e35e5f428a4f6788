package device

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"
)

// recordingObserver keeps every change it is handed.
type recordingObserver struct {
	mu      sync.Mutex
	changes []StateChange
	err     error
}

func (o *recordingObserver) OnStateChange(_ context.Context, c StateChange) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.changes = append(o.changes, c)
	return o.err
}

func (o *recordingObserver) all() []StateChange {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]StateChange(nil), o.changes...)
}

// countingLogger counts warnings.
type countingLogger struct {
	noopLogger
	mu    sync.Mutex
	warns int
}

func (l *countingLogger) Warn(string, ...any) {
	l.mu.Lock()
	l.warns++
	l.mu.Unlock()
}

func newTestRegistry(t *testing.T, names ...string) (*Registry, *SQLiteHistory) {
	t.Helper()
	db := openTestDB(t)
	reg := NewRegistry(NewSQLiteStore(db.DB))
	hist := NewSQLiteHistory(db.DB)
	reg.AddObserver(hist)

	if len(names) == 0 {
		names = DefaultNames()
	}
	if err := reg.Initialize(context.Background(), names); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return reg, hist
}

func TestRegistry_EndToEnd(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t, LampOne, Fan)

	fan, err := reg.Get(ctx, Fan)
	if err != nil {
		t.Fatalf("Get(fan) error = %v", err)
	}
	if fan.Active || fan.Attributes != nil {
		t.Fatalf("seeded fan = %+v, want inactive with null attributes", fan)
	}

	active, attrs, err := EncodeFanUpdate(*fan, FanUpdate{On: ptr(true), Speed: ptr(SpeedThree)})
	if err != nil {
		t.Fatalf("EncodeFanUpdate() error = %v", err)
	}
	if _, err := reg.SetActive(ctx, Fan, active); err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}
	if _, err := reg.SetAttributes(ctx, Fan, attrs); err != nil {
		t.Fatalf("SetAttributes() error = %v", err)
	}

	st, err := reg.Fan(ctx)
	if err != nil {
		t.Fatalf("Fan() error = %v", err)
	}
	if !st.On || st.Speed != SpeedThree || st.Warning != nil {
		t.Errorf("Fan() = %+v, want on at speed 3", st)
	}

	if _, err := reg.Get(ctx, "nonexistent"); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Get(nonexistent) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_UpdateFanPreservesActive(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	if _, err := reg.Toggle(ctx, Fan); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	st, err := reg.UpdateFan(ctx, FanUpdate{Speed: ptr(SpeedTwo)})
	if err != nil {
		t.Fatalf("UpdateFan() error = %v", err)
	}
	if !st.On || st.Speed != SpeedTwo {
		t.Errorf("UpdateFan() = %+v, want on at speed 2", st)
	}

	st, err = reg.UpdateFan(ctx, FanUpdate{On: ptr(false)})
	if err != nil {
		t.Fatalf("UpdateFan() error = %v", err)
	}
	if st.On || st.Speed != SpeedTwo {
		t.Errorf("UpdateFan(off) = %+v, want off keeping speed 2", st)
	}

	if _, err := reg.UpdateFan(ctx, FanUpdate{Speed: ptr(Speed(7))}); !errors.Is(err, ErrInvalidSpeed) {
		t.Errorf("UpdateFan(7) error = %v, want ErrInvalidSpeed", err)
	}
}

func TestRegistry_UpdateAC(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	st, err := reg.UpdateAC(ctx, ACUpdate{Temperature: ptr(18.0)})
	if err != nil {
		t.Fatalf("UpdateAC() error = %v", err)
	}
	if st.On || st.Temperature == nil || *st.Temperature != 18 {
		t.Errorf("UpdateAC() = %+v, want off at 18", st)
	}

	if _, err := reg.UpdateAC(ctx, ACUpdate{Temperature: ptr(40.0)}); !errors.Is(err, ErrInvalidTemperature) {
		t.Errorf("UpdateAC(40) error = %v, want ErrInvalidTemperature", err)
	}

	got, err := reg.AC(ctx)
	if err != nil {
		t.Fatalf("AC() error = %v", err)
	}
	if got.Temperature == nil || *got.Temperature != 18 {
		t.Errorf("AC() after rejected update = %+v, want 18", got)
	}
}

func TestRegistry_MalformedAttributesWarn(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	log := &countingLogger{}
	reg.SetLogger(log)

	if _, err := reg.Toggle(ctx, Fan); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if _, err := reg.SetAttributes(ctx, Fan, Attributes("not json")); err != nil {
		t.Fatalf("SetAttributes() error = %v", err)
	}

	st, err := reg.Fan(ctx)
	if err != nil {
		t.Fatalf("Fan() error = %v, want graceful decode", err)
	}
	if !st.On || st.Speed != SpeedUnknown || st.Warning == nil {
		t.Errorf("Fan() = %+v, want on with unknown speed and a warning", st)
	}
	if log.warns != 1 {
		t.Errorf("logged %d warnings, want 1", log.warns)
	}
}

func TestRegistry_ObserversSeeEveryCommit(t *testing.T) {
	ctx := WithSource(context.Background(), SourceMQTT)
	reg, _ := newTestRegistry(t)
	obs := &recordingObserver{}
	reg.AddObserver(obs)

	if _, err := reg.Toggle(ctx, Door); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}
	if _, err := reg.UpdateAC(ctx, ACUpdate{On: ptr(true)}); err != nil {
		t.Fatalf("UpdateAC() error = %v", err)
	}
	// Failed writes are not reported.
	if _, err := reg.Toggle(ctx, "nonexistent"); err == nil {
		t.Fatal("Toggle(nonexistent) should fail")
	}

	changes := obs.all()
	if len(changes) != 2 {
		t.Fatalf("observer saw %d changes, want 2", len(changes))
	}
	if changes[0].Device.Name != Door || !changes[0].Device.Active || changes[0].Device.Version != 1 {
		t.Errorf("first change = %+v", changes[0].Device)
	}
	for _, c := range changes {
		if c.Source != SourceMQTT {
			t.Errorf("Source = %q, want %q", c.Source, SourceMQTT)
		}
		if c.EventID == "" {
			t.Error("EventID is empty")
		}
	}
	if changes[0].EventID == changes[1].EventID {
		t.Error("EventIDs should be unique")
	}
}

// lastDeliveredObserver keeps the newest change it was handed per device, the
// way a retained MQTT topic does. Odd versions are delivered slowly.
type lastDeliveredObserver struct {
	mu       sync.Mutex
	last     map[string]Device
	outOfSeq int
}

func (o *lastDeliveredObserver) OnStateChange(_ context.Context, c StateChange) error {
	if c.Device.Version%2 == 1 {
		time.Sleep(2 * time.Millisecond)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if prev, ok := o.last[c.Device.Name]; ok && c.Device.Version <= prev.Version {
		o.outOfSeq++
	}
	o.last[c.Device.Name] = c.Device
	return nil
}

func TestRegistry_ObserversSeeCommitOrder(t *testing.T) {
	const (
		rounds  = 10
		writers = 8
	)
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	obs := &lastDeliveredObserver{last: make(map[string]Device)}
	reg.AddObserver(obs)

	for round := 0; round < rounds; round++ {
		var g errgroup.Group
		for i := 0; i < writers; i++ {
			g.Go(func() error {
				if i%2 == 0 {
					_, err := reg.Toggle(ctx, Fan)
					return err
				}
				_, err := reg.UpdateFan(ctx, FanUpdate{Speed: ptr(Speed(i%3 + 1))})
				return err
			})
		}
		if err := g.Wait(); err != nil {
			t.Fatalf("round %d: write error = %v", round, err)
		}

		stored, err := reg.Get(ctx, Fan)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		obs.mu.Lock()
		seen := obs.last[Fan]
		obs.mu.Unlock()
		if seen.Version != stored.Version || seen.Active != stored.Active {
			t.Fatalf("round %d: store version=%d active=%v, last delivered version=%d active=%v",
				round, stored.Version, stored.Active, seen.Version, seen.Active)
		}
	}

	if obs.outOfSeq != 0 {
		t.Errorf("%d changes were delivered after a newer version", obs.outOfSeq)
	}
}

func TestRegistry_ObserverErrorDoesNotFailWrite(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)
	log := &countingLogger{}
	reg.SetLogger(log)
	reg.AddObserver(&recordingObserver{err: errors.New("broker down")})

	on, err := reg.Toggle(ctx, Plant)
	if err != nil {
		t.Fatalf("Toggle() error = %v, want success despite observer failure", err)
	}
	if !on {
		t.Error("Toggle() = false, want true")
	}
	if log.warns != 1 {
		t.Errorf("logged %d warnings, want 1", log.warns)
	}
}

func TestRegistry_ConcurrentTogglesHistory(t *testing.T) {
	const n = 25
	ctx := context.Background()
	reg, hist := newTestRegistry(t)

	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := reg.Toggle(ctx, Terminal)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("Toggle() error = %v", err)
	}

	d, err := reg.Get(ctx, Terminal)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if d.Active != (n%2 == 1) || d.Version != n {
		t.Errorf("terminal = active %v version %d, want %v at %d", d.Active, d.Version, n%2 == 1, n)
	}

	entries, err := hist.GetHistory(ctx, Terminal, 0)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != n {
		t.Fatalf("history has %d entries, want %d", len(entries), n)
	}
	// Newest first, one entry per state, alternating values.
	for i, e := range entries {
		wantVersion := int64(n - i)
		if e.Version != wantVersion {
			t.Errorf("entries[%d].Version = %d, want %d", i, e.Version, wantVersion)
		}
		if e.Active != (wantVersion%2 == 1) {
			t.Errorf("version %d active = %v", e.Version, e.Active)
		}
		if e.Source != SourceAPI {
			t.Errorf("Source = %q, want %q", e.Source, SourceAPI)
		}
	}
}

func TestRegistry_ConcurrentFanUpdatesAndToggles(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	var g errgroup.Group
	for i := 0; i < 30; i++ {
		speed := Speed(i%3 + 1)
		g.Go(func() error {
			_, err := reg.UpdateFan(ctx, FanUpdate{Speed: &speed})
			return err
		})
		g.Go(func() error {
			_, err := reg.Toggle(ctx, Fan)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent update error = %v", err)
	}

	d, err := reg.Get(ctx, Fan)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	// 30 toggles from off: a speed update must never have written back a stale active.
	if d.Active {
		t.Error("fan active after an even number of toggles")
	}
	if d.Version != 60 {
		t.Errorf("Version = %d, want 60", d.Version)
	}
	if st := DecodeFan(*d); !st.Speed.Valid() {
		t.Errorf("speed = %v, want a valid speed", st.Speed)
	}
}

func TestRegistry_ApplyReport(t *testing.T) {
	ctx := WithSource(context.Background(), SourceController)
	reg, hist := newTestRegistry(t)

	var rep ControllerReport
	body := `{
		"lamp_one": "on", "lamp_two": "off", "lamp_three": "on",
		"terminal": "on",
		"fan": {"status": "on", "speed": "two"},
		"tirai_left": "off", "tirai_right": "on",
		"ac": {"status": "off", "temperature": 21}
	}`
	if err := json.Unmarshal([]byte(body), &rep); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if err := reg.ApplyReport(ctx, rep); err != nil {
		t.Fatalf("ApplyReport() error = %v", err)
	}

	snap, err := reg.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if !snap.LampOne || snap.LampTwo || !snap.LampThree || !snap.Terminal || snap.TiraiLeft || !snap.TiraiRight {
		t.Errorf("Snapshot() switches = %+v", snap)
	}
	if !snap.Fan.On || snap.Fan.Speed != SpeedTwo {
		t.Errorf("Snapshot().Fan = %+v", snap.Fan)
	}
	if snap.AC.On || snap.AC.Temperature == nil || *snap.AC.Temperature != 21 {
		t.Errorf("Snapshot().AC = %+v", snap.AC)
	}

	entries, err := hist.GetHistory(ctx, Fan, 10)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 2 || entries[0].Source != SourceController {
		t.Errorf("fan history = %+v, want two controller entries", entries)
	}
}

func TestRegistry_ApplyReportRejectsBeforeWriting(t *testing.T) {
	valid := func() ControllerReport {
		return ControllerReport{
			LampOne: "on", LampTwo: "on", LampThree: "on", Terminal: "on",
			TiraiLeft: "on", TiraiRight: "on",
			Fan: FanReport{Status: "on", Speed: json.RawMessage(`1`)},
			AC:  ACReport{Status: "on", Temperature: json.RawMessage(`24`)},
		}
	}

	tests := []struct {
		name   string
		mutate func(*ControllerReport)
	}{
		{"bad switch", func(r *ControllerReport) { r.TiraiRight = "maybe" }},
		{"missing switch", func(r *ControllerReport) { r.LampTwo = "" }},
		{"bad fan status", func(r *ControllerReport) { r.Fan.Status = "ON" }},
		{"bad speed", func(r *ControllerReport) { r.Fan.Speed = json.RawMessage(`"fast"`) }},
		{"missing speed", func(r *ControllerReport) { r.Fan.Speed = nil }},
		{"bad temperature", func(r *ControllerReport) { r.AC.Temperature = json.RawMessage(`"warm"`) }},
		{"temperature out of range", func(r *ControllerReport) { r.AC.Temperature = json.RawMessage(`99`) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			reg, _ := newTestRegistry(t)
			rep := valid()
			tt.mutate(&rep)

			if err := reg.ApplyReport(ctx, rep); !errors.Is(err, ErrInvalidReport) {
				t.Fatalf("ApplyReport() error = %v, want ErrInvalidReport", err)
			}

			devices, err := reg.List(ctx)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			for _, d := range devices {
				if d.Version != 0 {
					t.Errorf("%s written by rejected report", d.Name)
				}
			}
		})
	}
}

func TestSQLiteHistory_LimitsAndPrune(t *testing.T) {
	ctx := context.Background()
	reg, hist := newTestRegistry(t)

	for i := 0; i < 5; i++ {
		if _, err := reg.Toggle(ctx, Saluran); err != nil {
			t.Fatalf("Toggle() error = %v", err)
		}
	}

	entries, err := hist.GetHistory(ctx, Saluran, 2)
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if len(entries) != 2 || entries[0].Version != 5 || entries[1].Version != 4 {
		t.Errorf("GetHistory(limit 2) = %+v, want versions 5,4", entries)
	}

	if entries, _ := hist.GetHistory(ctx, Door, 10); len(entries) != 0 {
		t.Errorf("untouched device has %d history entries", len(entries))
	}
	if _, err := hist.GetHistory(ctx, "", 10); !errors.Is(err, ErrInvalidName) {
		t.Errorf("GetHistory(\"\") error = %v, want ErrInvalidName", err)
	}

	if _, err := hist.PruneHistory(ctx, 0); err == nil {
		t.Error("PruneHistory(0) should fail")
	}
	removed, err := hist.PruneHistory(ctx, time.Hour)
	if err != nil {
		t.Fatalf("PruneHistory() error = %v", err)
	}
	if removed != 0 {
		t.Errorf("PruneHistory(1h) removed %d fresh entries", removed)
	}

	time.Sleep(5 * time.Millisecond)
	removed, err = hist.PruneHistory(ctx, time.Millisecond)
	if err != nil {
		t.Fatalf("PruneHistory() error = %v", err)
	}
	if removed != 5 {
		t.Errorf("PruneHistory(1ms) removed %d, want 5", removed)
	}
}

func TestSourceFrom(t *testing.T) {
	if got := SourceFrom(context.Background()); got != SourceAPI {
		t.Errorf("SourceFrom(background) = %q, want %q", got, SourceAPI)
	}
	if got := SourceFrom(WithSource(context.Background(), SourceController)); got != SourceController {
		t.Errorf("SourceFrom() = %q, want %q", got, SourceController)
	}
}

func TestDefaultNames(t *testing.T) {
	names := DefaultNames()
	if err := ValidateNames(names); err != nil {
		t.Fatalf("DefaultNames() invalid: %v", err)
	}
	if len(names) != 14 {
		t.Errorf("DefaultNames() has %d names, want 14", len(names))
	}
	names[0] = "mutated"
	if DefaultNames()[0] != LampOne {
		t.Error("DefaultNames() should return a fresh slice")
	}

	kinds := map[string]Kind{Fan: KindFan, AC: KindAC, Door: KindPlain}
	for name, want := range kinds {
		if got := KindOf(name); got != want {
			t.Errorf("KindOf(%s) = %s, want %s", name, got, want)
		}
	}
}

func TestRegistry_BoltStore(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(openTestBolt(t))
	obs := &recordingObserver{}
	reg.AddObserver(obs)

	if err := reg.Initialize(ctx, DefaultNames()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if _, err := reg.UpdateAC(ctx, ACUpdate{On: ptr(true), Temperature: ptr(25.5)}); err != nil {
		t.Fatalf("UpdateAC() error = %v", err)
	}

	st, err := reg.AC(ctx)
	if err != nil {
		t.Fatalf("AC() error = %v", err)
	}
	if !st.On || st.Temperature == nil || *st.Temperature != 25.5 {
		t.Errorf("AC() = %+v, want on at 25.5", st)
	}
	if len(obs.all()) != 1 {
		t.Errorf("observer saw %d changes, want 1", len(obs.all()))
	}
}
