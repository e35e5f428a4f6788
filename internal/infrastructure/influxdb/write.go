package influxdb

import (
	"context"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/switchboard/internal/device"
)

// MeasurementDeviceState holds one point per committed device change.
const MeasurementDeviceState = "device_state"

// DeviceStatePoint builds the point for a committed change.
//
// Tags: device, kind, source. Fields: active, version, and for the fan and
// AC their decoded speed or temperature when known.
func DeviceStatePoint(change device.StateChange) *write.Point {
	d := change.Device
	kind := device.KindOf(d.Name)

	fields := map[string]interface{}{
		"active":  d.Active,
		"version": d.Version,
	}
	switch kind {
	case device.KindFan:
		if st := device.DecodeFan(d); st.Speed.Valid() {
			fields["speed"] = int64(st.Speed)
		}
	case device.KindAC:
		if st := device.DecodeAC(d); st.Temperature != nil {
			fields["temperature"] = *st.Temperature
		}
	}

	ts := d.UpdatedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	return write.NewPoint(
		MeasurementDeviceState,
		map[string]string{
			"device": d.Name,
			"kind":   string(kind),
			"source": change.Source,
		},
		fields,
		ts,
	)
}

// OnStateChange queues a device_state point. Writes are batched and never
// block the caller; failures arrive on the SetOnError callback.
func (c *Client) OnStateChange(_ context.Context, change device.StateChange) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	c.writeAPI.WritePoint(DeviceStatePoint(change))
	return nil
}
