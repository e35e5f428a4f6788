// Package influxdb records device state changes as InfluxDB time series.
//
// A connected *Client is registered as a device state observer; every
// committed change becomes one device_state point tagged with the device,
// its kind and the source of the write. Points are batched according to
// influxdb.batch_size and influxdb.flush_interval.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	registry.AddObserver(client)
package influxdb
