// Package mqtt provides MQTT client connectivity for Switchboard.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions restored after reconnect
//   - Last Will and Testament (LWT) on {prefix}/system/status
//
// Switchboard publishes each committed device state as a retained message on
// {prefix}/device/{name}/state and accepts controller reports on
// {prefix}/controller/report. The translation between those messages and the
// device registry lives in internal/bridges/controller; this package only
// knows about topics and payload bytes.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().ControllerReport(), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(payload)
//	    })
package mqtt
