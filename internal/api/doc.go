// Package api implements the HTTP REST API and WebSocket server for Switchboard.
//
// This package provides:
//   - The household paths used by the mobile app and the controller
//     (/lamp, /tirai, /fan, /ac, /arduino, /password and the plain devices)
//   - Generic device reads, toggles and history under /api/v1/devices
//   - A WebSocket hub broadcasting "device.state_changed" events
//   - Health, JSON metrics and a Prometheus exposition under /api/v1
//   - Middleware (request ID, logging, recovery, metrics, CORS, body limit)
//
// # Errors
//
// Device errors map to HTTP status codes: unknown devices are 404, invalid
// speeds, temperatures and reports are 400, storage failures are 500. Error
// bodies use the {status, code, message} envelope; successful household
// responses keep the {"message", "condition", ...} shape the clients expect.
//
// # WebSocket
//
// /ws is a one-way stream. Every committed change is pushed as
//
//	{"type": "device.state_changed", "event_id": "...", "source": "api",
//	 "timestamp": "...", "device": {...}}
//
// Repeat ?device= to follow only some devices; an unknown name is a 404.
// Events for one device arrive in version order. A client that falls behind
// is disconnected and should reconnect and re-read state.
//
// # Lifecycle
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
