// Package controller bridges the household controller's MQTT traffic to the
// device registry.
//
//	┌──────────────┐  report   ┌────────────┐  ApplyReport  ┌──────────┐
//	│  controller  │ ────────► │   bridge   │ ────────────► │ registry │
//	│  (MQTT)      │ ◄──────── │ (this pkg) │ ◄──────────── │          │
//	└──────────────┘  state    └────────────┘ OnStateChange └──────────┘
//
// Inbound, a full ControllerReport on {prefix}/controller/report is applied
// with source "mqtt". Outbound, every committed change is published retained
// on {prefix}/device/{name}/state, so a subscriber that connects late still
// receives the current value of every device.
package controller
