// Package feeder implements the bridge between the feeder controller
// board and the rest of the system.
//
// The bridge owns the device link: a newline-framed text stream over
// TCP, reaching either the simulator directly or a serial-TCP gateway
// (ser2net) in front of the real board. Everything the device says
// arrives as frames; everything said to the device goes out as command
// tokens.
//
// Responsibilities:
//   - Relay commands from MQTT control topics and the HTTP API to the
//     device, recording every relayed line in the command log and
//     resolving it when the matching ACK or NAK comes back.
//   - Fan incoming frames out: sensor sweeps to the state registry,
//     MQTT and InfluxDB; feed progress and completion to the session
//     store; alerts and device logs to the daemon log.
//   - Track feed cycles as sessions, from the triggering command to the
//     device's completion report, adopting cycles the bridge did not
//     start (daemon restart mid-feed, serial console).
//   - Publish the retained device status snapshot and periodic bridge
//     health, and nudge the device when the sensor stream goes quiet.
//
// The device link reconnects on its own with exponential backoff, so
// the bridge survives device reboots and gateway restarts without
// intervention. InfluxDB writes sit behind a circuit breaker: when the
// store is down, persistence is skipped while readings keep flowing to
// MQTT clients.
package feeder
