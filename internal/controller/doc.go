// Package controller implements the feeder device's brain: it parses
// command tokens, drives the board outputs, polls the sensors, runs
// feed cycles, and emits the framed line protocol.
//
// # Architecture
//
//	commands ──► Submit ──┐
//	                      ▼
//	              ┌───────────────┐      ┌────────────┐
//	   tickers ──►│  single loop  │─────►│ hal.Board  │
//	              │  (Run)        │      └────────────┘
//	              └───────┬───────┘
//	                      ▼
//	               frames (io.Writer)
//
// The loop owns all mutable state. One operation runs at a time,
// selected from the command channel and the sensor, output, and
// housekeeping tickers; there is no locking inside the loop and no
// preemption. Long-running outputs stop through explicit commands,
// timed moves, or the auto-stop safety limits.
//
// # Persistence
//
// Settings and load cell calibration live in a single JSON file (the
// EEPROM stand-in), loaded once at startup and rewritten whenever a
// CAL:, CFG:, TIMING: or G:SPD: command changes them.
package controller
