// Package wire implements the line protocol spoken by the feeder
// device controller.
//
// The device talks newline-delimited ASCII over its serial link. The
// gateway sends short command tokens; the device answers with bracket-
// prefixed frames. This package is the single home of that grammar:
// both the gateway bridge and the device simulator build on it, so the
// two sides can never drift apart.
//
// # Architecture
//
//	┌─────────────────┐   tokens ──►   ┌─────────────────┐
//	│     Gateway     │                │     Device      │
//	│     Bridge      │   ◄── frames   │   Controller    │
//	└─────────────────┘                └─────────────────┘
//
// # Command Tokens
//
// One token per line, prefix:argument form. Parsing is strict: an
// unknown prefix, an unassigned code, or a malformed argument is
// rejected so the device can NAK it.
//
//	R:<code>                        fan and LED switching
//	G:<code> | G:SPD:<n>            auger motor and speed preset
//	B:<code> | B:<duty>             blower motor, direct PWM from 3 up
//	A:<code>[:<seconds>]            hatch actuator, optionally timed
//	FEED:<preset|grams> | FEED:SEQ: dispense cycles
//	CAL:tare|reset|weight:<grams>   load cell calibration
//	CFG:<KEY>:<value>               runtime settings
//	TIMING:<up>:<down>:<aug>:<blow> feed step durations
//	GET:sensors|status              on-demand reports
//	LOG:0|1                         verbose stream switch
//	STOP:all                        emergency stop
//
// Example:
//
//	tok, err := wire.ParseToken("A:1:2.5")
//	if err != nil {
//	    return err
//	}
//	fmt.Println(tok.Encode()) // "A:1:2.5"
//
// # Device Frames
//
// Every output line starts with a bracket tag naming its kind:
//
//	[DATA] TEMP1:..,WEIGHT:..,...    periodic sensor sweep
//	[ACK] <token> <result>           command accepted
//	[NAK] <token> <reason>           command rejected
//	[LOG:<ms>] / [ERROR:<ms>]        verbose stream and faults
//	[INFO] / [INFO:<ms>]             informational notes
//	[CMD:<ms>] Received: <token>     command receipt echo
//	[FEED_PROGRESS] {...}            feed cycle progress JSON
//	[FEED_COMPLETE] {...}            feed cycle result JSON
//	[ALERT] {...}                    threshold alert JSON
//	{...} / [SEND] {...}             JSON status snapshot
//
// ParseFrame never fails on unrecognised chatter; stray lines come
// back as FrameText so boot noise and debug prints flow through the
// reader harmlessly.
//
// # Thread Safety
//
// All types in this package are plain values; parsing and encoding
// share no state and are safe for concurrent use.
package wire
