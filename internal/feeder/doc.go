// Package feeder defines the domain model shared by the bridge, the
// controller, the HTTP API, and the CLI: targets, commands, sensor
// readings, feed requests, device settings, and the live state registry.
//
// # Model
//
// The feeder has six addressable targets: two relay outputs (led, fan),
// three PWM motor outputs (auger, blower, actuator), and the synthetic
// system target for emergency stop. Commands pair a target with an
// action from a per-target allow-list; anything outside the list is
// rejected before it reaches the device.
//
// Sensor readings use pointer fields so a failed sensor is represented
// as absent rather than as a bogus number. Derived values (battery
// percentage, charging) are computed upstream and carried alongside
// the raw electrical readings.
//
// # Registry
//
// Registry is the single source of truth for "what is the device doing
// right now". The bridge writes readings and actuator states into it
// from the serial read loop; the API serves snapshots from it; the
// WebSocket hub subscribes to its change feed.
//
//	reg := feeder.NewRegistry("pond-feeder-01", 10*time.Second)
//	ch, unsubscribe := reg.Subscribe(1)
//	defer unsubscribe()
//
//	go func() {
//	    for snap := range ch {
//	        broadcast(snap)
//	    }
//	}()
package feeder
