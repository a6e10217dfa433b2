package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteSensorSnapshot writes one sensor snapshot to InfluxDB.
//
// This is the primary telemetry write: the bridge calls it for every
// DATA frame received from the device. The write is non-blocking;
// points are batched and sent asynchronously.
//
// Parameters:
//   - deviceID: Identifier of the reporting device (e.g. "pond-feeder-01")
//   - fields: Field name -> numeric value (only valid readings; callers
//     omit fields whose sensors failed to read)
//   - at: Reading timestamp
//
// Example:
//
//	client.WriteSensorSnapshot("pond-feeder-01", map[string]interface{}{
//	    "feed_temp_c": 18.4,
//	    "weight_kg":    1.45,
//	    "battery_v":    12.1,
//	}, time.Now())
func (c *Client) WriteSensorSnapshot(deviceID string, fields map[string]interface{}, at time.Time) {
	if !c.IsConnected() || len(fields) == 0 {
		return
	}

	point := write.NewPoint(
		"sensor_readings",
		map[string]string{
			"device_id": deviceID,
		},
		fields,
		at,
	)

	c.writeAPI.WritePoint(point)
}

// WriteActuatorState records an actuator state change.
//
// One point per transition keeps the history sparse: graphs show when
// the auger ran, not a sample per second.
//
// Parameters:
//   - deviceID: Identifier of the device
//   - target: Actuator name (led, fan, auger, blower, actuator)
//   - on: Whether the actuator is energised
//   - pwm: PWM duty 0-255 (0 for plain relays)
//   - direction: Motion direction for motors ("", "forward", "reverse", "up", "down")
func (c *Client) WriteActuatorState(deviceID, target string, on bool, pwm int, direction string) {
	if !c.IsConnected() {
		return
	}

	fields := map[string]interface{}{
		"on":  on,
		"pwm": pwm,
	}
	if direction != "" {
		fields["direction"] = direction
	}

	point := write.NewPoint(
		"actuator_state",
		map[string]string{
			"device_id": deviceID,
			"target":    target,
		},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteFeedEvent records a feed lifecycle event.
//
// Used for feed history graphs: dispensed grams over time, session
// durations, and failure markers.
//
// Parameters:
//   - deviceID: Identifier of the device
//   - sessionID: Feed session identifier
//   - event: Event kind ("started", "progress", "completed", "timeout", "aborted")
//   - grams: Grams dispensed so far (0 when unknown)
func (c *Client) WriteFeedEvent(deviceID, sessionID, event string, grams float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"feed_events",
		map[string]string{
			"device_id": deviceID,
			"event":     event,
		},
		map[string]interface{}{
			"session_id": sessionID,
			"grams":      grams,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
