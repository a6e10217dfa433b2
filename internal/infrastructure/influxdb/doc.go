// Package influxdb provides time-series storage for feeder telemetry.
//
// It wraps the official influxdb-client-go v2 library with patterns for
// connection management, batched writes, and Flux history queries.
//
// # Purpose
//
// This package handles time-series data for:
//   - Sensor readings (temperature, weight, battery, solar, soil)
//   - Actuator state transitions
//   - Feed events and per-day totals
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	// Write a sensor snapshot
//	client.WriteSensorSnapshot("pond-feeder-01", fields, time.Now())
//
//	// Query 24h of water temperature at 5m resolution
//	points, err := client.QuerySensorHistory(ctx, "pond-feeder-01",
//	    "feed_temp_c", 24*time.Hour, 5*time.Minute)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write operations are non-blocking and batch errors are delivered via
// the SetOnError callback. Connection, health check, and query errors
// are returned directly.
package influxdb
