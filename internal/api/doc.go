// Package api provides the HTTP REST API and WebSocket server for the
// feeder daemon.
//
// It exposes the live device status, control and feed operations, the
// command log, feed session history, sensor history and schedule CRUD
// to clients, plus Prometheus metrics and a WebSocket push channel for
// status and event streams.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple
// goroutines.
package api
