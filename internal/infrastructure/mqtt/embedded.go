package mqtt

import (
	"fmt"
	"log/slog"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
)

// EmbeddedBroker runs an in-process MQTT broker so the feeder works on
// hosts without Mosquitto installed. It is a full broker: external
// clients (dashboards, feederctl) connect to it like any other.
//
// The broker accepts all connections. The feeder is a LAN appliance;
// access control happens at the network boundary and the HTTP API,
// not per MQTT client.
type EmbeddedBroker struct {
	server *mochi.Server
	listen string
}

// StartEmbeddedBroker starts an embedded MQTT broker on the given address.
//
// The broker runs until Close is called. Listeners are served on
// background goroutines; this function returns once they are bound.
//
// Parameters:
//   - listen: TCP listen address (e.g. "0.0.0.0:1883")
//   - logger: slog logger for broker internals (nil for mochi's default)
//
// Returns:
//   - *EmbeddedBroker: Running broker
//   - error: If a listener cannot be bound
func StartEmbeddedBroker(listen string, logger *slog.Logger) (*EmbeddedBroker, error) {
	opts := &mochi.Options{
		// Inline client lets the host process publish without a network
		// round trip. Unused for now; the bridge connects over loopback
		// so the same code path works against external brokers.
		InlineClient: true,
	}
	if logger != nil {
		opts.Logger = logger
	}

	server := mochi.New(opts)

	if err := server.AddHook(new(auth.AllowHook), nil); err != nil {
		return nil, fmt.Errorf("embedded broker: adding auth hook: %w", err)
	}

	tcp := listeners.NewTCP(listeners.Config{
		ID:      "tcp",
		Address: listen,
	})
	if err := server.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("embedded broker: adding TCP listener: %w", err)
	}

	if err := server.Serve(); err != nil {
		return nil, fmt.Errorf("embedded broker: serving: %w", err)
	}

	return &EmbeddedBroker{
		server: server,
		listen: listen,
	}, nil
}

// Addr returns the configured listen address.
func (b *EmbeddedBroker) Addr() string {
	return b.listen
}

// ClientCount returns the number of currently connected clients.
func (b *EmbeddedBroker) ClientCount() int {
	return len(b.server.Clients.GetAll())
}

// Close shuts down the broker and disconnects all clients.
func (b *EmbeddedBroker) Close() error {
	if b.server == nil {
		return nil
	}
	return b.server.Close()
}
