// Package mqtt provides MQTT connectivity for the feeder service.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - An optional embedded broker for single-box deployments
//
// # Architecture
//
// MQTT is the feeder's message bus: clients (dashboard, feederctl,
// automations) publish control messages, and the bridge publishes
// device state, sensor snapshots, and events.
//
//	Clients ↔ MQTT Broker ↔ Bridge ↔ Serial Device
//
// The broker is normally an external Mosquitto instance, but the
// embedded mochi-mqtt broker can be enabled in config so the whole
// stack runs from one binary on the pond box.
//
// # Topic Hierarchy
//
//	feeder/control/{target}   control messages in        (clients)
//	feeder/command            raw token passthrough in   (clients)
//	feeder/status             aggregate state, retained  (bridge)
//	feeder/sensors            sensor snapshots           (bridge)
//	feeder/events/feed        feed progress/completion   (bridge)
//	feeder/events/command     command outcomes (ack/nak) (bridge)
//	feeder/bridge/health      bridge health, retained    (bridge)
//	feeder/system/status      online/offline + LWT       (bridge)
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	// Subscribe to all control messages
//	err = client.Subscribe(mqtt.Topics{}.AllControl(), 1,
//	    func(topic string, payload []byte) error {
//	        target, _ := mqtt.Topics{}.ControlTarget(topic)
//	        return handleControl(target, payload)
//	    })
//
//	// Publish a retained status update
//	client.PublishRetained(mqtt.Topics{}.Status(), statusJSON)
package mqtt
