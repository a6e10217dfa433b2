package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the feeder MQTT hierarchy.
//
// The bridge owns everything under feeder/: clients publish control
// messages, the bridge publishes state, sensor, event, and health topics.
const (
	// TopicPrefix is the base for all feeder topics.
	TopicPrefix = "feeder"

	// TopicPrefixEvents is the base for event topics.
	TopicPrefixEvents = "feeder/events"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "feeder/system"
)

// Topics provides builders for feeder MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	topic := topics.Control("auger")
//	// Returns: "feeder/control/auger"
type Topics struct{}

// =============================================================================
// Inbound (client -> bridge)
// =============================================================================

// Control returns the topic for JSON control messages to a single target.
//
// Example: feeder/control/auger
func (Topics) Control(target string) string {
	return fmt.Sprintf("%s/control/%s", TopicPrefix, target)
}

// AllControl returns a pattern matching control messages for every target.
//
// Pattern: feeder/control/+
func (Topics) AllControl() string {
	return fmt.Sprintf("%s/control/+", TopicPrefix)
}

// Command returns the topic for raw protocol tokens.
//
// Payloads are single command tokens (e.g. "FEED:small") passed through
// to the device after validation.
//
// Example: feeder/command
func (Topics) Command() string {
	return fmt.Sprintf("%s/command", TopicPrefix)
}

// =============================================================================
// Outbound (bridge -> clients)
// =============================================================================

// Status returns the aggregate device status topic.
// Published retained so new subscribers immediately see the last state.
//
// Example: feeder/status
func (Topics) Status() string {
	return fmt.Sprintf("%s/status", TopicPrefix)
}

// Sensors returns the topic for periodic sensor snapshots.
//
// Example: feeder/sensors
func (Topics) Sensors() string {
	return fmt.Sprintf("%s/sensors", TopicPrefix)
}

// FeedEvents returns the topic for feed progress and completion events.
//
// Example: feeder/events/feed
func (Topics) FeedEvents() string {
	return fmt.Sprintf("%s/feed", TopicPrefixEvents)
}

// CommandEvents returns the topic for command outcome events (ack/nak).
//
// Example: feeder/events/command
func (Topics) CommandEvents() string {
	return fmt.Sprintf("%s/command", TopicPrefixEvents)
}

// AlertEvents returns the topic for device alerts (high temperature,
// low battery, low feed weight).
//
// Example: feeder/events/alert
func (Topics) AlertEvents() string {
	return fmt.Sprintf("%s/alert", TopicPrefixEvents)
}

// BridgeHealth returns the topic for bridge health status.
// Published retained with an LWT counterpart for crash detection.
//
// Example: feeder/bridge/health
func (Topics) BridgeHealth() string {
	return fmt.Sprintf("%s/bridge/health", TopicPrefix)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the service online/offline status topic.
// This is also the LWT topic configured at connect time.
//
// Example: feeder/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllEvents returns a pattern matching all event topics.
//
// Pattern: feeder/events/+
func (Topics) AllEvents() string {
	return fmt.Sprintf("%s/+", TopicPrefixEvents)
}

// AllTopics returns a pattern matching every feeder topic.
// Use with caution - this receives ALL traffic.
//
// Pattern: feeder/#
func (Topics) AllTopics() string {
	return fmt.Sprintf("%s/#", TopicPrefix)
}

// ControlTarget extracts the target segment from a control topic.
//
// Returns false if the topic is not a single-target control topic.
//
//	target, ok := mqtt.Topics{}.ControlTarget("feeder/control/led")
//	// target == "led", ok == true
func (Topics) ControlTarget(topic string) (string, bool) {
	prefix := TopicPrefix + "/control/"
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	target := strings.TrimPrefix(topic, prefix)
	if target == "" || strings.Contains(target, "/") {
		return "", false
	}
	return target, true
}
