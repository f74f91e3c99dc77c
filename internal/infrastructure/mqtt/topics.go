package mqtt

import "fmt"

// TopicPrefix is the base for every M307 topic.
//
// Device topics use the flat scheme: m307/{category}/{device_id}
const TopicPrefix = "m307"

// Topics provides builders for M307 MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.State("cold-room-2")
//	// Returns: "m307/state/cold-room-2"
type Topics struct{}

// =============================================================================
// Device Topics
// =============================================================================

// State returns the retained topic carrying the latest status snapshot.
//
// Example: m307/state/cold-room-2
func (Topics) State(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, deviceID)
}

// Health returns the retained topic carrying bridge health for a device.
//
// Example: m307/health/cold-room-2
func (Topics) Health(deviceID string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, deviceID)
}

// Command returns the topic the bridge listens on for device commands.
//
// Example: m307/command/cold-room-2
func (Topics) Command(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// Ack returns the topic for command acknowledgements.
//
// Example: m307/ack/cold-room-2
func (Topics) Ack(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, deviceID)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllStates returns a pattern matching every device state.
//
// Pattern: m307/state/+
func (Topics) AllStates() string {
	return fmt.Sprintf("%s/state/+", TopicPrefix)
}

// AllHealth returns a pattern matching every device health topic.
//
// Pattern: m307/health/+
func (Topics) AllHealth() string {
	return fmt.Sprintf("%s/health/+", TopicPrefix)
}

// AllAcks returns a pattern matching every acknowledgement.
//
// Pattern: m307/ack/+
func (Topics) AllAcks() string {
	return fmt.Sprintf("%s/ack/+", TopicPrefix)
}

// AllTopics returns a pattern matching all M307 topics.
//
// Pattern: m307/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
