package m307

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// MQTT message types exchanged between the bridge and the rest of the site.

// Command names accepted on the command topic.
const (
	// CommandReadStatus polls the device immediately and returns the status.
	CommandReadStatus = "read_status"

	// CommandSyncClock sets the device clock to the bridge's wall time.
	// Parameters: {"log_rate": minutes} (optional, defaults to the
	// configured rate).
	CommandSyncClock = "sync_clock"

	// CommandDrainLog streams the device log to telemetry.
	// Parameters: {"reset": bool} (optional, default false: continue from
	// the device's current log pointer).
	CommandDrainLog = "drain_log"

	// CommandBackupRecords stores an image of all six user records.
	CommandBackupRecords = "backup_records"
)

// CommandMessage is sent to the bridge to operate the device.
// Topic: m307/command/{device_id}
type CommandMessage struct {
	// ID correlates the command with its acknowledgement. The bridge
	// assigns one when it is missing.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Command is the command name (e.g., "sync_clock", "drain_log").
	Command string `json:"command"`

	// Parameters contains command-specific values.
	// Examples:
	//   {"log_rate": 5} for sync_clock
	//   {"reset": true} for drain_log
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated.
	Source string `json:"source,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was executed on the device.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"

	// AckTimeout indicates the device did not respond within the timeout.
	AckTimeout AckStatus = "timeout"
)

// AckMessage is sent by the bridge to acknowledge a command.
// Topic: m307/ack/{device_id}
type AckMessage struct {
	// CommandID is the ID from the original command.
	CommandID string `json:"command_id"`

	// Timestamp is when the acknowledgment was sent (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the configured device identifier.
	DeviceID string `json:"device_id"`

	// Command is the command name being acknowledged.
	Command string `json:"command"`

	// Status indicates the acknowledgment status.
	Status AckStatus `json:"status"`

	// Result carries command output, such as the backup ID or the number
	// of drained entries.
	Result map[string]any `json:"result,omitempty"`

	// Error contains details if status is "failed" or "timeout".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	// Code is the error code (e.g., "DEVICE_UNREACHABLE", "INVALID_COMMAND").
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`
}

// Error codes for command failures.
const (
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeProtocolError     = "PROTOCOL_ERROR"
	ErrCodeTimeout           = "TIMEOUT"
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeBridgeError       = "BRIDGE_ERROR"
)

// errNotConfigured marks commands whose sink (telemetry or record store)
// was not supplied to the bridge.
var errNotConfigured = errors.New("m307: not configured")

// errUnknownCommand is returned for a command name the bridge does not handle.
var errUnknownCommand = errors.New("m307: unknown command")

// errorCode maps an error to the acknowledgement error code.
func errorCode(err error) string {
	switch {
	case errors.Is(err, errUnknownCommand):
		return ErrCodeInvalidCommand
	case errors.Is(err, errNotConfigured):
		return ErrCodeNotConfigured
	case errors.Is(err, ErrValidation), errors.Is(err, ErrRange):
		return ErrCodeInvalidParameters
	case errors.Is(err, ErrTimeout):
		return ErrCodeTimeout
	case errors.Is(err, ErrConnection):
		return ErrCodeDeviceUnreachable
	case errors.Is(err, ErrProtocol), errors.Is(err, ErrFormat):
		return ErrCodeProtocolError
	default:
		return ErrCodeBridgeError
	}
}

// StateMessage carries the latest status snapshot of a device.
// Topic: m307/state/{device_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	// DeviceID is the configured device identifier.
	DeviceID string `json:"device_id"`

	// Timestamp is when the status was polled (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status is the decoded status reply.
	Status Status `json:"status"`

	// Alarm is true when any input is in alarm.
	Alarm bool `json:"alarm"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	// HealthHealthy indicates the bridge is polling the device normally.
	HealthHealthy HealthStatus = "healthy"

	// HealthDegraded indicates the bridge runs but the last poll failed.
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline indicates the bridge is not connected (from LWT).
	HealthOffline HealthStatus = "offline"

	// HealthStarting indicates the bridge is starting up.
	HealthStarting HealthStatus = "starting"

	// HealthStopping indicates the bridge is shutting down.
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage reports the operational status of the bridge.
// Topic: m307/health/{device_id}
// QoS: 1, Retained: Yes
// Interval: Every 30 seconds
type HealthMessage struct {
	// DeviceID is the configured device identifier.
	DeviceID string `json:"device_id"`

	// Timestamp is when the health status was generated (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// Status indicates the current operational status.
	Status HealthStatus `json:"status"`

	// Version is the bridge software version.
	Version string `json:"version,omitempty"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// Device describes the last contact with the M307.
	Device *DeviceConnection `json:"device,omitempty"`

	// Statistics contains operational metrics.
	Statistics *BridgeStatistics `json:"statistics,omitempty"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// DeviceConnection describes the bridge's view of the device.
type DeviceConnection struct {
	// Address is the device dial address.
	Address string `json:"address"`

	// Reachable is true when the most recent poll succeeded.
	Reachable bool `json:"reachable"`

	// LastPoll is when the device last answered a poll.
	LastPoll *time.Time `json:"last_poll,omitempty"`

	// LastError is the most recent device error, cleared on success.
	LastError string `json:"last_error,omitempty"`
}

// BridgeStatistics contains operational metrics.
type BridgeStatistics struct {
	// Polls is the number of successful status polls.
	Polls uint64 `json:"polls"`

	// PollErrors is the number of failed status polls.
	PollErrors uint64 `json:"poll_errors"`

	// Commands is the number of commands handled.
	Commands uint64 `json:"commands"`

	// LogEntries is the number of log entries drained to telemetry.
	LogEntries uint64 `json:"log_entries"`
}

// UnmarshalJSON unmarshals a CommandMessage from JSON.
func (m *CommandMessage) UnmarshalJSON(data []byte) error {
	type Alias CommandMessage
	aux := &struct {
		*Alias
		Timestamp string `json:"timestamp"`
	}{
		Alias: (*Alias)(m),
	}
	if err := json.Unmarshal(data, aux); err != nil {
		return fmt.Errorf("unmarshal command message: %w", err)
	}
	if aux.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, aux.Timestamp)
		if err != nil {
			return fmt.Errorf("parse timestamp: %w", err)
		}
		m.Timestamp = t
	}
	return nil
}

// intParam reads an optional integer parameter. JSON numbers arrive as
// float64 and must be integral.
func (m CommandMessage) intParam(name string) (int, bool, error) {
	v, ok := m.Parameters[name]
	if !ok || v == nil {
		return 0, false, nil
	}
	switch n := v.(type) {
	case float64:
		if n != math.Trunc(n) || n < math.MinInt32 || n > math.MaxInt32 {
			return 0, false, fmt.Errorf("%w: %s must be an integer, got %v", ErrValidation, name, n)
		}
		return int(n), true, nil
	default:
		if i, ok := toInt(v); ok {
			return i, true, nil
		}
		return 0, false, fmt.Errorf("%w: %s must be an integer, got %T", ErrValidation, name, v)
	}
}

// boolParam reads an optional boolean parameter.
func (m CommandMessage) boolParam(name string) (bool, error) {
	v, ok := m.Parameters[name]
	if !ok || v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s must be a boolean, got %T", ErrValidation, name, v)
	}
	return b, nil
}

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, deviceID string, status AckStatus, result map[string]any) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  deviceID,
		Command:   cmd.Command,
		Status:    status,
		Result:    result,
	}
}

// NewAckError creates an acknowledgment with error details.
func NewAckError(cmd CommandMessage, deviceID, code, message string) AckMessage {
	status := AckFailed
	if code == ErrCodeTimeout {
		status = AckTimeout
	}
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  deviceID,
		Command:   cmd.Command,
		Status:    status,
		Error: &AckError{
			Code:    code,
			Message: message,
		},
	}
}

// NewStateMessage creates a state message for a polled status.
func NewStateMessage(deviceID string, st Status, at time.Time) StateMessage {
	return StateMessage{
		DeviceID:  deviceID,
		Timestamp: at.UTC(),
		Status:    st,
		Alarm:     st.AnyAlarm(),
	}
}

// NewHealthMessage creates a health status message.
func NewHealthMessage(deviceID, version string, status HealthStatus, dev DeviceConnection, stats BridgeStatistics, startTime time.Time) HealthMessage {
	return HealthMessage{
		DeviceID:      deviceID,
		Timestamp:     time.Now().UTC(),
		Status:        status,
		Version:       version,
		UptimeSeconds: int64(time.Since(startTime).Seconds()),
		Device:        &dev,
		Statistics:    &stats,
	}
}

// NewLWTMessage creates a Last Will and Testament message for MQTT.
// This message is published by the broker if the bridge disconnects unexpectedly.
func NewLWTMessage(deviceID string) HealthMessage {
	return HealthMessage{
		DeviceID:  deviceID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// Topic helpers

const (
	// TopicPrefix is the base topic for all M307 messages.
	TopicPrefix = "m307"
)

// StateTopic returns the MQTT topic for status snapshots.
// Example: m307/state/cold-room-2
func StateTopic(deviceID string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, deviceID)
}

// HealthTopic returns the MQTT topic for bridge health.
// Example: m307/health/cold-room-2
func HealthTopic(deviceID string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, deviceID)
}

// CommandTopic returns the MQTT topic the bridge takes commands on.
// Example: m307/command/cold-room-2
func CommandTopic(deviceID string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, deviceID)
}

// AckTopic returns the MQTT topic for command acknowledgments.
// Example: m307/ack/cold-room-2
func AckTopic(deviceID string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, deviceID)
}
