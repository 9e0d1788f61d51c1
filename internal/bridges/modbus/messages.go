package modbus

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/nerrad567/gray-logic-cover/internal/cover"
	"github.com/nerrad567/gray-logic-cover/internal/infrastructure/mqtt"
)

// Protocol is the protocol identifier used in topics and messages.
const Protocol = "modbus"

// CommandMessage is sent from Core to Bridge to drive a cover.
// Topic: graylogic/command/modbus/{cover_id}
type CommandMessage struct {
	// ID uniquely identifies this command for correlation with acknowledgments.
	ID string `json:"id"`

	// Timestamp is when the command was issued (UTC, ISO8601).
	Timestamp time.Time `json:"timestamp"`

	// DeviceID is the cover's unique id ("{hub}_{name}").
	DeviceID string `json:"device_id"`

	// Command is one of "open", "close", "stop", "set_position".
	Command string `json:"command"`

	// Parameters contains command-specific values.
	//   {"position": 75} for set_position
	Parameters map[string]any `json:"parameters,omitempty"`

	// Source indicates where the command originated.
	// Values: "api", "automation", "voice", "scene"
	Source string `json:"source"`

	// UserID is the user who triggered the command (if applicable).
	UserID string `json:"user_id,omitempty"`
}

// AckStatus represents the acknowledgment status of a command.
type AckStatus string

const (
	// AckAccepted indicates the command was written to the device.
	AckAccepted AckStatus = "accepted"

	// AckFailed indicates the command could not be executed.
	AckFailed AckStatus = "failed"
)

// AckMessage is sent from Bridge to Core to acknowledge a command.
// Topic: graylogic/ack/modbus/{cover_id}
type AckMessage struct {
	CommandID string    `json:"command_id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	Status    AckStatus `json:"status"`
	Protocol  string    `json:"protocol"`

	// Address is "{hub}/{slave}/{register}", empty for unknown covers.
	Address string `json:"address,omitempty"`

	// Error contains details if status is "failed".
	Error *AckError `json:"error,omitempty"`
}

// AckError contains error details for failed commands.
type AckError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for command and request failures.
const (
	ErrCodeNotConfigured     = "NOT_CONFIGURED"
	ErrCodeNotReady          = "NOT_READY"
	ErrCodeInvalidCommand    = "INVALID_COMMAND"
	ErrCodeInvalidParameters = "INVALID_PARAMETERS"
	ErrCodeDeviceUnreachable = "DEVICE_UNREACHABLE"
)

// StateMessage is sent from Bridge to Core when a cover's state changes.
// Topic: graylogic/state/modbus/{cover_id}
// QoS: 1, Retained: Yes
type StateMessage struct {
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	State     StatePayload   `json:"state"`
	Device    cover.Metadata `json:"device"`
	Protocol  string         `json:"protocol"`
	Address   string         `json:"address"`
}

// StatePayload is the cover state as seen by Core.
//
// LastState is the device's own previous-motion report, not the motion the
// bridge last observed.
type StatePayload struct {
	Position     int    `json:"position"`
	Setpoint     int    `json:"setpoint"`
	Motion       string `json:"motion"`
	LastState    string `json:"last_state"`
	Available    bool   `json:"available"`
	DisplayState string `json:"display_state"`
}

// HealthStatus represents the operational status of the bridge.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"

	// HealthOffline is only ever sent by the broker, from the LWT.
	HealthOffline  HealthStatus = "offline"
	HealthStarting HealthStatus = "starting"
	HealthStopping HealthStatus = "stopping"
)

// HealthMessage is sent from Bridge to Core to report operational status.
// Topic: graylogic/health/modbus
// QoS: 1, Retained: Yes
type HealthMessage struct {
	Bridge        string       `json:"bridge"`
	Timestamp     time.Time    `json:"timestamp"`
	Status        HealthStatus `json:"status"`
	Version       string       `json:"version,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`

	// DevicesManaged is the number of configured covers.
	DevicesManaged int `json:"devices_managed"`

	// Covers summarises acquisition and availability.
	Covers *CoverSummary `json:"covers,omitempty"`

	// Hubs lists per-hub request counters.
	Hubs []HubStatus `json:"hubs,omitempty"`

	// Reason explains the status (especially for offline/degraded).
	Reason string `json:"reason,omitempty"`
}

// CoverSummary counts covers by readiness.
type CoverSummary struct {
	Total     int `json:"total"`
	Acquired  int `json:"acquired"`
	Available int `json:"available"`
}

// HubStatus describes one hub link in health reports.
type HubStatus struct {
	Name      string `json:"name"`
	Address   string `json:"address"`
	Connected bool   `json:"connected"`
	Reads     uint64 `json:"reads"`
	Writes    uint64 `json:"writes"`
	Errors    uint64 `json:"errors"`
}

// RequestMessage is sent from Core to Bridge for request/response operations.
// Topic: graylogic/request/modbus/{request_id}
type RequestMessage struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	// Action is "read_state" or "list".
	Action string `json:"action"`

	// DeviceID is the target cover for read_state.
	DeviceID string `json:"device_id,omitempty"`

	Parameters map[string]any `json:"parameters,omitempty"`
}

// Request actions.
const (
	ActionReadState = "read_state"
	ActionList      = "list"
)

// ResponseMessage is sent from Bridge to Core in response to a request.
// Topic: graylogic/response/modbus/{request_id}
type ResponseMessage struct {
	RequestID string         `json:"request_id"`
	Timestamp time.Time      `json:"timestamp"`
	Success   bool           `json:"success"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
}

// ResponseError contains error details for failed requests.
type ResponseError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// UnmarshalJSON unmarshals a CommandMessage, tolerating an empty timestamp.
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

// ParseCommand converts a command name and its parameters to a cover command.
//
// Returns:
//   - cover.Command: the command to execute
//   - error: ErrUnknownCommand or ErrInvalidParameters
func ParseCommand(name string, params map[string]any) (cover.Command, error) {
	switch name {
	case cover.CommandOpen.String():
		return cover.OpenCommand, nil
	case cover.CommandClose.String():
		return cover.CloseCommand, nil
	case cover.CommandStop.String():
		return cover.StopCommand, nil
	case cover.CommandSetPosition.String():
		raw, ok := params["position"]
		if !ok {
			return cover.Command{}, fmt.Errorf("%w: position is required", ErrInvalidParameters)
		}
		position, err := intParam(raw)
		if err != nil {
			return cover.Command{}, fmt.Errorf("%w: position: %w", ErrInvalidParameters, err)
		}
		return cover.SetPositionCommand(position), nil
	default:
		return cover.Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}
}

// intParam accepts the numeric shapes a JSON decoder may produce.
func intParam(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, fmt.Errorf("%v is not a whole number", n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, err
		}
		return int(i), nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// NewAckMessage creates an acknowledgment message for a command.
func NewAckMessage(cmd CommandMessage, status AckStatus, address string) AckMessage {
	return AckMessage{
		CommandID: cmd.ID,
		Timestamp: time.Now().UTC(),
		DeviceID:  cmd.DeviceID,
		Status:    status,
		Protocol:  Protocol,
		Address:   address,
	}
}

// NewAckError creates a failed acknowledgment with error details.
func NewAckError(cmd CommandMessage, address, code, message string) AckMessage {
	ack := NewAckMessage(cmd, AckFailed, address)
	ack.Error = &AckError{Code: code, Message: message}
	return ack
}

// NewStateMessage creates a state message from a controller snapshot.
func NewStateMessage(snap cover.Snapshot, desc cover.Descriptor) StateMessage {
	return StateMessage{
		DeviceID:  snap.ID,
		Timestamp: snap.Timestamp,
		State: StatePayload{
			Position:     snap.State.Position,
			Setpoint:     snap.State.Setpoint,
			Motion:       snap.State.Motion.String(),
			LastState:    snap.State.LastMotion.String(),
			Available:    snap.State.Available,
			DisplayState: snap.Display,
		},
		Device:   desc.Metadata(),
		Protocol: Protocol,
		Address:  coverAddress(desc),
	}
}

// NewLWTMessage creates a Last Will and Testament message for MQTT.
// This message is published by the broker if the bridge disconnects unexpectedly.
func NewLWTMessage(bridgeID string) HealthMessage {
	return HealthMessage{
		Bridge:    bridgeID,
		Timestamp: time.Now().UTC(),
		Status:    HealthOffline,
		Reason:    "unexpected_disconnect",
	}
}

// LWTPayload returns the marshalled LWT message for bridgeID.
func LWTPayload(bridgeID string) ([]byte, error) {
	return json.Marshal(NewLWTMessage(bridgeID))
}

// coverAddress formats a cover's bus location as "{hub}/{slave}/{register}".
func coverAddress(d cover.Descriptor) string {
	return fmt.Sprintf("%s/%d/%d", d.Hub, d.Slave, d.Address)
}

// Topic helpers

var topics = mqtt.Topics{}

// AckTopic returns the acknowledgment topic for a cover.
func AckTopic(coverID string) string {
	return topics.BridgeAck(Protocol, coverID)
}

// StateTopic returns the retained state topic for a cover.
func StateTopic(coverID string) string {
	return topics.BridgeState(Protocol, coverID)
}

// HealthTopic returns the bridge health topic.
func HealthTopic() string {
	return topics.BridgeHealth(Protocol)
}

// ResponseTopic returns the response topic for a request.
func ResponseTopic(requestID string) string {
	return topics.BridgeResponse(Protocol, requestID)
}

// CommandSubscribeTopic matches every cover command.
func CommandSubscribeTopic() string {
	return topics.BridgeCommands(Protocol)
}

// RequestSubscribeTopic matches every request.
func RequestSubscribeTopic() string {
	return topics.BridgeRequests(Protocol)
}
