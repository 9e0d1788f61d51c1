package mqtt

import "fmt"

// Topic prefixes.
//
// Bridge topics use the flat scheme graylogic/{category}/{protocol}/{id}.
const (
	TopicPrefixBridge = "graylogic"
	TopicPrefixSystem = "graylogic/system"
)

// Topics provides builders for Gray Logic MQTT topics.
//
//	topic := mqtt.Topics{}.BridgeState("modbus", "aac20_living_room")
//	// graylogic/state/modbus/aac20_living_room
type Topics struct{}

// BridgeState returns the retained state topic for one device.
func (Topics) BridgeState(protocol, id string) string {
	return fmt.Sprintf("%s/state/%s/%s", TopicPrefixBridge, protocol, id)
}

// BridgeCommand returns the command topic for one device.
func (Topics) BridgeCommand(protocol, id string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefixBridge, protocol, id)
}

// BridgeAck returns the command acknowledgement topic for one device.
func (Topics) BridgeAck(protocol, id string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefixBridge, protocol, id)
}

// BridgeRequest returns the request topic for a request id.
func (Topics) BridgeRequest(protocol, requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefixBridge, protocol, requestID)
}

// BridgeResponse returns the response topic for a request id.
func (Topics) BridgeResponse(protocol, requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefixBridge, protocol, requestID)
}

// BridgeHealth returns the health topic of a bridge.
func (Topics) BridgeHealth(protocol string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefixBridge, protocol)
}

// BridgeCommands matches every command for a protocol.
func (Topics) BridgeCommands(protocol string) string {
	return fmt.Sprintf("%s/command/%s/#", TopicPrefixBridge, protocol)
}

// BridgeRequests matches every request for a protocol.
func (Topics) BridgeRequests(protocol string) string {
	return fmt.Sprintf("%s/request/%s/#", TopicPrefixBridge, protocol)
}

// SystemStatus returns the client online/offline topic.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}
