// Package mqtt provides MQTT client connectivity for the cover bridge.
//
// MQTT is the bus between Gray Logic Core and its protocol bridges. This
// package wraps paho.mqtt.golang with:
//   - auto-reconnect and subscription restore
//   - QoS and payload validation on publish
//   - panic-safe message handlers
//   - a configurable Last Will and Testament
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT, &mqtt.Will{
//	    Topic:    mqtt.Topics{}.BridgeHealth("modbus"),
//	    Payload:  lwt,
//	    QoS:      1,
//	    Retained: true,
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.BridgeCommands("modbus"), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
//
// Security: use TLS (broker.tls) outside local development. Credentials
// are never logged.
package mqtt
