// Package mqtt provides MQTT client connectivity for the M307 bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The bridge polls one M307 over its binary TCP protocol and republishes
// what it reads on MQTT. Commands for the device arrive on MQTT too and
// are acknowledged on a separate topic.
//
//	M307 ↔ TCP/10001 ↔ m307 bridge ↔ MQTT Broker ↔ Dashboards / Automation
//
// Topic layout:
//
//	m307/state/{device_id}     retained status snapshot
//	m307/health/{device_id}    retained bridge health (LWT: offline)
//	m307/command/{device_id}   inbound commands
//	m307/ack/{device_id}       command acknowledgements
//
// # Security Considerations
//
//   - TLS should be enabled outside a trusted LAN (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL
//   - Anonymous access is only for local development
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT,
//	    mqtt.WithWill(mqtt.Topics{}.Health("cold-room-2"), offline))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllStates(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	topic := mqtt.Topics{}.Command("cold-room-2")
//	client.Publish(topic, []byte(`{"command":"sync_clock"}`), 1, false)
package mqtt
