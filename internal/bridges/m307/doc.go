// Package m307 implements the client side of the M307 Temperature Guard
// TCP protocol and the MQTT bridge that exposes a guard to the rest of the
// site.
//
// The M307 is a small environmental monitor with two external temperature
// probes, an internal temperature/humidity sensor, two dry-contact door
// inputs, a relay, a buzzer and an on-board data log of up to 4000 entries.
// It speaks a proprietary request/response protocol on TCP port 10001.
//
// # Architecture
//
//	┌─────────────────┐          ┌─────────────────┐
//	│   MQTT / Influx │◄────────►│   M307 Bridge   │   TCP 10001
//	│   consumers     │          │   (this pkg)    │◄────────► M307 device
//	└─────────────────┘          └─────────────────┘
//
// The package is layered bottom-up:
//
//   - codec.go: int16, BCD, temperature and humidity conversions
//   - packet.go: the fixed 60-byte frame (4-byte command + 56-byte payload)
//   - layout.go, records.go: named field tables for the six user records
//   - status.go: status, log info and log entry decoding
//   - session.go: one TCP connection with per-request deadlines
//   - client.go: the command set (status, records, clock, log)
//   - logreader.go: the iterative log drain
//   - bridge.go: polling, MQTT state/health publishing and command handling
//
// # Wire Format
//
// Every request and every reply is exactly 60 bytes. Multi-byte integers are
// big-endian two's complement. Timestamps are BCD. There is no checksum, no
// sequence number and no delimiter; correlation relies on strictly one
// request in flight per connection.
//
// Example:
//
//	err := m307.WithSession(ctx, m307.SessionConfig{Address: "10.0.0.50:10001"},
//	    func(c *m307.Client) error {
//	        st, err := c.ReadStatus(ctx)
//	        if err != nil {
//	            return err
//	        }
//	        fmt.Println(st.Temp1.Reading)
//	        return nil
//	    })
//
// # Thread Safety
//
// A Session and the Client built on it handle one request at a time and are
// not safe for concurrent use. The Bridge serialises its own device access.
package m307
