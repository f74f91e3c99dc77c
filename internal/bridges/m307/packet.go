package m307

import (
	"fmt"
)

// Frame geometry.
const (
	// PacketSize is the size of every request and reply on the wire.
	PacketSize = 60

	// CommandSize is the size of the command header at the start of a packet.
	CommandSize = 4

	// PayloadSize is the size of the data area following the command header.
	PayloadSize = PacketSize - CommandSize

	// DefaultPort is the TCP port the device listens on.
	DefaultPort = 10001
)

// Command is the 4-byte command header of a packet.
type Command [CommandSize]byte

// String formats the command as four hex bytes, e.g. "3F CD DC 00".
func (c Command) String() string {
	return fmt.Sprintf("%02X %02X %02X %02X", c[0], c[1], c[2], c[3])
}

// Packet is one 60-byte frame: command header followed by payload.
//
// Offsets used throughout this package are packet offsets, so the first
// payload byte is at offset 4.
type Packet [PacketSize]byte

// NewPacket builds a packet from a command and up to 56 payload bytes.
// The payload is zero-padded to 56 bytes.
//
// Returns:
//   - Packet: Encoded frame
//   - error: ErrValidation if the payload is longer than 56 bytes
func NewPacket(cmd Command, payload []byte) (Packet, error) {
	var p Packet
	if len(payload) > PayloadSize {
		return p, fmt.Errorf("%w: payload is %d bytes, maximum %d", ErrValidation, len(payload), PayloadSize)
	}
	copy(p[:CommandSize], cmd[:])
	copy(p[CommandSize:], payload)
	return p, nil
}

// ParsePacket validates a received frame.
//
// Returns:
//   - Packet: The frame
//   - error: ErrProtocol if b is not exactly 60 bytes
func ParsePacket(b []byte) (Packet, error) {
	var p Packet
	if len(b) != PacketSize {
		return p, fmt.Errorf("%w: packet is %d bytes, want %d", ErrProtocol, len(b), PacketSize)
	}
	copy(p[:], b)
	return p, nil
}

// Command returns the command header.
func (p Packet) Command() Command {
	var c Command
	copy(c[:], p[:CommandSize])
	return c
}

// Payload returns a copy of the 56 data bytes.
func (p Packet) Payload() []byte {
	out := make([]byte, PayloadSize)
	copy(out, p[CommandSize:])
	return out
}

// Bytes returns a copy of the full frame.
func (p Packet) Bytes() []byte {
	out := make([]byte, PacketSize)
	copy(out, p[:])
	return out
}
