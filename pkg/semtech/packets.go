// Package semtech implements the Semtech UDP packet-forwarder protocol
// (binary header plus JSON payload) and its translation to and from the
// ChirpStack gateway control-plane messages.
//
// All functions are stateless and safe for concurrent use.
package semtech

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// ProtocolVersion is the only supported protocol version.
const ProtocolVersion uint8 = 0x02

// PacketType defines the packet type (the identifier byte).
type PacketType byte

// Available packet types.
const (
	PushData PacketType = iota
	PushACK
	PullData
	PullResp
	PullACK
	TXACK
)

func (t PacketType) String() string {
	switch t {
	case PushData:
		return "PUSH_DATA"
	case PushACK:
		return "PUSH_ACK"
	case PullData:
		return "PULL_DATA"
	case PullResp:
		return "PULL_RESP"
	case PullACK:
		return "PULL_ACK"
	case TXACK:
		return "TX_ACK"
	}
	return fmt.Sprintf("PacketType(%d)", byte(t))
}

const (
	headerSize        = 4
	gatewayHeaderSize = headerSize + 8
)

// EUI64 is the 8 byte gateway identifier carried in the header.
type EUI64 [8]byte

// String returns the hex representation.
func (e EUI64) String() string {
	return hex.EncodeToString(e[:])
}

// MarshalText implements encoding.TextMarshaler.
func (e EUI64) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (e *EUI64) UnmarshalText(text []byte) error {
	b, err := hex.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("%w: eui64: %v", ErrValue, err)
	}
	if len(b) != len(e) {
		return fmt.Errorf("%w: eui64: expected %d bytes, got %d", ErrValue, len(e), len(b))
	}
	copy(e[:], b)
	return nil
}

// GetPacketType returns the packet type of the given packet after checking
// its minimum length and protocol version.
func GetPacketType(data []byte) (PacketType, error) {
	if len(data) < headerSize {
		return 0, fmt.Errorf("%w: at least %d bytes expected, got: %d", ErrFormat, headerSize, len(data))
	}
	if data[0] != ProtocolVersion {
		return 0, fmt.Errorf("%w: expected protocol version: %d, got: %d", ErrFormat, ProtocolVersion, data[0])
	}
	return PacketType(data[3]), nil
}

func appendHeader(b []byte, token uint16, t PacketType) []byte {
	b = append(b, ProtocolVersion)
	b = binary.BigEndian.AppendUint16(b, token)
	return append(b, byte(t))
}

func appendGatewayHeader(b []byte, token uint16, t PacketType, gatewayMAC EUI64) []byte {
	return append(appendHeader(b, token, t), gatewayMAC[:]...)
}

// decodeHeader validates the protocol version and identifier and returns the
// random token. The caller validates the length first.
func decodeHeader(data []byte, t PacketType) (uint16, error) {
	if data[0] != ProtocolVersion {
		return 0, fmt.Errorf("%w: expected protocol version: %d, got: %d", ErrFormat, ProtocolVersion, data[0])
	}
	if PacketType(data[3]) != t {
		return 0, fmt.Errorf("%w: invalid identifier: %d, expected %s", ErrFormat, data[3], t)
	}
	return binary.BigEndian.Uint16(data[1:3]), nil
}

func expectLength(data []byte, n int) error {
	if len(data) != n {
		return fmt.Errorf("%w: expected %d bytes, got: %d", ErrFormat, n, len(data))
	}
	return nil
}

func expectMinLength(data []byte, n int) error {
	if len(data) < n {
		return fmt.Errorf("%w: expected at least %d bytes, got: %d", ErrFormat, n, len(data))
	}
	return nil
}

// PushACKPacket is used by the server to acknowledge a PUSH_DATA packet.
type PushACKPacket struct {
	RandomToken uint16
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p PushACKPacket) MarshalBinary() ([]byte, error) {
	return appendHeader(make([]byte, 0, headerSize), p.RandomToken, PushACK), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *PushACKPacket) UnmarshalBinary(data []byte) error {
	if err := expectLength(data, headerSize); err != nil {
		return err
	}
	token, err := decodeHeader(data, PushACK)
	if err != nil {
		return err
	}
	p.RandomToken = token
	return nil
}

// PullDataPacket is sent by the gateway to poll for downlinks and to keep
// the route to the server open.
type PullDataPacket struct {
	RandomToken uint16
	GatewayMAC  EUI64
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p PullDataPacket) MarshalBinary() ([]byte, error) {
	return appendGatewayHeader(make([]byte, 0, gatewayHeaderSize), p.RandomToken, PullData, p.GatewayMAC), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *PullDataPacket) UnmarshalBinary(data []byte) error {
	if err := expectLength(data, gatewayHeaderSize); err != nil {
		return err
	}
	token, err := decodeHeader(data, PullData)
	if err != nil {
		return err
	}
	p.RandomToken = token
	copy(p.GatewayMAC[:], data[headerSize:gatewayHeaderSize])
	return nil
}

// PullACKPacket is used by the server to confirm that the route is open.
type PullACKPacket struct {
	RandomToken uint16
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p PullACKPacket) MarshalBinary() ([]byte, error) {
	return appendHeader(make([]byte, 0, headerSize), p.RandomToken, PullACK), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *PullACKPacket) UnmarshalBinary(data []byte) error {
	if err := expectLength(data, headerSize); err != nil {
		return err
	}
	token, err := decodeHeader(data, PullACK)
	if err != nil {
		return err
	}
	p.RandomToken = token
	return nil
}
