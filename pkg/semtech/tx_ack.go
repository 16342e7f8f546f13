package semtech

import (
	"encoding/json"
	"fmt"
)

// TXACKPacket is used by the gateway to report whether a PULL_RESP was
// accepted for transmission.
type TXACKPacket struct {
	RandomToken uint16
	GatewayMAC  EUI64
	Payload     TXACKPayload
}

// TXACKPayload is the JSON payload of a TX_ACK packet.
type TXACKPayload struct {
	TXPKACK TXPKACK `json:"txpk_ack"`
}

// TXPKACK holds the transmission result. Error is empty on success.
type TXPKACK struct {
	Error string `json:"error"`
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p TXACKPacket) MarshalBinary() ([]byte, error) {
	j, err := json.Marshal(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal tx_ack payload: %w", err)
	}

	b := make([]byte, 0, gatewayHeaderSize+len(j))
	b = appendGatewayHeader(b, p.RandomToken, TXACK, p.GatewayMAC)
	return append(b, j...), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *TXACKPacket) UnmarshalBinary(data []byte) error {
	if err := expectMinLength(data, gatewayHeaderSize+1); err != nil {
		return err
	}
	token, err := decodeHeader(data, TXACK)
	if err != nil {
		return err
	}

	var pl TXACKPayload
	if err := json.Unmarshal(data[gatewayHeaderSize:], &pl); err != nil {
		return valueError("unmarshal tx_ack payload", err)
	}

	p.RandomToken = token
	copy(p.GatewayMAC[:], data[headerSize:gatewayHeaderSize])
	p.Payload = pl
	return nil
}
