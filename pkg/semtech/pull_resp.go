package semtech

import (
	"encoding/json"
	"errors"
	"fmt"
)

// PullRespPacket is used by the server to send a packet to the gateway for
// transmission.
type PullRespPacket struct {
	RandomToken uint16
	Payload     PullRespPayload
}

// PullRespPayload is the JSON payload of a PULL_RESP packet.
type PullRespPayload struct {
	TXPK TXPK `json:"txpk"`
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p PullRespPacket) MarshalBinary() ([]byte, error) {
	j, err := json.Marshal(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal pull_resp payload: %w", err)
	}

	b := make([]byte, 0, headerSize+len(j))
	b = appendHeader(b, p.RandomToken, PullResp)
	return append(b, j...), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *PullRespPacket) UnmarshalBinary(data []byte) error {
	if err := expectMinLength(data, headerSize+1); err != nil {
		return err
	}
	token, err := decodeHeader(data, PullResp)
	if err != nil {
		return err
	}

	var pl PullRespPayload
	if err := json.Unmarshal(data[headerSize:], &pl); err != nil {
		return valueError("unmarshal pull_resp payload", err)
	}

	p.RandomToken = token
	p.Payload = pl
	return nil
}

// UnmarshalJSON implements the json.Unmarshaler interface. txpk is required.
func (p *PullRespPayload) UnmarshalJSON(data []byte) error {
	var txpk json.RawMessage
	if err := decodeObject(data, map[string]any{"txpk": &txpk}); err != nil {
		return valueError("pull_resp", err)
	}
	if txpk == nil {
		return fmt.Errorf("%w: pull_resp: missing field %q", ErrValue, "txpk")
	}
	return json.Unmarshal(txpk, &p.TXPK)
}

// decodeObject decodes the members of a JSON object into fields. Keys match
// exactly, anything else is ignored.
func decodeObject(data []byte, fields map[string]any) error {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return err
	}
	for key, raw := range members {
		v, ok := fields[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, v); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// valueError wraps err with ErrValue unless it already is one.
func valueError(msg string, err error) error {
	if errors.Is(err, ErrValue) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrValue, msg, err)
}

// TXPK contains a packet to transmit. Pointer fields are optional.
type TXPK struct {
	Imme *bool      // send packet immediately (ignores tmst and tmms)
	Tmst *uint32    // send packet on a certain concentrator timestamp value
	Tmms *uint64    // send packet at a certain GPS time
	Freq float64    // TX central frequency in MHz
	RFCh uint8      // concentrator "RF chain" used for TX
	Powe uint8      // TX output power in dBm
	Modu Modulation // modulation identifier
	DatR DataRate   // datarate identifier
	CodR *CodeRate  // LoRa ECC coding rate
	FDev *uint32    // FSK frequency deviation in Hz
	IPol *bool      // LoRa polarization inversion
	Prea *uint8     // RF preamble size
	Size uint8      // payload size in bytes
	Data string     // base64 encoded payload, padding optional
	NCRC *bool      // disable the physical layer CRC
}

type txpkJSON struct {
	Imme *bool       `json:"imme,omitempty"`
	Tmst *uint32     `json:"tmst,omitempty"`
	Tmms *uint64     `json:"tmms,omitempty"`
	Freq *float64    `json:"freq"`
	RFCh *uint8      `json:"rfch"`
	Powe *uint8      `json:"powe"`
	Modu *Modulation `json:"modu"`
	DatR *DataRate   `json:"datr"`
	CodR *CodeRate   `json:"codr,omitempty"`
	FDev *uint32     `json:"fdev,omitempty"`
	IPol *bool       `json:"ipol,omitempty"`
	Prea *uint8      `json:"prea,omitempty"`
	Size *uint8      `json:"size"`
	Data *string     `json:"data"`
	NCRC *bool       `json:"ncrc,omitempty"`
}

// MarshalJSON implements the json.Marshaler interface.
func (t TXPK) MarshalJSON() ([]byte, error) {
	return json.Marshal(txpkJSON{
		Imme: t.Imme,
		Tmst: t.Tmst,
		Tmms: t.Tmms,
		Freq: &t.Freq,
		RFCh: &t.RFCh,
		Powe: &t.Powe,
		Modu: &t.Modu,
		DatR: &t.DatR,
		CodR: t.CodR,
		FDev: t.FDev,
		IPol: t.IPol,
		Prea: t.Prea,
		Size: &t.Size,
		Data: &t.Data,
		NCRC: t.NCRC,
	})
}

// UnmarshalJSON implements the json.Unmarshaler interface. freq, rfch, powe,
// modu, datr, size and data are required.
func (t *TXPK) UnmarshalJSON(data []byte) error {
	var v txpkJSON
	err := decodeObject(data, map[string]any{
		"imme": &v.Imme,
		"tmst": &v.Tmst,
		"tmms": &v.Tmms,
		"freq": &v.Freq,
		"rfch": &v.RFCh,
		"powe": &v.Powe,
		"modu": &v.Modu,
		"datr": &v.DatR,
		"codr": &v.CodR,
		"fdev": &v.FDev,
		"ipol": &v.IPol,
		"prea": &v.Prea,
		"size": &v.Size,
		"data": &v.Data,
		"ncrc": &v.NCRC,
	})
	if err != nil {
		return valueError("txpk", err)
	}

	var missing string
	switch {
	case v.Freq == nil:
		missing = "freq"
	case v.RFCh == nil:
		missing = "rfch"
	case v.Powe == nil:
		missing = "powe"
	case v.Modu == nil:
		missing = "modu"
	case v.DatR == nil:
		missing = "datr"
	case v.Size == nil:
		missing = "size"
	case v.Data == nil:
		missing = "data"
	}
	if missing != "" {
		return fmt.Errorf("%w: txpk: missing field %q", ErrValue, missing)
	}

	*t = TXPK{
		Imme: v.Imme,
		Tmst: v.Tmst,
		Tmms: v.Tmms,
		Freq: *v.Freq,
		RFCh: *v.RFCh,
		Powe: *v.Powe,
		Modu: *v.Modu,
		DatR: *v.DatR,
		CodR: v.CodR,
		FDev: v.FDev,
		IPol: v.IPol,
		Prea: v.Prea,
		Size: *v.Size,
		Data: *v.Data,
		NCRC: v.NCRC,
	}
	return nil
}
