package semtech

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// PushDataPacket is used by the gateway to forward received packets and
// status information to the server.
type PushDataPacket struct {
	RandomToken uint16
	GatewayMAC  EUI64
	Payload     PushDataPayload
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (p PushDataPacket) MarshalBinary() ([]byte, error) {
	pl := p.Payload
	if pl.RXPK == nil {
		pl.RXPK = []RXPK{}
	}

	j, err := json.Marshal(pl)
	if err != nil {
		return nil, fmt.Errorf("marshal push_data payload: %w", err)
	}

	b := make([]byte, 0, gatewayHeaderSize+len(j))
	b = appendGatewayHeader(b, p.RandomToken, PushData, p.GatewayMAC)
	return append(b, j...), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (p *PushDataPacket) UnmarshalBinary(data []byte) error {
	if err := expectMinLength(data, gatewayHeaderSize+1); err != nil {
		return err
	}
	token, err := decodeHeader(data, PushData)
	if err != nil {
		return err
	}

	var pl PushDataPayload
	if err := json.Unmarshal(data[gatewayHeaderSize:], &pl); err != nil {
		return valueError("unmarshal push_data payload", err)
	}

	p.RandomToken = token
	copy(p.GatewayMAC[:], data[headerSize:gatewayHeaderSize])
	p.Payload = pl
	return nil
}

// PushDataPayload is the JSON payload of a PUSH_DATA packet.
type PushDataPayload struct {
	RXPK []RXPK `json:"rxpk"`
	Stat *Stat  `json:"stat"`
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (p *PushDataPayload) UnmarshalJSON(data []byte) error {
	var pl PushDataPayload
	err := decodeObject(data, map[string]any{
		"rxpk": &pl.RXPK,
		"stat": &pl.Stat,
	})
	if err != nil {
		return valueError("push_data", err)
	}
	*p = pl
	return nil
}

// RXPK contains a received RF packet.
type RXPK struct {
	Time time.Time  // UTC time of pkt RX, encoded in ISO 8601 'compact' format
	Tmms *uint64    // GPS time of pkt RX, milliseconds since 06.Jan.1980
	Tmst uint32     // internal timestamp of "RX finished" event
	Freq float64    // RX central frequency in MHz
	Chan uint32     // concentrator "IF" channel used for RX
	RFCh uint32     // concentrator "RF chain" used for RX
	Stat CRCStatus  // CRC status
	Modu Modulation // modulation identifier
	DatR DataRate   // datarate identifier
	CodR *CodeRate  // LoRa ECC coding rate
	RSSI int32      // RSSI in dBm
	LSNR *float32   // LoRa SNR ratio in dB
	Size uint8      // payload size in bytes, wraps above 255
	Data string     // base64 encoded payload, padded
}

type rxpkJSON struct {
	Time string     `json:"time"`
	Tmms *uint64    `json:"tmms,omitempty"`
	Tmst uint32     `json:"tmst"`
	Freq float64    `json:"freq"`
	Chan uint32     `json:"chan"`
	RFCh uint32     `json:"rfch"`
	Stat CRCStatus  `json:"stat"`
	Modu Modulation `json:"modu"`
	DatR DataRate   `json:"datr"`
	CodR *CodeRate  `json:"codr"`
	RSSI int32      `json:"rssi"`
	LSNR *float32   `json:"lsnr"`
	Size uint8      `json:"size"`
	Data string     `json:"data"`
}

// MarshalJSON implements the json.Marshaler interface.
func (r RXPK) MarshalJSON() ([]byte, error) {
	if r.Modu != r.DatR.Modulation {
		return nil, fmt.Errorf("%w: modulation %s does not match datarate", ErrMissingField, r.Modu)
	}

	return json.Marshal(rxpkJSON{
		Time: FormatCompactTime(r.Time),
		Tmms: r.Tmms,
		Tmst: r.Tmst,
		Freq: r.Freq,
		Chan: r.Chan,
		RFCh: r.RFCh,
		Stat: r.Stat,
		Modu: r.Modu,
		DatR: r.DatR,
		CodR: r.CodR,
		RSSI: r.RSSI,
		LSNR: r.LSNR,
		Size: r.Size,
		Data: r.Data,
	})
}

// UnmarshalJSON implements the json.Unmarshaler interface. time, modu and
// datr are required and modu must match the datarate.
func (r *RXPK) UnmarshalJSON(data []byte) error {
	var v rxpkJSON
	err := decodeObject(data, map[string]any{
		"time": &v.Time,
		"tmms": &v.Tmms,
		"tmst": &v.Tmst,
		"freq": &v.Freq,
		"chan": &v.Chan,
		"rfch": &v.RFCh,
		"stat": &v.Stat,
		"modu": &v.Modu,
		"datr": &v.DatR,
		"codr": &v.CodR,
		"rssi": &v.RSSI,
		"lsnr": &v.LSNR,
		"size": &v.Size,
		"data": &v.Data,
	})
	if err != nil {
		return valueError("rxpk", err)
	}

	t, err := ParseCompactTime(v.Time)
	if err != nil {
		return err
	}
	if v.Modu != v.DatR.Modulation {
		return fmt.Errorf("%w: modulation %s does not match datarate", ErrMissingField, v.Modu)
	}

	*r = RXPK{
		Time: t,
		Tmms: v.Tmms,
		Tmst: v.Tmst,
		Freq: v.Freq,
		Chan: v.Chan,
		RFCh: v.RFCh,
		Stat: v.Stat,
		Modu: v.Modu,
		DatR: v.DatR,
		CodR: v.CodR,
		RSSI: v.RSSI,
		LSNR: v.LSNR,
		Size: v.Size,
		Data: v.Data,
	}
	return nil
}

// Stat contains the status of the gateway.
type Stat struct {
	Time time.Time // UTC system time, encoded in ISO 8601 'expanded' format
	Lati float64   // latitude in degrees, N is +
	Long float64   // longitude in degrees, E is +
	Alti uint32    // altitude in meters
	RXNb uint32    // number of radio packets received
	RXOK uint32    // number of radio packets received with a valid PHY CRC
	RXFW uint32    // number of radio packets forwarded
	ACKR float32   // percentage of upstream datagrams that were acknowledged
	DWNb uint32    // number of downlink datagrams received
	TXNb uint32    // number of packets emitted
}

type statJSON struct {
	Time string  `json:"time"`
	Lati float64 `json:"lati"`
	Long float64 `json:"long"`
	Alti uint32  `json:"alti"`
	RXNb uint32  `json:"rxnb"`
	RXOK uint32  `json:"rxok"`
	RXFW uint32  `json:"rxfw"`
	ACKR ratio   `json:"ackr"`
	DWNb uint32  `json:"dwnb"`
	TXNb uint32  `json:"txnb"`
}

// MarshalJSON implements the json.Marshaler interface.
func (s Stat) MarshalJSON() ([]byte, error) {
	return json.Marshal(statJSON{
		Time: FormatExpandedTime(s.Time),
		Lati: s.Lati,
		Long: s.Long,
		Alti: s.Alti,
		RXNb: s.RXNb,
		RXOK: s.RXOK,
		RXFW: s.RXFW,
		ACKR: ratio(s.ACKR),
		DWNb: s.DWNb,
		TXNb: s.TXNb,
	})
}

// UnmarshalJSON implements the json.Unmarshaler interface. time is required.
func (s *Stat) UnmarshalJSON(data []byte) error {
	var v statJSON
	err := decodeObject(data, map[string]any{
		"time": &v.Time,
		"lati": &v.Lati,
		"long": &v.Long,
		"alti": &v.Alti,
		"rxnb": &v.RXNb,
		"rxok": &v.RXOK,
		"rxfw": &v.RXFW,
		"ackr": &v.ACKR,
		"dwnb": &v.DWNb,
		"txnb": &v.TXNb,
	})
	if err != nil {
		return valueError("stat", err)
	}

	t, err := ParseExpandedTime(v.Time)
	if err != nil {
		return err
	}

	*s = Stat{
		Time: t,
		Lati: v.Lati,
		Long: v.Long,
		Alti: v.Alti,
		RXNb: v.RXNb,
		RXOK: v.RXOK,
		RXFW: v.RXFW,
		ACKR: float32(v.ACKR),
		DWNb: v.DWNb,
		TXNb: v.TXNb,
	}
	return nil
}

// ratio is a float that always carries a decimal point on the wire (0.0).
type ratio float32

func (r ratio) MarshalJSON() ([]byte, error) {
	f := float64(r)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%w: invalid ratio %v", ErrValue, f)
	}

	s := strconv.FormatFloat(f, 'f', -1, 32)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return []byte(s), nil
}
