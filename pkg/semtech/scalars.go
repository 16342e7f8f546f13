package semtech

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"unicode"
	"unicode/utf8"
)

// CRCStatus is the CRC status of a received packet.
type CRCStatus int8

// Available CRC statuses.
const (
	CRCNone CRCStatus = 0
	CRCOK   CRCStatus = 1
	CRCFail CRCStatus = -1
)

// MarshalJSON implements the json.Marshaler interface.
func (c CRCStatus) MarshalJSON() ([]byte, error) {
	switch c {
	case CRCOK:
		return []byte("1"), nil
	case CRCFail:
		return []byte("-1"), nil
	case CRCNone:
		return []byte("0"), nil
	}
	return nil, fmt.Errorf("%w: invalid crc status %d", ErrValue, int8(c))
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (c *CRCStatus) UnmarshalJSON(data []byte) error {
	switch string(bytes.TrimSpace(data)) {
	case "null":
	case "1":
		*c = CRCOK
	case "-1":
		*c = CRCFail
	case "0":
		*c = CRCNone
	default:
		return fmt.Errorf("%w: invalid crc status %s", ErrValue, data)
	}
	return nil
}

// Modulation is the modulation kind of a packet.
type Modulation uint8

// Available modulations. The zero value is invalid.
const (
	LoRa Modulation = iota + 1
	FSK
)

func (m Modulation) String() string {
	switch m {
	case LoRa:
		return "LORA"
	case FSK:
		return "FSK"
	}
	return fmt.Sprintf("Modulation(%d)", uint8(m))
}

// MarshalJSON implements the json.Marshaler interface.
func (m Modulation) MarshalJSON() ([]byte, error) {
	switch m {
	case LoRa, FSK:
		return []byte(`"` + m.String() + `"`), nil
	}
	return nil, fmt.Errorf("%w: invalid modulation %d", ErrValue, uint8(m))
}

// UnmarshalJSON implements the json.Unmarshaler interface. Only the exact
// strings "LORA" and "FSK" are accepted.
func (m *Modulation) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: modu: %v", ErrValue, err)
	}

	switch s {
	case "LORA":
		*m = LoRa
	case "FSK":
		*m = FSK
	default:
		return fmt.Errorf("%w: unexpected modulation %q", ErrValue, s)
	}
	return nil
}

// DataRate holds either a LoRa (spreading factor and bandwidth) or an FSK
// (bitrate) datarate. Modulation tells which of the two is set.
type DataRate struct {
	Modulation      Modulation
	SpreadingFactor uint32
	Bandwidth       uint32 // Hz
	BitRate         uint32 // bits per second
}

// LoRaDataRate returns a LoRa datarate, bandwidth in Hz.
func LoRaDataRate(spreadingFactor, bandwidth uint32) DataRate {
	return DataRate{
		Modulation:      LoRa,
		SpreadingFactor: spreadingFactor,
		Bandwidth:       bandwidth,
	}
}

// FSKDataRate returns an FSK datarate.
func FSKDataRate(bitRate uint32) DataRate {
	return DataRate{
		Modulation: FSK,
		BitRate:    bitRate,
	}
}

func (d DataRate) String() string {
	switch d.Modulation {
	case LoRa:
		return fmt.Sprintf("SF%dBW%d", d.SpreadingFactor, d.Bandwidth/1000)
	case FSK:
		return strconv.FormatUint(uint64(d.BitRate), 10)
	}
	return "invalid"
}

// MarshalJSON implements the json.Marshaler interface. LoRa is encoded as
// "SF<sf>BW<kHz>", FSK as a plain number.
func (d DataRate) MarshalJSON() ([]byte, error) {
	switch d.Modulation {
	case LoRa:
		return []byte(`"` + d.String() + `"`), nil
	case FSK:
		return []byte(d.String()), nil
	}
	return nil, fmt.Errorf("%w: invalid datarate modulation %d", ErrValue, uint8(d.Modulation))
}

// UnmarshalJSON implements the json.Unmarshaler interface.
func (d *DataRate) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("%w: empty datarate", ErrValue)
	}

	switch c := data[0]; {
	case c == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("%w: datr: %v", ErrValue, err)
		}
		dr, err := ParseLoRaDataRate(s)
		if err != nil {
			return err
		}
		*d = dr
	case c == '-' || (c >= '0' && c <= '9'):
		br, err := strconv.ParseUint(string(data), 10, 32)
		if err != nil {
			return fmt.Errorf("%w: invalid fsk datarate %s", ErrValue, data)
		}
		*d = FSKDataRate(uint32(br))
	default:
		return fmt.Errorf("%w: unexpected datarate type", ErrValue)
	}
	return nil
}

// ParseLoRaDataRate parses a datarate identifier like "SF12BW125". The string
// is split on letters and must yield exactly five tokens, the third holding
// the spreading factor and the fifth the bandwidth in kHz.
func ParseLoRaDataRate(s string) (DataRate, error) {
	parts := splitOnLetters(s)
	if len(parts) != 5 {
		return DataRate{}, fmt.Errorf("%w: invalid datarate string %q", ErrValue, s)
	}

	sf, err := strconv.ParseUint(parts[2], 10, 32)
	if err != nil {
		return DataRate{}, fmt.Errorf("%w: parse sf error: %v", ErrValue, err)
	}
	bw, err := strconv.ParseUint(parts[4], 10, 32)
	if err != nil {
		return DataRate{}, fmt.Errorf("%w: parse bw error: %v", ErrValue, err)
	}

	return LoRaDataRate(uint32(sf), uint32(bw)*1000), nil
}

// splitOnLetters splits s around every letter, keeping empty tokens.
func splitOnLetters(s string) []string {
	var parts []string
	start := 0
	for i, r := range s {
		if unicode.IsLetter(r) {
			parts = append(parts, s[start:i])
			start = i + utf8.RuneLen(r)
		}
	}
	return append(parts, s[start:])
}

// CodeRate is the LoRa ECC coding rate.
type CodeRate uint8

// Available coding rates.
const (
	CodeRateUndefined CodeRate = iota
	CodeRate45
	CodeRate46
	CodeRate47
	CodeRate48
)

// String returns "4/5" .. "4/8", or an empty string when undefined.
func (c CodeRate) String() string {
	switch c {
	case CodeRate45:
		return "4/5"
	case CodeRate46:
		return "4/6"
	case CodeRate47:
		return "4/7"
	case CodeRate48:
		return "4/8"
	}
	return ""
}

// ParseCodeRate maps "4/5" .. "4/8" to their CodeRate. Anything else is
// CodeRateUndefined.
func ParseCodeRate(s string) CodeRate {
	switch s {
	case "4/5":
		return CodeRate45
	case "4/6":
		return CodeRate46
	case "4/7":
		return CodeRate47
	case "4/8":
		return CodeRate48
	}
	return CodeRateUndefined
}

// MarshalJSON implements the json.Marshaler interface.
func (c CodeRate) MarshalJSON() ([]byte, error) {
	s := c.String()
	if s == "" {
		return []byte("null"), nil
	}
	return []byte(`"` + s + `"`), nil
}

// UnmarshalJSON implements the json.Unmarshaler interface. Unknown strings
// decode to CodeRateUndefined.
func (c *CodeRate) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: codr: %v", ErrValue, err)
	}
	*c = ParseCodeRate(s)
	return nil
}
