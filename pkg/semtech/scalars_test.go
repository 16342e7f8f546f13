package semtech

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestCRCStatusMarshalJSON(t *testing.T) {
	tests := []struct {
		status CRCStatus
		want   string
	}{
		{CRCOK, "1"},
		{CRCFail, "-1"},
		{CRCNone, "0"},
	}

	for _, tc := range tests {
		b, err := json.Marshal(tc.status)
		if err != nil {
			t.Fatalf("marshal %d: %v", tc.status, err)
		}
		if string(b) != tc.want {
			t.Errorf("crc %d: expected %s, got %s", tc.status, tc.want, b)
		}
	}

	if _, err := json.Marshal(CRCStatus(5)); !errors.Is(err, ErrValue) {
		t.Fatalf("expected ErrValue for invalid crc status, got %v", err)
	}
}

func TestModulationJSON(t *testing.T) {
	for _, m := range []Modulation{LoRa, FSK} {
		b, err := json.Marshal(m)
		if err != nil {
			t.Fatalf("marshal %s: %v", m, err)
		}

		var got Modulation
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatalf("unmarshal %s: %v", b, err)
		}
		if got != m {
			t.Errorf("expected %s, got %s", m, got)
		}
	}

	for _, in := range []string{`"lora"`, `"Fsk"`, `"GFSK"`, `""`, `1`, `null`} {
		var m Modulation
		if err := json.Unmarshal([]byte(in), &m); !errors.Is(err, ErrValue) {
			t.Errorf("%s: expected ErrValue, got %v", in, err)
		}
	}
}

func TestDataRateRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		dr   DataRate
		want string
	}{
		{"SF12BW125", LoRaDataRate(12, 125000), `"SF12BW125"`},
		{"SF7BW250", LoRaDataRate(7, 250000), `"SF7BW250"`},
		{"SF9BW500", LoRaDataRate(9, 500000), `"SF9BW500"`},
		{"FSK 50k", FSKDataRate(50000), `50000`},
		{"FSK 0", FSKDataRate(0), `0`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b, err := json.Marshal(tc.dr)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(b) != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, b)
			}

			var got DataRate
			if err := json.Unmarshal(b, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got != tc.dr {
				t.Fatalf("expected %+v, got %+v", tc.dr, got)
			}
		})
	}
}

func TestDataRateUnmarshalErrors(t *testing.T) {
	for _, in := range []string{
		`"SF12"`,
		`"SF12BW"`,
		`"SFxBW125"`,
		`"SF12BW62.5"`,
		`"SF12BW125X"`,
		`""`,
		`-1`,
		`50000.5`,
		`true`,
		`null`,
		`{}`,
		`[]`,
	} {
		var dr DataRate
		if err := json.Unmarshal([]byte(in), &dr); !errors.Is(err, ErrValue) {
			t.Errorf("%s: expected ErrValue, got %v", in, err)
		}
	}
}

func TestParseLoRaDataRateIgnoresLetters(t *testing.T) {
	// only the shape of the tokens matters
	dr, err := ParseLoRaDataRate("XY10AB125")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if dr != LoRaDataRate(10, 125000) {
		t.Fatalf("unexpected datarate: %+v", dr)
	}
}

func TestCodeRateJSON(t *testing.T) {
	tests := []struct {
		cr   CodeRate
		want string
	}{
		{CodeRate45, `"4/5"`},
		{CodeRate46, `"4/6"`},
		{CodeRate47, `"4/7"`},
		{CodeRate48, `"4/8"`},
		{CodeRateUndefined, `null`},
	}

	for _, tc := range tests {
		b, err := json.Marshal(tc.cr)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(b) != tc.want {
			t.Errorf("expected %s, got %s", tc.want, b)
		}
	}
}

func TestCodeRateUnmarshalIsLenient(t *testing.T) {
	tests := map[string]CodeRate{
		`"4/5"`: CodeRate45,
		`"4/8"`: CodeRate48,
		`"4/9"`: CodeRateUndefined,
		`"2/3"`: CodeRateUndefined,
		`""`:    CodeRateUndefined,
	}

	for in, want := range tests {
		cr := CodeRate48
		if in == `"4/8"` {
			cr = CodeRate45
		}
		if err := json.Unmarshal([]byte(in), &cr); err != nil {
			t.Fatalf("%s: unexpected error: %v", in, err)
		}
		if cr != want {
			t.Errorf("%s: expected %v, got %v", in, want, cr)
		}
	}

	var cr CodeRate
	if err := json.Unmarshal([]byte(`45`), &cr); !errors.Is(err, ErrValue) {
		t.Fatalf("expected ErrValue for numeric codr, got %v", err)
	}
}
