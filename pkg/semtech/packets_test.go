package semtech

import (
	"bytes"
	"errors"
	"testing"
)

var testGatewayMAC = EUI64{1, 2, 3, 4, 5, 6, 7, 8}

func TestGetPacketType(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    PacketType
		wantErr error
	}{
		{"push data", []byte{2, 0, 123, 0, 1, 2, 3, 4, 5, 6, 7, 8}, PushData, nil},
		{"pull resp", []byte{2, 0, 123, 3, '{', '}'}, PullResp, nil},
		{"tx ack", []byte{2, 0, 123, 5}, TXACK, nil},
		{"too short", []byte{2, 0, 123}, 0, ErrFormat},
		{"version 1", []byte{1, 0, 123, 0}, 0, ErrFormat},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := GetPacketType(tc.data)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestHeaderOnlyPacketsMarshalBinary(t *testing.T) {
	tests := []struct {
		name string
		pkt  interface{ MarshalBinary() ([]byte, error) }
		want []byte
	}{
		{"push ack", PushACKPacket{RandomToken: 123}, []byte{2, 0, 123, 1}},
		{"pull data", PullDataPacket{RandomToken: 123, GatewayMAC: testGatewayMAC}, []byte{2, 0, 123, 2, 1, 2, 3, 4, 5, 6, 7, 8}},
		{"pull ack", PullACKPacket{RandomToken: 123}, []byte{2, 0, 123, 4}},
		{"big endian token", PushACKPacket{RandomToken: 0xABCD}, []byte{2, 0xAB, 0xCD, 1}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b, err := tc.pkt.MarshalBinary()
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if !bytes.Equal(b, tc.want) {
				t.Fatalf("expected % x, got % x", tc.want, b)
			}
		})
	}
}

func TestPushACKPacketUnmarshalBinary(t *testing.T) {
	var p PushACKPacket
	if err := p.UnmarshalBinary([]byte{2, 0, 123, 1}); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.RandomToken != 123 {
		t.Fatalf("expected token 123, got %d", p.RandomToken)
	}
}

func TestPullACKPacketUnmarshalBinary(t *testing.T) {
	var p PullACKPacket
	if err := p.UnmarshalBinary([]byte{2, 0, 123, 4}); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.RandomToken != 123 {
		t.Fatalf("expected token 123, got %d", p.RandomToken)
	}
}

func TestPullDataPacketUnmarshalBinary(t *testing.T) {
	var p PullDataPacket
	if err := p.UnmarshalBinary([]byte{2, 0, 123, 2, 1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if p.RandomToken != 123 || p.GatewayMAC != testGatewayMAC {
		t.Fatalf("unexpected packet: %+v", p)
	}
}

func TestHeaderOnlyPacketsUnmarshalErrors(t *testing.T) {
	tests := []struct {
		name string
		pkt  interface{ UnmarshalBinary([]byte) error }
		data []byte
	}{
		{"push ack too long", &PushACKPacket{}, []byte{2, 0, 123, 1, 0}},
		{"push ack too short", &PushACKPacket{}, []byte{2, 0, 123}},
		{"push ack wrong version", &PushACKPacket{}, []byte{1, 0, 123, 1}},
		{"push ack wrong identifier", &PushACKPacket{}, []byte{2, 0, 123, 4}},
		{"pull ack wrong identifier", &PullACKPacket{}, []byte{2, 0, 123, 1}},
		{"pull ack empty", &PullACKPacket{}, nil},
		{"pull data without gateway", &PullDataPacket{}, []byte{2, 0, 123, 2}},
		{"pull data wrong identifier", &PullDataPacket{}, []byte{2, 0, 123, 0, 1, 2, 3, 4, 5, 6, 7, 8}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.pkt.UnmarshalBinary(tc.data); !errors.Is(err, ErrFormat) {
				t.Fatalf("expected ErrFormat, got %v", err)
			}
		})
	}
}

func TestTXACKPacketMarshalBinary(t *testing.T) {
	p := TXACKPacket{
		RandomToken: 123,
		GatewayMAC:  testGatewayMAC,
		Payload: TXACKPayload{
			TXPKACK: TXPKACK{Error: "TOO_LATE"},
		},
	}

	b, err := p.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if want := []byte{2, 0, 123, 5, 1, 2, 3, 4, 5, 6, 7, 8}; !bytes.Equal(b[:12], want) {
		t.Fatalf("expected header % x, got % x", want, b[:12])
	}
	if want := `{"txpk_ack":{"error":"TOO_LATE"}}`; string(b[12:]) != want {
		t.Fatalf("expected %s, got %s", want, b[12:])
	}

	var got TXACKPacket
	if err := got.UnmarshalBinary(b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != p {
		t.Fatalf("expected %+v, got %+v", p, got)
	}
}

func TestTXACKPacketEmptyError(t *testing.T) {
	b, err := TXACKPacket{RandomToken: 1, GatewayMAC: testGatewayMAC}.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if want := `{"txpk_ack":{"error":""}}`; string(b[12:]) != want {
		t.Fatalf("expected %s, got %s", want, b[12:])
	}
}

func TestEUI64Text(t *testing.T) {
	var e EUI64
	if err := e.UnmarshalText([]byte("0102030405060708")); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if e != testGatewayMAC {
		t.Fatalf("unexpected eui: %s", e)
	}
	if e.String() != "0102030405060708" {
		t.Fatalf("unexpected string: %s", e)
	}

	for _, in := range []string{"01020304", "zz02030405060708", "010203040506070809"} {
		if err := e.UnmarshalText([]byte(in)); !errors.Is(err, ErrValue) {
			t.Errorf("%s: expected ErrValue, got %v", in, err)
		}
	}
}
