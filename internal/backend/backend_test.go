package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brocaar/chirpstack-api/go/v3/gw"
	"github.com/golang/protobuf/proto"

	"github.com/lorawan-server/udp-forwarder/internal/config"
	"github.com/lorawan-server/udp-forwarder/pkg/semtech"
)

func TestTXAckError(t *testing.T) {
	tests := []struct {
		name string
		ack  *gw.DownlinkTXAck
		want string
	}{
		{"nil", nil, ""},
		{"empty", &gw.DownlinkTXAck{}, ""},
		{"error string", &gw.DownlinkTXAck{Error: "TX_FREQ"}, "TX_FREQ"},
		{
			name: "ok",
			ack:  &gw.DownlinkTXAck{Items: []*gw.DownlinkTXAckItem{{Status: gw.TxAckStatus_OK}}},
			want: "",
		},
		{
			name: "too late",
			ack:  &gw.DownlinkTXAck{Items: []*gw.DownlinkTXAckItem{{Status: gw.TxAckStatus_TOO_LATE}}},
			want: "TOO_LATE",
		},
		{
			name: "first item ignored",
			ack: &gw.DownlinkTXAck{Items: []*gw.DownlinkTXAckItem{
				{Status: gw.TxAckStatus_IGNORED},
				{Status: gw.TxAckStatus_TX_FREQ},
			}},
			want: "TX_FREQ",
		},
		{
			name: "second item ok",
			ack: &gw.DownlinkTXAck{Items: []*gw.DownlinkTXAckItem{
				{Status: gw.TxAckStatus_TOO_EARLY},
				{Status: gw.TxAckStatus_OK},
			}},
			want: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := TXAckError(tc.ack); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestSubjects(t *testing.T) {
	if got := natsSubject("gateway", "0102030405060708", "event", "up"); got != "gateway.0102030405060708.event.up" {
		t.Errorf("unexpected nats subject %s", got)
	}
	if got := mqttTopic("gateway", "0102030405060708", "command", "down"); got != "gateway/0102030405060708/command/down" {
		t.Errorf("unexpected mqtt topic %s", got)
	}
}

func TestNewUnknownBackend(t *testing.T) {
	if _, err := New(config.BackendConfig{Type: "kafka"}, semtech.EUI64{}); err == nil {
		t.Fatal("expected an error")
	}
}

type testMessage struct {
	topic   string
	payload []byte
}

func (m testMessage) Duplicate() bool   { return false }
func (m testMessage) Qos() byte         { return 0 }
func (m testMessage) Retained() bool    { return false }
func (m testMessage) Topic() string     { return m.topic }
func (m testMessage) MessageID() uint16 { return 0 }
func (m testMessage) Payload() []byte   { return m.payload }
func (m testMessage) Ack()              {}

type testHandler struct {
	frames []*gw.UplinkFrame
	stats  []*gw.GatewayStats
}

func (h *testHandler) HandleUplinkFrame(frame *gw.UplinkFrame)   { h.frames = append(h.frames, frame) }
func (h *testHandler) HandleGatewayStats(stats *gw.GatewayStats) { h.stats = append(h.stats, stats) }

func marshal(t *testing.T, m proto.Message) []byte {
	t.Helper()
	b, err := proto.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestMQTTHandleMessage(t *testing.T) {
	b := newMQTTBackend(config.MQTTConfig{TopicPrefix: "gateway", AckTimeout: time.Second}, semtech.EUI64{1, 2, 3, 4, 5, 6, 7, 8})
	h := &testHandler{}

	frame := &gw.UplinkFrame{PhyPayload: []byte{1, 2, 3}}
	stats := &gw.GatewayStats{RxPacketsReceived: 10}

	b.handleMessage(h, testMessage{"gateway/0102030405060708/event/up", marshal(t, frame)})
	b.handleMessage(h, testMessage{"gateway/0102030405060708/event/stats", marshal(t, stats)})
	b.handleMessage(h, testMessage{"gateway/0102030405060708/event/up", []byte{0xff}})
	b.handleMessage(h, testMessage{"gateway/0102030405060708/event/conn", nil})

	if len(h.frames) != 1 || !proto.Equal(h.frames[0], frame) {
		t.Fatalf("unexpected frames %v", h.frames)
	}
	if len(h.stats) != 1 || !proto.Equal(h.stats[0], stats) {
		t.Fatalf("unexpected stats %v", h.stats)
	}
}

func TestMQTTAckCorrelation(t *testing.T) {
	b := newMQTTBackend(config.MQTTConfig{TopicPrefix: "gateway", AckTimeout: time.Second}, semtech.EUI64{})

	ch := make(chan *gw.DownlinkTXAck, 1)
	b.pending["\x01\x02"] = ch

	// unknown downlink IDs are dropped
	b.handleMessage(nil, testMessage{"gateway/0000000000000000/event/ack", marshal(t, &gw.DownlinkTXAck{DownlinkId: []byte{9}})})

	want := &gw.DownlinkTXAck{DownlinkId: []byte{1, 2}, Error: "TOO_LATE"}
	b.handleMessage(nil, testMessage{"gateway/0000000000000000/event/ack", marshal(t, want)})

	got, err := b.waitAck(context.Background(), ch)
	if err != nil {
		t.Fatalf("wait ack: %v", err)
	}
	if !proto.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if len(b.pending) != 0 {
		t.Fatalf("expected pending acks to be cleared, got %d", len(b.pending))
	}
}

func TestMQTTAckTimeout(t *testing.T) {
	b := newMQTTBackend(config.MQTTConfig{AckTimeout: 10 * time.Millisecond}, semtech.EUI64{})

	_, err := b.waitAck(context.Background(), make(chan *gw.DownlinkTXAck))
	if !errors.Is(err, ErrAckTimeout) {
		t.Fatalf("expected ErrAckTimeout, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b.cfg.AckTimeout = time.Minute
	if _, err := b.waitAck(ctx, make(chan *gw.DownlinkTXAck)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
