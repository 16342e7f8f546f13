package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/brocaar/chirpstack-api/go/v3/gw"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/protobuf/proto"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/udp-forwarder/internal/config"
	"github.com/lorawan-server/udp-forwarder/pkg/semtech"
)

// MQTTBackend exchanges protobuf encoded frames over MQTT:
//
//	<prefix>/<gateway_id>/event/up      uplink frames
//	<prefix>/<gateway_id>/event/stats   gateway stats
//	<prefix>/<gateway_id>/event/ack     downlink acks, matched on downlink_id
//	<prefix>/<gateway_id>/command/down  downlink frames
type MQTTBackend struct {
	client    mqtt.Client
	cfg       config.MQTTConfig
	gatewayID string

	mu      sync.Mutex
	pending map[string]chan *gw.DownlinkTXAck
}

// NewMQTTBackend connects to the MQTT broker.
func NewMQTTBackend(cfg config.MQTTConfig, gatewayID semtech.EUI64) (*MQTTBackend, error) {
	b := newMQTTBackend(cfg, gatewayID)

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "udp-forwarder-" + b.gatewayID
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Server)
	opts.SetClientID(clientID)
	opts.SetCleanSession(cfg.CleanSession)
	opts.SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Str("server", cfg.Server).Msg("MQTT 已连接")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Error().Err(err).Str("server", cfg.Server).Msg("MQTT 连接断开")
	})

	b.client = mqtt.NewClient(opts)
	token := b.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect mqtt %s: timeout", cfg.Server)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt %s: %w", cfg.Server, err)
	}

	return b, nil
}

func newMQTTBackend(cfg config.MQTTConfig, gatewayID semtech.EUI64) *MQTTBackend {
	return &MQTTBackend{
		cfg:       cfg,
		gatewayID: gatewayID.String(),
		pending:   make(map[string]chan *gw.DownlinkTXAck),
	}
}

func mqttTopic(prefix, gatewayID string, parts ...string) string {
	return strings.Join(append([]string{prefix, gatewayID}, parts...), "/")
}

// Start subscribes to the event topics.
func (b *MQTTBackend) Start(ctx context.Context, h Handler) error {
	filters := map[string]byte{
		mqttTopic(b.cfg.TopicPrefix, b.gatewayID, "event", "+"): b.cfg.QOS,
	}

	token := b.client.SubscribeMultiple(filters, func(_ mqtt.Client, msg mqtt.Message) {
		b.handleMessage(h, msg)
	})
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("subscribe mqtt: timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe mqtt: %w", err)
	}

	log.Info().Interface("topics", filters).Msg("已订阅 MQTT 网关事件")
	return nil
}

func (b *MQTTBackend) handleMessage(h Handler, msg mqtt.Message) {
	event := msg.Topic()[strings.LastIndex(msg.Topic(), "/")+1:]

	switch event {
	case "up":
		var frame gw.UplinkFrame
		if err := proto.Unmarshal(msg.Payload(), &frame); err != nil {
			log.Error().Err(err).Str("topic", msg.Topic()).Msg("解析上行帧失败")
			return
		}
		h.HandleUplinkFrame(&frame)
	case "stats":
		var stats gw.GatewayStats
		if err := proto.Unmarshal(msg.Payload(), &stats); err != nil {
			log.Error().Err(err).Str("topic", msg.Topic()).Msg("解析网关状态失败")
			return
		}
		h.HandleGatewayStats(&stats)
	case "ack":
		var ack gw.DownlinkTXAck
		if err := proto.Unmarshal(msg.Payload(), &ack); err != nil {
			log.Error().Err(err).Str("topic", msg.Topic()).Msg("解析下行确认失败")
			return
		}
		b.handleAck(&ack)
	default:
		log.Debug().Str("topic", msg.Topic()).Msg("忽略未知事件")
	}
}

func (b *MQTTBackend) handleAck(ack *gw.DownlinkTXAck) {
	key := string(ack.GetDownlinkId())

	b.mu.Lock()
	ch, ok := b.pending[key]
	delete(b.pending, key)
	b.mu.Unlock()

	if !ok {
		log.Warn().Hex("downlink_id", ack.GetDownlinkId()).Msg("收到未知下行的确认")
		return
	}
	ch <- ack
}

// SendDownlinkFrame publishes the frame and waits for the ack carrying the
// same downlink ID.
func (b *MQTTBackend) SendDownlinkFrame(ctx context.Context, frame *gw.DownlinkFrame) (*gw.DownlinkTXAck, error) {
	data, err := proto.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("marshal downlink frame: %w", err)
	}

	key := string(frame.GetDownlinkId())
	ch := make(chan *gw.DownlinkTXAck, 1)
	b.mu.Lock()
	b.pending[key] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, key)
		b.mu.Unlock()
	}()

	topic := mqttTopic(b.cfg.TopicPrefix, b.gatewayID, "command", "down")
	token := b.client.Publish(topic, b.cfg.QOS, false, data)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return nil, fmt.Errorf("publish %s: %w", topic, err)
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return b.waitAck(ctx, ch)
}

func (b *MQTTBackend) waitAck(ctx context.Context, ch <-chan *gw.DownlinkTXAck) (*gw.DownlinkTXAck, error) {
	timer := time.NewTimer(b.cfg.AckTimeout)
	defer timer.Stop()

	select {
	case ack := <-ch:
		return ack, nil
	case <-timer.C:
		return nil, ErrAckTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close disconnects from the broker.
func (b *MQTTBackend) Close() error {
	b.client.Disconnect(250)
	return nil
}
