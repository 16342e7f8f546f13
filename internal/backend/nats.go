package backend

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/brocaar/chirpstack-api/go/v3/gw"
	"github.com/golang/protobuf/proto"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/udp-forwarder/internal/config"
	"github.com/lorawan-server/udp-forwarder/pkg/semtech"
)

// NATSBackend exchanges protobuf encoded frames over NATS:
//
//	<prefix>.<gateway_id>.event.up      uplink frames
//	<prefix>.<gateway_id>.event.stats   gateway stats
//	<prefix>.<gateway_id>.command.down  downlink request, replied with the ack
type NATSBackend struct {
	nc        *nats.Conn
	cfg       config.NATSConfig
	gatewayID string

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewNATSBackend connects to NATS.
func NewNATSBackend(cfg config.NATSConfig, gatewayID semtech.EUI64) (*NATSBackend, error) {
	nc, err := nats.Connect(cfg.URL,
		nats.Name("udp-forwarder-"+gatewayID.String()),
		nats.UserInfo(cfg.Username, cfg.Password),
		nats.ReconnectWait(cfg.ReconnectInterval),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS 连接断开")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS 已重新连接")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	return &NATSBackend{
		nc:        nc,
		cfg:       cfg,
		gatewayID: gatewayID.String(),
	}, nil
}

func natsSubject(prefix, gatewayID string, parts ...string) string {
	return strings.Join(append([]string{prefix, gatewayID}, parts...), ".")
}

// Start subscribes to the uplink and stats subjects.
func (b *NATSBackend) Start(ctx context.Context, h Handler) error {
	upSubject := natsSubject(b.cfg.SubjectPrefix, b.gatewayID, "event", "up")
	up, err := b.nc.Subscribe(upSubject, func(msg *nats.Msg) {
		var frame gw.UplinkFrame
		if err := proto.Unmarshal(msg.Data, &frame); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject).Msg("解析上行帧失败")
			return
		}
		h.HandleUplinkFrame(&frame)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", upSubject, err)
	}

	statsSubject := natsSubject(b.cfg.SubjectPrefix, b.gatewayID, "event", "stats")
	stats, err := b.nc.Subscribe(statsSubject, func(msg *nats.Msg) {
		var s gw.GatewayStats
		if err := proto.Unmarshal(msg.Data, &s); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject).Msg("解析网关状态失败")
			return
		}
		h.HandleGatewayStats(&s)
	})
	if err != nil {
		if uerr := up.Unsubscribe(); uerr != nil {
			log.Error().Err(uerr).Str("subject", upSubject).Msg("取消订阅失败")
		}
		return fmt.Errorf("subscribe %s: %w", statsSubject, err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, up, stats)
	b.mu.Unlock()

	log.Info().
		Str("up", upSubject).
		Str("stats", statsSubject).
		Msg("已订阅 NATS 网关事件")
	return nil
}

// SendDownlinkFrame publishes the frame as a request and decodes the reply
// as the TX acknowledgement.
func (b *NATSBackend) SendDownlinkFrame(ctx context.Context, frame *gw.DownlinkFrame) (*gw.DownlinkTXAck, error) {
	data, err := proto.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("marshal downlink frame: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.cfg.RequestTimeout)
		defer cancel()
	}

	subject := natsSubject(b.cfg.SubjectPrefix, b.gatewayID, "command", "down")
	msg, err := b.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrAckTimeout, err)
		}
		return nil, fmt.Errorf("request %s: %w", subject, err)
	}

	var ack gw.DownlinkTXAck
	if err := proto.Unmarshal(msg.Data, &ack); err != nil {
		return nil, fmt.Errorf("unmarshal downlink ack: %w", err)
	}
	return &ack, nil
}

// Close drops the subscriptions and drains the connection.
func (b *NATSBackend) Close() error {
	b.mu.Lock()
	for _, sub := range b.subs {
		if err := sub.Unsubscribe(); err != nil {
			log.Error().Err(err).Str("subject", sub.Subject).Msg("取消订阅失败")
		}
	}
	b.subs = nil
	b.mu.Unlock()

	return b.nc.Drain()
}
