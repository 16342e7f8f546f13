// Package forwarder implements the gateway side of the Semtech UDP
// packet-forwarder protocol: it pushes uplinks and stats to the configured
// servers, keeps the PULL_DATA path alive and hands PULL_RESP downlinks to
// the backend.
package forwarder

import (
	"context"
	"sync"
	"time"

	"github.com/brocaar/chirpstack-api/go/v3/gw"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/udp-forwarder/internal/backend"
	"github.com/lorawan-server/udp-forwarder/internal/config"
	"github.com/lorawan-server/udp-forwarder/internal/models"
	"github.com/lorawan-server/udp-forwarder/internal/storage"
	"github.com/lorawan-server/udp-forwarder/pkg/semtech"
)

// Forwarder fans gateway events out to every configured UDP server.
type Forwarder struct {
	gatewayID semtech.EUI64
	backend   backend.Backend
	store     storage.Store
	clock     semtech.Clock
	servers   []*server
}

// New creates a forwarder. Servers are connected by Start.
func New(cfg config.ForwarderConfig, gatewayID semtech.EUI64, b backend.Backend, store storage.Store) *Forwarder {
	f := &Forwarder{
		gatewayID: gatewayID,
		backend:   b,
		store:     store,
		clock:     semtech.SystemClock,
	}
	for _, sc := range cfg.Servers {
		f.servers = append(f.servers, newServer(sc, f))
	}
	return f
}

// Start runs the servers until ctx is cancelled.
func (f *Forwarder) Start(ctx context.Context) error {
	log.Info().
		Str("gateway", f.gatewayID.String()).
		Int("servers", len(f.servers)).
		Msg("UDP 转发器启动")

	var wg sync.WaitGroup
	for _, s := range f.servers {
		wg.Add(1)
		go func(s *server) {
			defer wg.Done()
			s.run(ctx)
		}(s)
	}
	wg.Wait()

	log.Info().Msg("UDP 转发器已停止")
	return ctx.Err()
}

// HandleUplinkFrame forwards the frame to every server whose CRC filter
// accepts it. Frames that cannot be translated are dropped.
func (f *Forwarder) HandleUplinkFrame(frame *gw.UplinkFrame) {
	rxpk, err := semtech.NewRXPK(frame, f.clock)
	if err != nil {
		log.Error().Err(err).Str("gateway", f.gatewayID.String()).Msg("上行帧转换失败，已丢弃")
		f.logEvent(models.EventLog{
			Type:        models.EventTypeUplinkDrop,
			Level:       models.EventLevelError,
			Description: err.Error(),
		})
		return
	}

	for _, s := range f.servers {
		if !forwardCRC(s.cfg, rxpk.Stat) {
			log.Debug().
				Str("server", s.cfg.Server).
				Int8("stat", int8(rxpk.Stat)).
				Msg("CRC 过滤，跳过上行")
			continue
		}
		s.sendPushData(semtech.PushDataPayload{RXPK: []semtech.RXPK{rxpk}}, false)
	}
}

// HandleGatewayStats forwards the stats to every server.
func (f *Forwarder) HandleGatewayStats(stats *gw.GatewayStats) {
	stat, err := semtech.NewStat(stats, f.clock)
	if err != nil {
		log.Error().Err(err).Str("gateway", f.gatewayID.String()).Msg("网关状态转换失败，已丢弃")
		f.logEvent(models.EventLog{
			Type:        models.EventTypeStatsDrop,
			Level:       models.EventLevelError,
			Description: err.Error(),
		})
		return
	}

	for _, s := range f.servers {
		s.sendPushData(semtech.PushDataPayload{Stat: &stat}, true)
	}
}

// Status returns a snapshot of every server.
func (f *Forwarder) Status() []ServerStatus {
	out := make([]ServerStatus, 0, len(f.servers))
	for _, s := range f.servers {
		out = append(out, s.status())
	}
	return out
}

func (f *Forwarder) logEvent(event models.EventLog) {
	if f.store == nil {
		return
	}
	event.GatewayID = f.gatewayID.String()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := f.store.CreateEventLog(ctx, &event); err != nil {
		log.Error().Err(err).Str("type", string(event.Type)).Msg("保存事件日志失败")
	}
}
