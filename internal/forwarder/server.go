package forwarder

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/udp-forwarder/internal/backend"
	"github.com/lorawan-server/udp-forwarder/internal/config"
	"github.com/lorawan-server/udp-forwarder/internal/models"
	"github.com/lorawan-server/udp-forwarder/pkg/semtech"
)

// txAckInternalError is reported in TX_ACK when the backend could not
// deliver the downlink or returned no acknowledgement.
const txAckInternalError = "INTERNAL_ERROR"

// ServerStatus is a snapshot of one UDP server connection
type ServerStatus struct {
	Server      string     `json:"server"`
	Connected   bool       `json:"connected"`
	UplinksSent uint64     `json:"uplinksSent"`
	StatsSent   uint64     `json:"statsSent"`
	PushACKs    uint64     `json:"pushAcks"`
	PullACKs    uint64     `json:"pullAcks"`
	Downlinks   uint64     `json:"downlinks"`
	TXAckErrors uint64     `json:"txAckErrors"`
	LastSeen    *time.Time `json:"lastSeen,omitempty"`
}

// server 单个 UDP 服务器连接
type server struct {
	cfg config.ServerConfig
	f   *Forwarder

	mu               sync.Mutex
	conn             *net.UDPConn
	connected        bool // 收到与最近 PULL_DATA 匹配的 PULL_ACK
	pushToken        uint16
	pullToken        uint16
	missedKeepalives int
	counters         ServerStatus
}

func newServer(cfg config.ServerConfig, f *Forwarder) *server {
	return &server{
		cfg:      cfg,
		f:        f,
		counters: ServerStatus{Server: cfg.Server},
	}
}

// forwardCRC reports whether uplinks with the given CRC status are
// forwarded to the server.
func forwardCRC(cfg config.ServerConfig, stat semtech.CRCStatus) bool {
	switch stat {
	case semtech.CRCOK:
		return cfg.ForwardCRCOK
	case semtech.CRCFail:
		return cfg.ForwardCRCInvalid
	}
	return cfg.ForwardCRCMissing
}

func newToken() uint16 {
	return uint16(rand.Uint32())
}

// run 连接服务器并保持心跳，心跳失败过多时重新连接
func (s *server) run(ctx context.Context) {
	for {
		conn, err := s.connect()
		if err != nil {
			log.Error().Err(err).Str("server", s.cfg.Server).Msg("连接 UDP 服务器失败")
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.KeepaliveInterval):
				continue
			}
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			s.readLoop(ctx, conn)
		}()

		s.keepalive(ctx)
		s.disconnect(conn)
		<-done

		if ctx.Err() != nil {
			return
		}
		log.Info().Str("server", s.cfg.Server).Msg("正在重新连接 UDP 服务器")
	}
}

func (s *server) connect() (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", s.cfg.Server)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.conn = conn
	s.missedKeepalives = 0
	s.mu.Unlock()

	log.Info().
		Str("server", s.cfg.Server).
		Str("local", conn.LocalAddr().String()).
		Msg("UDP 服务器已连接")
	return conn, nil
}

func (s *server) disconnect(conn *net.UDPConn) {
	s.mu.Lock()
	wasConnected := s.connected
	s.connected = false
	if s.conn == conn {
		s.conn = nil
	}
	s.mu.Unlock()

	conn.Close()

	if wasConnected {
		log.Warn().Str("server", s.cfg.Server).Msg("UDP 服务器连接断开")
		s.f.logEvent(models.EventLog{
			Server: s.cfg.Server,
			Type:   models.EventTypeServerDown,
			Level:  models.EventLevelWarning,
		})
	}
}

// keepalive sends PULL_DATA every interval and returns when ctx is done or
// too many keepalives went unanswered.
func (s *server) keepalive(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		s.mu.Lock()
		missed := s.missedKeepalives
		s.mu.Unlock()

		if missed >= s.cfg.KeepaliveMaxFailures {
			log.Warn().
				Str("server", s.cfg.Server).
				Int("missed", missed).
				Msg("PULL_DATA 心跳无响应")
			return
		}

		s.sendPullData()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *server) sendPullData() {
	token := newToken()

	s.mu.Lock()
	conn := s.conn
	s.pullToken = token
	s.missedKeepalives++
	s.mu.Unlock()

	if conn == nil {
		return
	}

	b, err := semtech.PullDataPacket{
		RandomToken: token,
		GatewayMAC:  s.f.gatewayID,
	}.MarshalBinary()
	if err != nil {
		log.Error().Err(err).Str("server", s.cfg.Server).Msg("编码 PULL_DATA 失败")
		return
	}

	if _, err := conn.Write(b); err != nil {
		log.Error().Err(err).Str("server", s.cfg.Server).Msg("发送 PULL_DATA 失败")
		return
	}

	log.Debug().
		Str("server", s.cfg.Server).
		Uint16("token", token).
		Msg("已发送 PULL_DATA")
}

func (s *server) sendPushData(payload semtech.PushDataPayload, stats bool) {
	token := newToken()

	s.mu.Lock()
	conn := s.conn
	s.pushToken = token
	s.mu.Unlock()

	if conn == nil {
		log.Debug().Str("server", s.cfg.Server).Msg("UDP 服务器未连接，丢弃 PUSH_DATA")
		return
	}

	b, err := semtech.PushDataPacket{
		RandomToken: token,
		GatewayMAC:  s.f.gatewayID,
		Payload:     payload,
	}.MarshalBinary()
	if err != nil {
		log.Error().Err(err).Str("server", s.cfg.Server).Msg("编码 PUSH_DATA 失败")
		return
	}

	if _, err := conn.Write(b); err != nil {
		log.Error().Err(err).Str("server", s.cfg.Server).Msg("发送 PUSH_DATA 失败")
		return
	}

	s.mu.Lock()
	if stats {
		s.counters.StatsSent++
	} else {
		s.counters.UplinksSent++
	}
	s.mu.Unlock()

	log.Debug().
		Str("server", s.cfg.Server).
		Uint16("token", token).
		Bool("stats", stats).
		Msg("已发送 PUSH_DATA")
}

func (s *server) readLoop(ctx context.Context, conn *net.UDPConn) {
	buf := make([]byte, 65507)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Str("server", s.cfg.Server).Msg("读取 UDP 包错误")
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		s.handlePacket(ctx, data)
	}
}

// handlePacket 处理服务器发来的包
func (s *server) handlePacket(ctx context.Context, data []byte) {
	t, err := semtech.GetPacketType(data)
	if err != nil {
		log.Warn().Err(err).Str("server", s.cfg.Server).Msg("无效的 UDP 包")
		return
	}

	switch t {
	case semtech.PushACK:
		var p semtech.PushACKPacket
		if err := p.UnmarshalBinary(data); err != nil {
			log.Warn().Err(err).Str("server", s.cfg.Server).Msg("解析 PUSH_ACK 失败")
			return
		}
		s.handlePushACK(p.RandomToken)
	case semtech.PullACK:
		var p semtech.PullACKPacket
		if err := p.UnmarshalBinary(data); err != nil {
			log.Warn().Err(err).Str("server", s.cfg.Server).Msg("解析 PULL_ACK 失败")
			return
		}
		s.handlePullACK(p.RandomToken)
	case semtech.PullResp:
		// 下行需要等待后端确认，不阻塞读循环
		go s.handlePullResp(ctx, data)
	default:
		log.Warn().
			Str("server", s.cfg.Server).
			Str("type", t.String()).
			Msg("未知的包类型")
	}
}

func (s *server) handlePushACK(token uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token != s.pushToken {
		log.Debug().
			Str("server", s.cfg.Server).
			Uint16("token", token).
			Uint16("expected", s.pushToken).
			Msg("PUSH_ACK token 不匹配")
		return
	}

	now := time.Now()
	s.counters.PushACKs++
	s.counters.LastSeen = &now
}

func (s *server) handlePullACK(token uint16) {
	s.mu.Lock()
	if token != s.pullToken {
		s.mu.Unlock()
		log.Warn().
			Str("server", s.cfg.Server).
			Uint16("token", token).
			Uint16("expected", s.pullToken).
			Msg("PULL_ACK token 不匹配")
		return
	}

	now := time.Now()
	s.missedKeepalives = 0
	s.counters.PullACKs++
	s.counters.LastSeen = &now
	wasConnected := s.connected
	s.connected = true
	s.mu.Unlock()

	if !wasConnected {
		log.Info().Str("server", s.cfg.Server).Msg("UDP 服务器下行通道已建立")
		s.f.logEvent(models.EventLog{
			Server: s.cfg.Server,
			Type:   models.EventTypeServerUp,
		})
	}
}

// handlePullResp 转换下行请求，交给后端发送并回复 TX_ACK
func (s *server) handlePullResp(ctx context.Context, data []byte) {
	var p semtech.PullRespPacket
	if err := p.UnmarshalBinary(data); err != nil {
		log.Error().Err(err).Str("server", s.cfg.Server).Msg("解析 PULL_RESP 失败")
		return
	}

	gatewayID := s.f.gatewayID
	downlinkID := uuid.New()
	var ackErr string

	frame, err := p.Payload.TXPK.ToProto(downlinkID[:], gatewayID[:])
	if err != nil {
		log.Error().
			Err(err).
			Str("server", s.cfg.Server).
			Uint16("token", p.RandomToken).
			Msg("下行帧转换失败")
		ackErr = err.Error()
	} else {
		ack, err := s.f.backend.SendDownlinkFrame(ctx, frame)
		if err != nil {
			log.Error().
				Err(err).
				Str("server", s.cfg.Server).
				Str("downlink_id", downlinkID.String()).
				Msg("发送下行帧失败")
			ackErr = txAckInternalError
		} else {
			ackErr = backend.TXAckError(ack)
		}
	}

	s.mu.Lock()
	s.counters.Downlinks++
	if ackErr != "" {
		s.counters.TXAckErrors++
	}
	s.mu.Unlock()

	event := models.EventLog{
		Server: s.cfg.Server,
		Type:   models.EventTypeDownlink,
		Code:   ackErr,
		Details: models.Variables{
			"downlink_id": downlinkID.String(),
			"token":       p.RandomToken,
		},
	}
	if ackErr != "" {
		event.Level = models.EventLevelWarning
	}
	s.f.logEvent(event)

	s.sendTXACK(p.RandomToken, ackErr)

	log.Info().
		Str("server", s.cfg.Server).
		Str("downlink_id", downlinkID.String()).
		Uint16("token", p.RandomToken).
		Str("error", ackErr).
		Msg("下行处理完成")
}

func (s *server) sendTXACK(token uint16, ackErr string) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return
	}

	b, err := semtech.TXACKPacket{
		RandomToken: token,
		GatewayMAC:  s.f.gatewayID,
		Payload: semtech.TXACKPayload{
			TXPKACK: semtech.TXPKACK{Error: ackErr},
		},
	}.MarshalBinary()
	if err != nil {
		log.Error().Err(err).Str("server", s.cfg.Server).Msg("编码 TX_ACK 失败")
		return
	}

	if _, err := conn.Write(b); err != nil {
		log.Error().Err(err).Str("server", s.cfg.Server).Msg("发送 TX_ACK 失败")
	}
}

func (s *server) status() ServerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.counters
	st.Connected = s.connected
	if st.LastSeen != nil {
		t := *st.LastSeen
		st.LastSeen = &t
	}
	return st
}
