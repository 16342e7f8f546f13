// Package backend connects the forwarder to the radio side: it receives
// uplink frames and gateway stats and carries downlink frames to the
// concentrator, returning its TX acknowledgement.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/brocaar/chirpstack-api/go/v3/gw"

	"github.com/lorawan-server/udp-forwarder/internal/config"
	"github.com/lorawan-server/udp-forwarder/pkg/semtech"
)

// ErrAckTimeout is returned when no TX acknowledgement arrived in time.
var ErrAckTimeout = errors.New("backend: downlink ack timeout")

// Handler receives the events published by the radio side.
type Handler interface {
	HandleUplinkFrame(frame *gw.UplinkFrame)
	HandleGatewayStats(stats *gw.GatewayStats)
}

// Backend is the radio-facing transport.
type Backend interface {
	// Start subscribes to the gateway events and dispatches them to h.
	Start(ctx context.Context, h Handler) error
	// SendDownlinkFrame hands the frame to the concentrator and waits for
	// its acknowledgement.
	SendDownlinkFrame(ctx context.Context, frame *gw.DownlinkFrame) (*gw.DownlinkTXAck, error)
	Close() error
}

// New creates the backend selected by cfg.Type.
func New(cfg config.BackendConfig, gatewayID semtech.EUI64) (Backend, error) {
	switch cfg.Type {
	case config.BackendNATS:
		b, err := NewNATSBackend(cfg.NATS, gatewayID)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.BackendMQTT:
		b, err := NewMQTTBackend(cfg.MQTT, gatewayID)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
}

// TXAckError maps a TX acknowledgement to the error string carried by a
// TX_ACK packet. It is empty when the downlink was accepted.
func TXAckError(ack *gw.DownlinkTXAck) string {
	if ack.GetError() != "" {
		return ack.GetError()
	}

	items := ack.GetItems()
	if len(items) == 0 {
		return ""
	}

	status := gw.TxAckStatus_IGNORED
	for _, item := range items {
		if item.GetStatus() == gw.TxAckStatus_OK {
			return ""
		}
		if status == gw.TxAckStatus_IGNORED {
			status = item.GetStatus()
		}
	}
	return status.String()
}
