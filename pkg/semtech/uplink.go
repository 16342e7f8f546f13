package semtech

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/brocaar/chirpstack-api/go/v3/gw"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Clock provides the wall-clock time used when a message carries no
// timestamp of its own.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now returns f().
func (f ClockFunc) Now() time.Time {
	return f()
}

// SystemClock reads time.Now.
var SystemClock Clock = ClockFunc(time.Now)

func timeOrNow(ts *timestamppb.Timestamp, clock Clock) time.Time {
	if ts != nil && ts.IsValid() {
		return ts.AsTime()
	}
	if clock == nil {
		clock = SystemClock
	}
	return clock.Now().UTC()
}

// NewRXPK translates an uplink frame into an RXPK. A nil clock means
// SystemClock.
func NewRXPK(frame *gw.UplinkFrame, clock Clock) (RXPK, error) {
	rxInfo := frame.GetRxInfo()
	if rxInfo == nil {
		return RXPK{}, fmt.Errorf("%w: rx_info must not be nil", ErrMissingField)
	}
	txInfo := frame.GetTxInfo()
	if txInfo == nil {
		return RXPK{}, fmt.Errorf("%w: tx_info must not be nil", ErrMissingField)
	}
	if len(rxInfo.GetContext()) != 4 {
		return RXPK{}, fmt.Errorf("%w: rx_info context must be 4 bytes, got %d", ErrValue, len(rxInfo.GetContext()))
	}

	rxpk := RXPK{
		Time: timeOrNow(rxInfo.GetTime(), clock),
		Tmst: binary.BigEndian.Uint32(rxInfo.GetContext()),
		Freq: float64(txInfo.GetFrequency()) / 1000000,
		Chan: rxInfo.GetChannel(),
		RFCh: rxInfo.GetRfChain(),
		Stat: crcStatusFromProto(rxInfo.GetCrcStatus()),
		RSSI: rxInfo.GetRssi(),
		Size: uint8(len(frame.GetPhyPayload())),
		Data: base64.StdEncoding.EncodeToString(frame.GetPhyPayload()),
	}

	if d := rxInfo.GetTimeSinceGpsEpoch(); d != nil {
		tmms := uint64(d.GetSeconds()*1000) + uint64(d.GetNanos()/1000000)
		rxpk.Tmms = &tmms
	}

	switch mi := txInfo.GetModulationInfo().(type) {
	case *gw.UplinkTXInfo_LoraModulationInfo:
		lora := mi.LoraModulationInfo
		rxpk.Modu = LoRa
		rxpk.DatR = LoRaDataRate(lora.GetSpreadingFactor(), lora.GetBandwidth())
		rxpk.CodR = codeRateFromProto(lora.GetCodeRate())
		lsnr := float32(rxInfo.GetLoraSnr())
		rxpk.LSNR = &lsnr
	case *gw.UplinkTXInfo_FskModulationInfo:
		rxpk.Modu = FSK
		rxpk.DatR = FSKDataRate(mi.FskModulationInfo.GetDatarate())
	default:
		return RXPK{}, fmt.Errorf("%w: modulation_info must not be nil", ErrMissingField)
	}

	return rxpk, nil
}

// NewStat translates gateway stats into a Stat. Location defaults to zero
// and the rxfw and ackr counters are always zero. A nil clock means
// SystemClock.
func NewStat(stats *gw.GatewayStats, clock Clock) (Stat, error) {
	if stats == nil {
		return Stat{}, fmt.Errorf("%w: gateway stats must not be nil", ErrMissingField)
	}

	loc := stats.GetLocation()
	return Stat{
		Time: timeOrNow(stats.GetTime(), clock),
		Lati: loc.GetLatitude(),
		Long: loc.GetLongitude(),
		Alti: altitude(loc.GetAltitude()),
		RXNb: stats.GetRxPacketsReceived(),
		RXOK: stats.GetRxPacketsReceivedOk(),
		DWNb: stats.GetTxPacketsReceived(),
		TXNb: stats.GetTxPacketsEmitted(),
	}, nil
}

func crcStatusFromProto(s gw.CRCStatus) CRCStatus {
	switch s {
	case gw.CRCStatus_CRC_OK:
		return CRCOK
	case gw.CRCStatus_BAD_CRC:
		return CRCFail
	}
	return CRCNone
}

// codeRateFromProto maps the control-plane code rate. Unlike the JSON
// decoder, unknown strings give nil rather than CodeRateUndefined.
func codeRateFromProto(s string) *CodeRate {
	cr := ParseCodeRate(s)
	if cr == CodeRateUndefined {
		return nil
	}
	return &cr
}

// altitude truncates towards zero and saturates at the uint32 bounds.
func altitude(alt float64) uint32 {
	switch {
	case math.IsNaN(alt) || alt <= 0:
		return 0
	case alt >= math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(alt)
}
