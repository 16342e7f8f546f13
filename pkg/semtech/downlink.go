package semtech

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/brocaar/chirpstack-api/go/v3/common"
	"github.com/brocaar/chirpstack-api/go/v3/gw"
	"google.golang.org/protobuf/types/known/durationpb"
)

// ToProto translates the TXPK into a downlink frame holding a single item.
//
// Timing is resolved in order: imme, tmst, tmms. For tmst the timestamp is
// stored big-endian in the tx_info context and the delay is always zero,
// the consumer computes the actual delay from the context.
func (t TXPK) ToProto(downlinkID, gatewayID []byte) (*gw.DownlinkFrame, error) {
	txInfo := &gw.DownlinkTXInfo{
		Frequency: frequencyHz(t.Freq),
		Power:     int32(t.Powe),
	}

	switch {
	case t.Imme != nil && *t.Imme:
		txInfo.Timing = gw.DownlinkTiming_IMMEDIATELY
		txInfo.TimingInfo = &gw.DownlinkTXInfo_ImmediatelyTimingInfo{
			ImmediatelyTimingInfo: &gw.ImmediatelyTimingInfo{},
		}
	case t.Tmst != nil:
		txInfo.Timing = gw.DownlinkTiming_DELAY
		txInfo.TimingInfo = &gw.DownlinkTXInfo_DelayTimingInfo{
			DelayTimingInfo: &gw.DelayTimingInfo{
				Delay: durationpb.New(0),
			},
		}
		txInfo.Context = binary.BigEndian.AppendUint32(nil, *t.Tmst)
	case t.Tmms != nil:
		txInfo.Timing = gw.DownlinkTiming_GPS_EPOCH
		txInfo.TimingInfo = &gw.DownlinkTXInfo_GpsEpochTimingInfo{
			GpsEpochTimingInfo: &gw.GPSEpochTimingInfo{
				TimeSinceGpsEpoch: durationpb.New(GPSEpochDuration(*t.Tmms)),
			},
		}
	default:
		return nil, fmt.Errorf("%w: no timing information found", ErrMissingField)
	}

	switch t.Modu {
	case LoRa:
		if t.DatR.Modulation != LoRa {
			return nil, fmt.Errorf("%w: LoRa datarate expected", ErrMissingField)
		}
		if t.CodR == nil {
			return nil, fmt.Errorf("%w: codr must not be nil", ErrMissingField)
		}
		ipol := true
		if t.IPol != nil {
			ipol = *t.IPol
		}

		txInfo.Modulation = common.Modulation_LORA
		txInfo.ModulationInfo = &gw.DownlinkTXInfo_LoraModulationInfo{
			LoraModulationInfo: &gw.LoRaModulationInfo{
				Bandwidth:             t.DatR.Bandwidth,
				SpreadingFactor:       t.DatR.SpreadingFactor,
				CodeRate:              t.CodR.String(),
				PolarizationInversion: ipol,
			},
		}
	case FSK:
		if t.DatR.Modulation != FSK {
			return nil, fmt.Errorf("%w: FSK datarate expected", ErrMissingField)
		}
		if t.FDev == nil {
			return nil, fmt.Errorf("%w: fdev must not be nil", ErrMissingField)
		}

		txInfo.Modulation = common.Modulation_FSK
		txInfo.ModulationInfo = &gw.DownlinkTXInfo_FskModulationInfo{
			FskModulationInfo: &gw.FSKModulationInfo{
				Datarate:           t.DatR.BitRate,
				FrequencyDeviation: *t.FDev,
			},
		}
	default:
		return nil, fmt.Errorf("%w: invalid modulation %s", ErrValue, t.Modu)
	}

	phyPayload, err := decodeBase64(t.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: base64 decode payload error: %v", ErrValue, err)
	}

	return &gw.DownlinkFrame{
		DownlinkId: downlinkID,
		GatewayId:  gatewayID,
		Items: []*gw.DownlinkFrameItem{
			{
				PhyPayload: phyPayload,
				TxInfo:     txInfo,
			},
		},
	}, nil
}

// frequencyHz converts MHz to Hz, truncating and saturating at the bounds of
// uint32. NaN gives 0.
func frequencyHz(mhz float64) uint32 {
	hz := mhz * 1000000
	switch {
	case !(hz > 0):
		return 0
	case hz >= math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(hz)
}

// decodeBase64 accepts the standard alphabet with or without padding.
func decodeBase64(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") || len(s)%4 == 0 {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
