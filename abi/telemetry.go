package abi

import (
	"encoding/binary"
	"math"

	"github.com/wippyai/ffb-runtime/errors"
)

// TelemetryFrameSize is the encoded size of TelemetryFrame.
const TelemetryFrameSize = 32

// DefaultTemperatureC is reported before the device sends a reading.
const DefaultTemperatureC = 20

// TelemetryFrame is the snapshot plugins read through get_telemetry.
//
//	0  u64 timestamp_us
//	8  f32 wheel_angle_deg
//	12 f32 wheel_speed_rad_s
//	16 f32 temperature_c
//	20 u32 fault_flags
//	24 u32 pad, 4 bytes zero
type TelemetryFrame struct {
	TimestampUs    uint64
	WheelAngleDeg  float32
	WheelSpeedRadS float32
	TemperatureC   float32
	FaultFlags     uint32
}

// NewTelemetryFrame returns a frame at ts with the default temperature.
func NewTelemetryFrame(timestampUs uint64) TelemetryFrame {
	return TelemetryFrame{TimestampUs: timestampUs, TemperatureC: DefaultTemperatureC}
}

// Put writes the encoding into dst, which must hold TelemetryFrameSize bytes.
func (f TelemetryFrame) Put(dst []byte) {
	_ = dst[TelemetryFrameSize-1]
	binary.LittleEndian.PutUint64(dst[0:], f.TimestampUs)
	binary.LittleEndian.PutUint32(dst[8:], math.Float32bits(f.WheelAngleDeg))
	binary.LittleEndian.PutUint32(dst[12:], math.Float32bits(f.WheelSpeedRadS))
	binary.LittleEndian.PutUint32(dst[16:], math.Float32bits(f.TemperatureC))
	binary.LittleEndian.PutUint32(dst[20:], f.FaultFlags)
	clear(dst[24:TelemetryFrameSize])
}

func (f TelemetryFrame) MarshalBinary() ([]byte, error) {
	b := make([]byte, TelemetryFrameSize)
	f.Put(b)
	return b, nil
}

func (f *TelemetryFrame) UnmarshalBinary(data []byte) error {
	if len(data) < TelemetryFrameSize {
		return errors.New(errors.PhaseRuntime, errors.KindInvalidData).
			Path("telemetry_frame").
			Detail("need %d bytes, got %d", TelemetryFrameSize, len(data)).
			Build()
	}
	f.TimestampUs = binary.LittleEndian.Uint64(data[0:])
	f.WheelAngleDeg = math.Float32frombits(binary.LittleEndian.Uint32(data[8:]))
	f.WheelSpeedRadS = math.Float32frombits(binary.LittleEndian.Uint32(data[12:]))
	f.TemperatureC = math.Float32frombits(binary.LittleEndian.Uint32(data[16:]))
	f.FaultFlags = binary.LittleEndian.Uint32(data[20:])
	return nil
}

// TemperatureNormal reports whether the reading is within 20..80 °C.
func (f TelemetryFrame) TemperatureNormal() bool {
	return f.TemperatureC >= 20 && f.TemperatureC <= 80
}

// AngleValid reports whether the angle is within ±1800 degrees.
func (f TelemetryFrame) AngleValid() bool {
	return f.WheelAngleDeg >= -1800 && f.WheelAngleDeg <= 1800
}

func (f TelemetryFrame) HasFaults() bool { return f.FaultFlags != 0 }
