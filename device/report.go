package device

import (
	"encoding/binary"
	"math"

	"github.com/wippyai/ffb-runtime/errors"
)

// Torque output report, little-endian:
//
//	0 u8  report id 0x20
//	1 i16 torque in Nm, Q8.8 fixed point
//	3 u8  flags
//	4 u16 sequence, wraps
const (
	TorqueReportID   = 0x20
	TorqueReportSize = 6

	FlagHandsOn    = 0x01
	FlagSaturation = 0x02
)

// Telemetry input report, little-endian:
//
//	0  u8  report id 0x21
//	1  i32 wheel angle in millidegrees
//	5  i16 wheel speed in mrad/s
//	7  u8  temperature in °C
//	8  u8  fault flags
//	9  u8  hands on, 0 or 1
//	10 2 bytes reserved
const (
	TelemetryReportID   = 0x21
	TelemetryReportSize = 12
)

// TorqueCommand is a decoded torque report.
type TorqueCommand struct {
	TorqueNm float32
	Flags    uint8
	Seq      uint16
}

func toQ88(nm float32) int16 {
	v := float64(nm) * 256
	switch {
	case math.IsNaN(v):
		return 0
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// PutTorque encodes a torque report into dst, which must hold
// TorqueReportSize bytes, and returns the encoded prefix.
func PutTorque(dst []byte, torqueNm float32, seq uint16, flags uint8) []byte {
	_ = dst[TorqueReportSize-1]
	dst[0] = TorqueReportID
	binary.LittleEndian.PutUint16(dst[1:], uint16(toQ88(torqueNm)))
	dst[3] = flags
	binary.LittleEndian.PutUint16(dst[4:], seq)
	return dst[:TorqueReportSize]
}

func ParseTorque(b []byte) (TorqueCommand, error) {
	if len(b) < TorqueReportSize || b[0] != TorqueReportID {
		return TorqueCommand{}, errors.InvalidData(errors.PhaseRuntime, []string{"torque_report"}, "not a torque report")
	}
	return TorqueCommand{
		TorqueNm: float32(int16(binary.LittleEndian.Uint16(b[1:]))) / 256,
		Flags:    b[3],
		Seq:      binary.LittleEndian.Uint16(b[4:]),
	}, nil
}

// TelemetryReport is a decoded telemetry report.
type TelemetryReport struct {
	WheelAngleDeg float32
	WheelSpeed    float32
	TemperatureC  uint8
	FaultFlags    uint8
	HandsOn       bool
}

func PutTelemetry(dst []byte, r TelemetryReport) []byte {
	_ = dst[TelemetryReportSize-1]
	dst[0] = TelemetryReportID
	binary.LittleEndian.PutUint32(dst[1:], uint32(int32(math.Round(float64(r.WheelAngleDeg)*1000))))
	speed := math.Round(float64(r.WheelSpeed) * 1000)
	speed = math.Max(math.MinInt16, math.Min(math.MaxInt16, speed))
	binary.LittleEndian.PutUint16(dst[5:], uint16(int16(speed)))
	dst[7] = r.TemperatureC
	dst[8] = r.FaultFlags
	dst[9] = 0
	if r.HandsOn {
		dst[9] = 1
	}
	dst[10], dst[11] = 0, 0
	return dst[:TelemetryReportSize]
}

func ParseTelemetry(b []byte) (TelemetryReport, error) {
	if len(b) < TelemetryReportSize || b[0] != TelemetryReportID {
		return TelemetryReport{}, errors.InvalidData(errors.PhaseRuntime, []string{"telemetry_report"}, "not a telemetry report")
	}
	return TelemetryReport{
		WheelAngleDeg: float32(int32(binary.LittleEndian.Uint32(b[1:]))) / 1000,
		WheelSpeed:    float32(int16(binary.LittleEndian.Uint16(b[5:]))) / 1000,
		TemperatureC:  b[7],
		FaultFlags:    b[8],
		HandsOn:       b[9] != 0,
	}, nil
}
