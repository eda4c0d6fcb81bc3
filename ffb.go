package ffb

import "github.com/wippyai/ffb-runtime/config"

// DeviceWriter sends HID reports to a wheel base. Vendor protocols live
// behind it. Both calls must return promptly; they run on the tick path.
type DeviceWriter interface {
	WriteFeatureReport(b []byte) (int, error)
	WriteOutputReport(b []byte) (int, error)
}

// TelemetrySample is one normalized reading from the game and the wheel.
type TelemetrySample struct {
	// FfbIn is the game's force-feedback request in [-1, 1].
	FfbIn         float32
	WheelAngleDeg float32
	// WheelSpeed is in rad/s.
	WheelSpeed   float32
	TemperatureC float32
	FaultFlags   uint32
	HandsOff     bool
	TsMonoNs     uint64
}

// TelemetrySource yields samples without blocking. ok is false when nothing
// new arrived since the last poll.
type TelemetrySource interface {
	Poll() (s TelemetrySample, ok bool)
}

// ConfigProvider supplies the profile a pipeline is compiled from.
type ConfigProvider interface {
	Profile() (*config.Profile, error)
}
