package config

import (
	"fmt"

	"github.com/wippyai/ffb-runtime/curve"
)

// Profile is the per-car filter configuration compiled into a pipeline.
type Profile struct {
	Gain           *float32      `yaml:"gain,omitempty" validate:"omitempty,gte=0,lte=1"`
	ResponseCurve  *curve.Type   `yaml:"response_curve,omitempty"`
	Name           string        `yaml:"name,omitempty"`
	NotchFilters   []Notch       `yaml:"notch_filters,omitempty" validate:"dive"`
	CurvePoints    []curve.Point `yaml:"curve_points,omitempty"`
	Reconstruction int           `yaml:"reconstruction" validate:"gte=0,lte=8"`
	Friction       float32       `yaml:"friction" validate:"gte=0,lte=1"`
	Damper         float32       `yaml:"damper" validate:"gte=0,lte=1"`
	Inertia        float32       `yaml:"inertia" validate:"gte=0,lte=1"`
	SlewRate       float32       `yaml:"slew_rate" validate:"gte=0,lte=1"`
	TorqueCap      float32       `yaml:"torque_cap" validate:"gte=0,lte=1"`
	Bumpstop       Bumpstop      `yaml:"bumpstop"`
	HandsOff       HandsOff      `yaml:"hands_off"`
	SpeedAdaptive  bool          `yaml:"speed_adaptive"`
}

type Notch struct {
	Frequency float32 `yaml:"hz" validate:"gt=0,lt=500"`
	Q         float32 `yaml:"q" validate:"gt=0"`
	GainDB    float32 `yaml:"gain_db"`
}

type Bumpstop struct {
	Enabled    bool    `yaml:"enabled"`
	StartAngle float32 `yaml:"start_angle" validate:"gte=0"`
	MaxAngle   float32 `yaml:"max_angle" validate:"gte=0"`
	Stiffness  float32 `yaml:"stiffness" validate:"gte=0,lte=1"`
	Damping    float32 `yaml:"damping" validate:"gte=0,lte=1"`
}

type HandsOff struct {
	Enabled        bool    `yaml:"enabled"`
	Threshold      float32 `yaml:"threshold" validate:"gte=0,lte=1"`
	TimeoutSeconds float32 `yaml:"timeout_seconds" validate:"gte=0"`
}

// DefaultProfile is stable at 1 kHz: no smoothing, no effects, full torque,
// bumpstop at 450..540 degrees and 5 s hands-off detection.
func DefaultProfile() Profile {
	return Profile{
		Name:      "default",
		SlewRate:  1,
		TorqueCap: 1,
		CurvePoints: []curve.Point{
			{X: 0, Y: 0},
			{X: 1, Y: 1},
		},
		Bumpstop: Bumpstop{
			Enabled:    true,
			StartAngle: 450,
			MaxAngle:   540,
			Stiffness:  0.8,
			Damping:    0.3,
		},
		HandsOff: HandsOff{
			Enabled:        true,
			Threshold:      0.05,
			TimeoutSeconds: 5,
		},
	}
}

// Validate runs the struct tag rules followed by checks that span fields.
func (p *Profile) Validate() error {
	if err := validate.Struct(p); err != nil {
		return validationError("profile", err)
	}
	if len(p.CurvePoints) > 0 {
		if err := curve.CustomType(p.CurvePoints...).Validate(); err != nil {
			return invalid([]string{"profile", "curve_points"}, err.Error())
		}
		first, last := p.CurvePoints[0], p.CurvePoints[len(p.CurvePoints)-1]
		if first.X != 0 || last.X != 1 {
			return invalid([]string{"profile", "curve_points"},
				fmt.Sprintf("curve must span x=0..1, got %v..%v", first.X, last.X))
		}
	}
	if p.ResponseCurve != nil {
		if err := p.ResponseCurve.Validate(); err != nil {
			return invalid([]string{"profile", "response_curve"}, err.Error())
		}
	}
	if p.Bumpstop.Enabled && p.Bumpstop.MaxAngle <= p.Bumpstop.StartAngle {
		return invalid([]string{"profile", "bumpstop"},
			fmt.Sprintf("max_angle %v must exceed start_angle %v", p.Bumpstop.MaxAngle, p.Bumpstop.StartAngle))
	}
	return nil
}
