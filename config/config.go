package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/ffb-runtime/errors"
)

var validate = validator.New()

// Engine is the top-level configuration file.
type Engine struct {
	Profile     Profile  `yaml:"profile"`
	ProfilePath string   `yaml:"profile_path,omitempty"`
	Degrade     string   `yaml:"degrade" validate:"oneof=hold zero"`
	Wasm        Wasm     `yaml:"wasm"`
	Native      Native   `yaml:"native"`
	Metrics     Metrics  `yaml:"metrics"`
	Watchdog    Watchdog `yaml:"watchdog"`
	TickRateHz  int      `yaml:"tick_rate_hz" validate:"gte=100,lte=10000"`
}

type Watchdog struct {
	ViolationWindow         time.Duration `yaml:"violation_window" validate:"gt=0"`
	BaseDuration            time.Duration `yaml:"base_duration" validate:"gt=0"`
	MaxCrashes              int           `yaml:"max_crashes" validate:"gte=1"`
	MaxBudgetViolations     int           `yaml:"max_budget_violations" validate:"gte=1"`
	MaxTimeoutViolations    int           `yaml:"max_timeout_violations" validate:"gte=1"`
	MaxCapabilityViolations int           `yaml:"max_capability_violations" validate:"gte=1"`
	MaxEscalationLevel      int           `yaml:"max_escalation_level" validate:"gte=0,lte=16"`
}

// Wasm selects sandbox limits and the WASM plugins to load at startup.
// Non-zero overrides replace the preset's values.
type Wasm struct {
	Preset           string        `yaml:"preset" validate:"oneof=default conservative generous"`
	Plugins          []WasmPlugin  `yaml:"plugins,omitempty" validate:"dive"`
	MaxMemoryBytes   uint64        `yaml:"max_memory_bytes,omitempty"`
	MaxFuel          uint64        `yaml:"max_fuel,omitempty"`
	MaxExecutionTime time.Duration `yaml:"max_execution_time,omitempty"`
	MaxTableElements uint32        `yaml:"max_table_elements,omitempty"`
	MaxInstances     uint32        `yaml:"max_instances,omitempty"`
}

type WasmPlugin struct {
	ID           string   `yaml:"id" validate:"required"`
	Path         string   `yaml:"path" validate:"required"`
	Capabilities []string `yaml:"capabilities,omitempty" validate:"dive,oneof=read_telemetry modify_telemetry control_leds process_dsp"`
}

type Native struct {
	Policy     string         `yaml:"policy" validate:"oneof=strict permissive development"`
	TrustStore string         `yaml:"trust_store,omitempty"`
	Plugins    []NativePlugin `yaml:"plugins,omitempty" validate:"dive"`
	Budget     time.Duration  `yaml:"budget" validate:"gt=0"`
}

type NativePlugin struct {
	ID     string `yaml:"id" validate:"required"`
	Path   string `yaml:"path" validate:"required"`
	Config string `yaml:"config,omitempty"`
}

type Metrics struct {
	Addr string `yaml:"addr,omitempty" validate:"omitempty,hostname_port"`
}

// Default returns the configuration used when a file leaves a field out.
func Default() Engine {
	return Engine{
		TickRateHz: 1000,
		Degrade:    "hold",
		Profile:    DefaultProfile(),
		Watchdog: Watchdog{
			MaxCrashes:              3,
			MaxBudgetViolations:     10,
			MaxTimeoutViolations:    5,
			MaxCapabilityViolations: 20,
			ViolationWindow:         60 * time.Minute,
			BaseDuration:            5 * time.Minute,
			MaxEscalationLevel:      5,
		},
		Wasm:   Wasm{Preset: "default"},
		Native: Native{Policy: "strict", Budget: 100 * time.Microsecond},
	}
}

// Load reads and validates an engine configuration file. A profile_path
// entry replaces the inline profile with the referenced file.
func Load(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read "+path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if cfg.ProfilePath != "" {
		p, err := LoadProfile(cfg.ProfilePath)
		if err != nil {
			return nil, err
		}
		cfg.Profile = *p
	}
	return cfg, nil
}

// Parse decodes YAML over Default and validates the result.
func Parse(data []byte) (*Engine, error) {
	cfg := Default()
	if err := decode(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadProfile reads a standalone profile file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "read "+path)
	}
	return ParseProfile(data)
}

// ParseProfile decodes a profile over DefaultProfile and validates it.
func ParseProfile(data []byte) (*Profile, error) {
	p := DefaultProfile()
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks struct rules and the profile.
func (c *Engine) Validate() error {
	if err := validate.Struct(c); err != nil {
		return validationError("engine", err)
	}
	return c.Profile.Validate()
}

// Marshal encodes c as YAML.
func (c *Engine) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "encode config")
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !stderrors.Is(err, io.EOF) {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "decode yaml")
	}
	return nil
}

func invalid(path []string, detail string) error {
	return errors.InvalidData(errors.PhaseConfig, path, detail)
}

// validationError flattens validator field errors into one config error.
func validationError(root string, err error) error {
	var fieldErrs validator.ValidationErrors
	if !stderrors.As(err, &fieldErrs) {
		return errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, root)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: %s (got %v)", fe.Namespace(), fe.Tag(), fe.Value()))
		}
	}
	return &errors.Error{
		Phase:  errors.PhaseConfig,
		Kind:   errors.KindInvalidData,
		Path:   []string{root},
		Detail: strings.Join(msgs, "; "),
		Cause:  err,
	}
}
