package native

import (
	"time"

	"github.com/wippyai/ffb-runtime/errors"
)

// DefaultBudget is the per-frame execution budget when none is configured.
const DefaultBudget = 100 * time.Microsecond

// LoaderConfig is the signature policy and call budget applied to every load.
type LoaderConfig struct {
	Budget            time.Duration
	RequireSignatures bool
	AllowUnsigned     bool
}

// Strict rejects unsigned plugins and unknown signers.
func Strict() LoaderConfig {
	return LoaderConfig{RequireSignatures: true, AllowUnsigned: false, Budget: DefaultBudget}
}

// Permissive verifies signatures when present but loads unsigned plugins
// and unknown signers with a warning.
func Permissive() LoaderConfig {
	return LoaderConfig{RequireSignatures: true, AllowUnsigned: true, Budget: DefaultBudget}
}

// Development does not require signatures.
func Development() LoaderConfig {
	return LoaderConfig{RequireSignatures: false, AllowUnsigned: true, Budget: DefaultBudget}
}

// DefaultLoaderConfig is Strict.
func DefaultLoaderConfig() LoaderConfig { return Strict() }

// PolicyByName maps "strict", "permissive", "development" and "" (default)
// to a config.
func PolicyByName(name string) (LoaderConfig, error) {
	switch name {
	case "", "default", "strict":
		return Strict(), nil
	case "permissive":
		return Permissive(), nil
	case "development":
		return Development(), nil
	}
	return LoaderConfig{}, errors.New(errors.PhaseLoad, errors.KindInvalidInput).
		Detail("unknown loader policy %q", name).
		Build()
}

// WithBudget returns a copy with the per-frame budget replaced.
func (c LoaderConfig) WithBudget(d time.Duration) LoaderConfig {
	c.Budget = d
	return c
}

func (c LoaderConfig) String() string {
	switch {
	case c.RequireSignatures && !c.AllowUnsigned:
		return "strict"
	case c.RequireSignatures && c.AllowUnsigned:
		return "permissive"
	case !c.RequireSignatures && c.AllowUnsigned:
		return "development"
	}
	return "custom"
}
