package watchdog

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/ffb-runtime/errors"
)

// ViolationKind classifies a plugin misbehavior.
type ViolationKind uint8

const (
	Crash ViolationKind = iota
	BudgetViolation
	TimeoutViolation
	CapabilityViolation
)

func (k ViolationKind) String() string {
	switch k {
	case Crash:
		return "crash"
	case BudgetViolation:
		return "budget_violation"
	case TimeoutViolation:
		return "timeout_violation"
	case CapabilityViolation:
		return "capability_violation"
	}
	return fmt.Sprintf("violation(%d)", uint8(k))
}

const numKinds = 4

// Violation is one entry in a plugin's rolling history.
type Violation struct {
	At     time.Time
	Detail string
	Kind   ViolationKind
}

// QuarantineState is the per-plugin record kept by the Manager.
type QuarantineState struct {
	QuarantinedAt   time.Time
	ExpiresAt       time.Time
	Reason          string
	Duration        time.Duration
	Totals          [numKinds]int
	EscalationLevel int
	Quarantined     bool
}

// Total returns the lifetime count for kind.
func (s QuarantineState) Total(k ViolationKind) int {
	if int(k) >= numKinds {
		return 0
	}
	return s.Totals[k]
}

// Entry names a quarantined plugin.
type Entry struct {
	PluginID string
	QuarantineState
}

// Callback observes quarantine entry. It runs without the manager lock held.
type Callback func(Entry)

type record struct {
	history []Violation
	state   QuarantineState
}

// Manager owns every plugin's violation history and quarantine state.
type Manager struct {
	plugins   map[string]*record
	now       func() time.Time
	logger    *zap.Logger
	callbacks []Callback
	policy    Policy
	mu        sync.Mutex
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger for quarantine transitions.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a manager. An invalid policy is an error.
func NewManager(p Policy, opts ...Option) (*Manager, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	m := &Manager{
		plugins: make(map[string]*record),
		now:     time.Now,
		logger:  Logger(),
		policy:  p,
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Policy returns the active policy.
func (m *Manager) Policy() Policy { return m.policy }

// OnQuarantine registers cb to run each time a plugin enters quarantine.
func (m *Manager) OnQuarantine(cb Callback) {
	m.mu.Lock()
	m.callbacks = append(m.callbacks, cb)
	m.mu.Unlock()
}

func (m *Manager) get(id string) *record {
	r, ok := m.plugins[id]
	if !ok {
		r = &record{}
		m.plugins[id] = r
	}
	return r
}

// RecordViolation appends a violation for id and reports whether it pushed
// the plugin into quarantine.
func (m *Manager) RecordViolation(id string, kind ViolationKind, detail string) (bool, error) {
	if id == "" {
		return false, errors.InvalidInput(errors.PhaseWatchdog, "empty plugin id")
	}
	if int(kind) >= numKinds {
		return false, errors.InvalidInput(errors.PhaseWatchdog, "unknown violation kind "+kind.String())
	}

	m.mu.Lock()
	now := m.now()
	r := m.get(id)
	r.history = append(r.history, Violation{At: now, Kind: kind, Detail: detail})
	r.state.Totals[kind]++
	m.prune(r, now)
	m.expire(r, now)

	trigger, ok := m.shouldQuarantine(r)
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	r.state.EscalationLevel++
	m.enter(r, now, m.policy.DurationFor(r.state.EscalationLevel),
		fmt.Sprintf("%s threshold reached: %s", trigger, detail))
	entry := Entry{PluginID: id, QuarantineState: r.state}
	cbs := append([]Callback(nil), m.callbacks...)
	m.mu.Unlock()

	m.logger.Warn("plugin quarantined",
		zap.String("plugin", id),
		zap.Stringer("trigger", trigger),
		zap.Int("level", entry.EscalationLevel),
		zap.Duration("duration", entry.Duration))
	for _, cb := range cbs {
		cb(entry)
	}
	return true, nil
}

func (m *Manager) prune(r *record, now time.Time) {
	cutoff := now.Add(-m.policy.ViolationWindow)
	i := 0
	for i < len(r.history) && r.history[i].At.Before(cutoff) {
		i++
	}
	if i > 0 {
		r.history = append(r.history[:0], r.history[i:]...)
	}
}

func (m *Manager) shouldQuarantine(r *record) (ViolationKind, bool) {
	if r.state.Quarantined {
		return 0, false
	}
	var recent [numKinds]int
	for _, v := range r.history {
		recent[v.Kind]++
	}
	for k := ViolationKind(0); k < numKinds; k++ {
		if limit := m.policy.threshold(k); limit > 0 && recent[k] >= limit {
			return k, true
		}
	}
	return 0, false
}

func (m *Manager) enter(r *record, now time.Time, d time.Duration, reason string) {
	r.state.Quarantined = true
	r.state.QuarantinedAt = now
	r.state.ExpiresAt = now.Add(d)
	r.state.Duration = d
	r.state.Reason = reason
}

// expire clears an elapsed quarantine, keeping the escalation level.
func (m *Manager) expire(r *record, now time.Time) bool {
	if r.state.Quarantined && !now.Before(r.state.ExpiresAt) {
		r.state.Quarantined = false
		return true
	}
	return false
}

// IsQuarantined reports whether id is currently excluded. Elapsed
// quarantines are cleared on the way.
func (m *Manager) IsQuarantined(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.plugins[id]
	if !ok {
		return false
	}
	m.expire(r, m.now())
	return r.state.Quarantined
}

// CleanupExpired clears every elapsed quarantine and returns the plugin ids.
func (m *Manager) CleanupExpired() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var ids []string
	for id, r := range m.plugins {
		if m.expire(r, now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// ReleaseFromQuarantine lifts a quarantine early and forgets the recent
// violation history. The escalation level is kept, so the next quarantine
// lasts longer.
func (m *Manager) ReleaseFromQuarantine(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.plugins[id]
	if ok {
		m.expire(r, m.now())
	}
	if !ok || !r.state.Quarantined {
		return errors.New(errors.PhaseWatchdog, errors.KindNotQuarantined).Plugin(id).Build()
	}
	r.state.Quarantined = false
	r.history = r.history[:0]
	m.logger.Info("plugin released from quarantine", zap.String("plugin", id))
	return nil
}

// Quarantine excludes id for d regardless of its history. The escalation
// level is not changed.
func (m *Manager) Quarantine(id, reason string, d time.Duration) error {
	if d <= 0 {
		return errors.InvalidInput(errors.PhaseWatchdog, "quarantine duration must be positive")
	}
	m.mu.Lock()
	r := m.get(id)
	m.enter(r, m.now(), d, reason)
	entry := Entry{PluginID: id, QuarantineState: r.state}
	cbs := append([]Callback(nil), m.callbacks...)
	m.mu.Unlock()

	m.logger.Warn("plugin quarantined manually", zap.String("plugin", id), zap.Duration("duration", d))
	for _, cb := range cbs {
		cb(entry)
	}
	return nil
}

// State returns a copy of the record for id.
func (m *Manager) State(id string) (QuarantineState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.plugins[id]
	if !ok {
		return QuarantineState{}, false
	}
	m.expire(r, m.now())
	return r.state, true
}

// History returns the violations still inside the window.
func (m *Manager) History(id string) []Violation {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.plugins[id]
	if !ok {
		return nil
	}
	m.prune(r, m.now())
	return append([]Violation(nil), r.history...)
}

// Quarantined lists plugins under quarantine, soonest expiry first.
func (m *Manager) Quarantined() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var out []Entry
	for id, r := range m.plugins {
		m.expire(r, now)
		if r.state.Quarantined {
			out = append(out, Entry{PluginID: id, QuarantineState: r.state})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresAt.Equal(out[j].ExpiresAt) {
			return out[i].PluginID < out[j].PluginID
		}
		return out[i].ExpiresAt.Before(out[j].ExpiresAt)
	})
	return out
}

// Forget drops all state for id, for example after the plugin is unloaded.
func (m *Manager) Forget(id string) {
	m.mu.Lock()
	delete(m.plugins, id)
	m.mu.Unlock()
}
