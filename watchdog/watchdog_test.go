package watchdog

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/ffb-runtime/errors"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newManager(t *testing.T, p Policy) (*Manager, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	m, err := NewManager(p, WithClock(clk.now))
	require.NoError(t, err)
	return m, clk
}

func crash(t *testing.T, m *Manager, id string, n int) bool {
	t.Helper()
	var entered bool
	for i := 0; i < n; i++ {
		q, err := m.RecordViolation(id, Crash, "segfault")
		require.NoError(t, err)
		entered = entered || q
	}
	return entered
}

func TestPolicyValidate(t *testing.T) {
	require.NoError(t, DefaultPolicy().Validate())

	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"zero window", func(p *Policy) { p.ViolationWindow = 0 }},
		{"zero base", func(p *Policy) { p.BaseDuration = 0 }},
		{"negative level", func(p *Policy) { p.MaxEscalationLevel = -1 }},
		{"huge level", func(p *Policy) { p.MaxEscalationLevel = 31 }},
		{"negative threshold", func(p *Policy) { p.MaxCrashes = -1 }},
		{"no thresholds", func(p *Policy) {
			p.MaxCrashes, p.MaxBudgetViolations, p.MaxTimeoutViolations, p.MaxCapabilityViolations = 0, 0, 0, 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPolicy()
			tt.mutate(&p)
			assert.ErrorIs(t, p.Validate(), errors.ErrInvalidInput)
		})
	}
}

func TestPolicyValidateDetail(t *testing.T) {
	p := DefaultPolicy()
	p.MaxEscalationLevel = 31
	err := p.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max escalation level 31 outside [0, 30]")
}

func TestDurationFor(t *testing.T) {
	p := DefaultPolicy()
	tests := []struct {
		level int
		want  time.Duration
	}{
		{0, 5 * time.Minute},
		{1, 10 * time.Minute},
		{2, 20 * time.Minute},
		{3, 40 * time.Minute},
		{5, 160 * time.Minute},
		{6, 160 * time.Minute},
		{50, 160 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.level), func(t *testing.T) {
			assert.Equal(t, tt.want, p.DurationFor(tt.level))
		})
	}
}

func TestDurationForSaturates(t *testing.T) {
	p := DefaultPolicy()
	p.MaxEscalationLevel = 30
	require.NoError(t, p.Validate())
	prev := time.Duration(0)
	for level := 1; level <= 40; level++ {
		d := p.DurationFor(level)
		assert.Positive(t, d, "level %d", level)
		assert.GreaterOrEqual(t, d, prev, "level %d", level)
		prev = d
	}
	assert.Equal(t, time.Duration(math.MaxInt64), p.DurationFor(30))
}

func TestRepeatOffenderAtHighLevelStaysQuarantined(t *testing.T) {
	p := DefaultPolicy()
	p.MaxCrashes = 1
	p.MaxEscalationLevel = 30
	m, _ := newManager(t, p)
	for i := 1; i <= 30; i++ {
		require.True(t, crash(t, m, "p1", 1), "trigger %d", i)
		require.True(t, m.IsQuarantined("p1"), "trigger %d", i)
		require.NoError(t, m.ReleaseFromQuarantine("p1"))
	}
	assert.True(t, crash(t, m, "p1", 1))
	assert.True(t, m.IsQuarantined("p1"))
	st, _ := m.State("p1")
	assert.Equal(t, 31, st.EscalationLevel)
	assert.True(t, st.ExpiresAt.After(st.QuarantinedAt))
}

func TestCrashesTriggerQuarantine(t *testing.T) {
	m, clk := newManager(t, DefaultPolicy())

	assert.False(t, crash(t, m, "p1", 2))
	assert.False(t, m.IsQuarantined("p1"))
	assert.True(t, crash(t, m, "p1", 1))
	assert.True(t, m.IsQuarantined("p1"))

	st, ok := m.State("p1")
	require.True(t, ok)
	assert.Equal(t, 1, st.EscalationLevel)
	assert.Equal(t, 3, st.Total(Crash))
	assert.Equal(t, 10*time.Minute, st.Duration, "first quarantine is already one doubling")
	assert.Equal(t, clk.t, st.QuarantinedAt)
	assert.Equal(t, clk.t.Add(10*time.Minute), st.ExpiresAt)

	// already quarantined: more crashes do not escalate
	assert.False(t, crash(t, m, "p1", 3))
	st, _ = m.State("p1")
	assert.Equal(t, 1, st.EscalationLevel)
}

func TestReleaseAndRetriggerEscalates(t *testing.T) {
	m, _ := newManager(t, DefaultPolicy())
	crash(t, m, "p1", 3)
	first, _ := m.State("p1")

	require.NoError(t, m.ReleaseFromQuarantine("p1"))
	assert.False(t, m.IsQuarantined("p1"))
	assert.Empty(t, m.History("p1"))

	assert.True(t, crash(t, m, "p1", 3))
	second, _ := m.State("p1")
	assert.Equal(t, 2, second.EscalationLevel)
	assert.Equal(t, 10*time.Minute, first.Duration)
	assert.Equal(t, 20*time.Minute, second.Duration)
}

func TestReleaseNotQuarantined(t *testing.T) {
	m, _ := newManager(t, DefaultPolicy())
	assert.ErrorIs(t, m.ReleaseFromQuarantine("nobody"), errors.ErrNotQuarantined)

	crash(t, m, "p1", 1)
	assert.ErrorIs(t, m.ReleaseFromQuarantine("p1"), errors.ErrNotQuarantined)
}

func TestLazyExpiry(t *testing.T) {
	m, clk := newManager(t, DefaultPolicy())
	crash(t, m, "p1", 3)

	clk.advance(10*time.Minute - time.Second)
	assert.True(t, m.IsQuarantined("p1"))
	clk.advance(time.Second)
	assert.False(t, m.IsQuarantined("p1"))

	st, _ := m.State("p1")
	assert.Equal(t, 1, st.EscalationLevel, "expiry keeps the level")
	assert.ErrorIs(t, m.ReleaseFromQuarantine("p1"), errors.ErrNotQuarantined)
}

func TestWindowPrunesOldViolations(t *testing.T) {
	m, clk := newManager(t, DefaultPolicy())
	crash(t, m, "p1", 2)
	clk.advance(61 * time.Minute)
	assert.False(t, crash(t, m, "p1", 1))
	assert.Len(t, m.History("p1"), 1)

	st, _ := m.State("p1")
	assert.Equal(t, 3, st.Total(Crash))
}

func TestThresholdPerKind(t *testing.T) {
	tests := []struct {
		kind ViolationKind
		n    int
	}{
		{BudgetViolation, 10},
		{TimeoutViolation, 5},
		{CapabilityViolation, 20},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			m, _ := newManager(t, DefaultPolicy())
			for i := 0; i < tt.n-1; i++ {
				q, err := m.RecordViolation("p", tt.kind, "")
				require.NoError(t, err)
				require.False(t, q)
			}
			q, err := m.RecordViolation("p", tt.kind, "")
			require.NoError(t, err)
			assert.True(t, q)
		})
	}
}

func TestMixedKindsDoNotSum(t *testing.T) {
	m, _ := newManager(t, DefaultPolicy())
	crash(t, m, "p", 2)
	for i := 0; i < 4; i++ {
		_, _ = m.RecordViolation("p", TimeoutViolation, "")
	}
	assert.False(t, m.IsQuarantined("p"))
}

func TestRecordViolationRejectsBadInput(t *testing.T) {
	m, _ := newManager(t, DefaultPolicy())
	_, err := m.RecordViolation("", Crash, "")
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
	_, err = m.RecordViolation("p", ViolationKind(9), "")
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}

func TestCleanupExpiredAndList(t *testing.T) {
	m, clk := newManager(t, DefaultPolicy())
	require.NoError(t, m.Quarantine("a", "manual", time.Minute))
	require.NoError(t, m.Quarantine("b", "manual", 2*time.Minute))
	require.NoError(t, m.Quarantine("c", "manual", time.Hour))

	list := m.Quarantined()
	require.Len(t, list, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{list[0].PluginID, list[1].PluginID, list[2].PluginID})

	clk.advance(3 * time.Minute)
	assert.Equal(t, []string{"a", "b"}, m.CleanupExpired())
	assert.Empty(t, m.CleanupExpired())
	require.Len(t, m.Quarantined(), 1)

	assert.ErrorIs(t, m.Quarantine("x", "", 0), errors.ErrInvalidInput)
}

func TestOnQuarantineCallback(t *testing.T) {
	m, _ := newManager(t, DefaultPolicy())
	var got []Entry
	m.OnQuarantine(func(e Entry) {
		// callbacks may query the manager
		assert.True(t, m.IsQuarantined(e.PluginID))
		got = append(got, e)
	})
	crash(t, m, "p1", 3)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].PluginID)
	assert.Equal(t, 1, got[0].EscalationLevel)
}

func TestForget(t *testing.T) {
	m, _ := newManager(t, DefaultPolicy())
	crash(t, m, "p1", 3)
	m.Forget("p1")
	_, ok := m.State("p1")
	assert.False(t, ok)
	assert.False(t, m.IsQuarantined("p1"))
}

func TestFailureTracker(t *testing.T) {
	tr := NewFailureTracker()
	tr.RecordExecution("p", 100, true)
	tr.RecordExecution("p", 200, true)
	tr.RecordExecution("p", 150, false)

	s, ok := tr.Stats("p")
	require.True(t, ok)
	assert.Equal(t, uint64(3), s.Executions)
	assert.Equal(t, uint64(1), s.Crashes)
	assert.Equal(t, uint64(200), s.MaxTimeUs)
	assert.InDelta(t, 150.0, s.AvgTimeUs(), 0.1)
	assert.InDelta(t, 33.33, s.CrashRate(), 0.01)

	tr.Reset("p")
	_, ok = tr.Stats("p")
	assert.False(t, ok)
}

func TestHealth(t *testing.T) {
	clk := &fakeClock{t: time.Unix(0, 0)}
	h := NewHealth(nil, clk.now)

	assert.Equal(t, StatusUnknown, h.Overall())
	assert.Empty(t, h.Check(), "components without heartbeats are not stale")

	h.Heartbeat(RTThread)
	h.Heartbeat(Telemetry)
	assert.Equal(t, StatusHealthy, h.Overall())

	clk.advance(20 * time.Millisecond)
	assert.Equal(t, []SystemComponent{RTThread}, h.Check())
	assert.Equal(t, 1, h.Status(RTThread).ConsecutiveFailures)

	h.Check()
	assert.Equal(t, StatusDegraded, h.Status(RTThread).Status)
	for i := 0; i < 3; i++ {
		h.ReportFailure(RTThread, "overrun")
	}
	assert.Equal(t, StatusFaulted, h.Status(RTThread).Status)
	assert.Equal(t, StatusFaulted, h.Overall())

	h.Heartbeat(RTThread)
	assert.Equal(t, StatusHealthy, h.Status(RTThread).Status)
	assert.Len(t, Components(), 6)
}
