package watchdog

import (
	"sync"
	"time"
)

// SystemComponent is a part of the engine that reports heartbeats.
type SystemComponent uint8

const (
	RTThread SystemComponent = iota
	HIDDevice
	Telemetry
	PluginHost
	SafetySystem
	DeviceManager
	numComponents
)

func (c SystemComponent) String() string {
	switch c {
	case RTThread:
		return "rt_thread"
	case HIDDevice:
		return "hid_device"
	case Telemetry:
		return "telemetry"
	case PluginHost:
		return "plugin_host"
	case SafetySystem:
		return "safety_system"
	case DeviceManager:
		return "device_manager"
	}
	return "unknown"
}

// Components lists every SystemComponent.
func Components() []SystemComponent {
	out := make([]SystemComponent, numComponents)
	for i := range out {
		out[i] = SystemComponent(i)
	}
	return out
}

// HealthStatus is derived from consecutive failures.
type HealthStatus uint8

const (
	StatusUnknown HealthStatus = iota
	StatusHealthy
	StatusDegraded
	StatusFaulted
)

func (s HealthStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusFaulted:
		return "faulted"
	}
	return "unknown"
}

const (
	degradedAfter = 2
	faultedAfter  = 5
)

// HealthCheck is the state of one component.
type HealthCheck struct {
	LastHeartbeat       time.Time
	LastError           string
	ConsecutiveFailures int
	Component           SystemComponent
	Status              HealthStatus
}

func (h *HealthCheck) heartbeat(now time.Time) {
	h.LastHeartbeat = now
	h.Status = StatusHealthy
	h.ConsecutiveFailures = 0
	h.LastError = ""
}

func (h *HealthCheck) fail(msg string) {
	h.ConsecutiveFailures++
	h.LastError = msg
	switch {
	case h.ConsecutiveFailures >= faultedAfter:
		h.Status = StatusFaulted
	case h.ConsecutiveFailures >= degradedAfter:
		h.Status = StatusDegraded
	default:
		h.Status = StatusHealthy
	}
}

// DefaultTimeouts are the heartbeat deadlines per component.
func DefaultTimeouts() map[SystemComponent]time.Duration {
	return map[SystemComponent]time.Duration{
		RTThread:      10 * time.Millisecond,
		HIDDevice:     50 * time.Millisecond,
		Telemetry:     time.Second,
		PluginHost:    time.Second,
		SafetySystem:  50 * time.Millisecond,
		DeviceManager: 5 * time.Second,
	}
}

// Health tracks component heartbeats. Components without a timeout are never
// reported stale.
type Health struct {
	timeouts map[SystemComponent]time.Duration
	now      func() time.Time
	checks   [numComponents]HealthCheck
	mu       sync.Mutex
}

// NewHealth uses DefaultTimeouts when timeouts is nil.
func NewHealth(timeouts map[SystemComponent]time.Duration, now func() time.Time) *Health {
	if timeouts == nil {
		timeouts = DefaultTimeouts()
	}
	if now == nil {
		now = time.Now
	}
	h := &Health{timeouts: timeouts, now: now}
	for i := range h.checks {
		h.checks[i].Component = SystemComponent(i)
	}
	return h
}

func (h *Health) Heartbeat(c SystemComponent) {
	if c >= numComponents {
		return
	}
	h.mu.Lock()
	h.checks[c].heartbeat(h.now())
	h.mu.Unlock()
}

func (h *Health) ReportFailure(c SystemComponent, msg string) {
	if c >= numComponents {
		return
	}
	h.mu.Lock()
	h.checks[c].fail(msg)
	h.mu.Unlock()
}

// Check marks every component whose last heartbeat is older than its
// timeout as failed and returns them. Components that never sent a
// heartbeat are skipped.
func (h *Health) Check() []SystemComponent {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now()
	var stale []SystemComponent
	for i := range h.checks {
		c := &h.checks[i]
		limit, ok := h.timeouts[c.Component]
		if !ok || c.LastHeartbeat.IsZero() {
			continue
		}
		if now.Sub(c.LastHeartbeat) > limit {
			c.fail("heartbeat timeout")
			stale = append(stale, c.Component)
		}
	}
	return stale
}

func (h *Health) Status(c SystemComponent) HealthCheck {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c >= numComponents {
		return HealthCheck{Component: c}
	}
	return h.checks[c]
}

// Overall is the worst status among components that reported at least once.
func (h *Health) Overall() HealthStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	worst := StatusUnknown
	for _, c := range h.checks {
		if c.Status > worst {
			worst = c.Status
		}
	}
	return worst
}
