package engine

import (
	"maps"
	"sync"
	"time"

	"github.com/wippyai/ffb-runtime/abi"
)

// PluginState is the host-side state of one WASM plugin instance. Host
// functions read it during calls while the owner updates telemetry from
// another goroutine, so every accessor locks.
type PluginState struct {
	data       map[string][]byte
	now        func() time.Time
	startTime  time.Time
	lastError  string
	telemetry  abi.TelemetryFrame
	lifecycle  abi.Lifecycle
	count      uint64
	total      time.Duration
	lastFuel   uint64
	capDenials uint64
	mu         sync.Mutex
}

// NewPluginState returns an uninitialized state whose timestamps start now.
func NewPluginState(now func() time.Time) *PluginState {
	if now == nil {
		now = time.Now
	}
	return &PluginState{
		data:      make(map[string][]byte),
		now:       now,
		startTime: now(),
		telemetry: abi.NewTelemetryFrame(0),
	}
}

func (s *PluginState) Status() abi.InitStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lifecycle.Status()
}

func (s *PluginState) IsInitialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lifecycle.IsReady()
}

func (s *PluginState) transition(to abi.InitStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lifecycle.Transition(to)
}

// markFailed moves to Failed and keeps reason as the last error.
func (s *PluginState) markFailed(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.lifecycle.Transition(abi.Failed)
	s.lastError = reason
}

// markShutdown moves to ShutDown and drops plugin data.
func (s *PluginState) markShutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.lifecycle.Transition(abi.ShutDown)
	clear(s.data)
}

// TimestampUs is the time since the plugin was created, in microseconds.
func (s *PluginState) TimestampUs() uint64 {
	return uint64(s.now().Sub(s.startTime).Microseconds())
}

func (s *PluginState) UpdateTelemetry(f abi.TelemetryFrame) {
	s.mu.Lock()
	s.telemetry = f
	s.mu.Unlock()
}

func (s *PluginState) Telemetry() abi.TelemetryFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.telemetry
}

func (s *PluginState) recordCall(d time.Duration, fuel uint64) {
	s.mu.Lock()
	s.count++
	s.total += d
	s.lastFuel = fuel
	s.mu.Unlock()
}

func (s *PluginState) recordError(msg string) {
	s.mu.Lock()
	s.lastError = msg
	s.mu.Unlock()
}

func (s *PluginState) recordDenial() {
	s.mu.Lock()
	s.capDenials++
	s.mu.Unlock()
}

// StoreData keeps a copy of value under key. Data survives ReloadPlugin.
func (s *PluginState) StoreData(key string, value []byte) {
	s.mu.Lock()
	s.data[key] = append([]byte(nil), value...)
	s.mu.Unlock()
}

func (s *PluginState) GetData(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok
}

// RemoveData deletes key and returns what it held.
func (s *PluginState) RemoveData(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	delete(s.data, key)
	return v, ok
}

func (s *PluginState) ClearData() {
	s.mu.Lock()
	clear(s.data)
	s.mu.Unlock()
}

// ResetStats zeroes the call counters.
func (s *PluginState) ResetStats() {
	s.mu.Lock()
	s.count = 0
	s.total = 0
	s.lastFuel = 0
	s.mu.Unlock()
}

// Stats is a snapshot of a plugin's counters.
type Stats struct {
	Status            abi.InitStatus
	LastError         string
	ProcessCount      uint64
	TotalProcessTime  time.Duration
	LastFuelConsumed  uint64
	CapabilityDenials uint64
	DataKeys          int
}

// AvgProcessTime is zero before the first call.
func (s Stats) AvgProcessTime() time.Duration {
	if s.ProcessCount == 0 {
		return 0
	}
	return s.TotalProcessTime / time.Duration(s.ProcessCount)
}

func (s *PluginState) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Status:            s.lifecycle.Status(),
		LastError:         s.lastError,
		ProcessCount:      s.count,
		TotalProcessTime:  s.total,
		LastFuelConsumed:  s.lastFuel,
		CapabilityDenials: s.capDenials,
		DataKeys:          len(s.data),
	}
}

// inherit copies what survives a hot reload: data and call counters.
func (s *PluginState) inherit(old *PluginState) {
	old.mu.Lock()
	data := maps.Clone(old.data)
	count, total := old.count, old.total
	old.mu.Unlock()

	s.mu.Lock()
	s.data = data
	s.count, s.total = count, total
	s.mu.Unlock()
}
