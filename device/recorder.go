package device

import (
	"sync"

	ffb "github.com/wippyai/ffb-runtime"
)

// Recorder is a DeviceWriter that keeps copies of the last reports written.
type Recorder struct {
	mu      sync.Mutex
	limit   int
	output  [][]byte
	feature [][]byte
	err     error
}

var _ ffb.DeviceWriter = (*Recorder)(nil)

// NewRecorder keeps at most limit reports of each kind; limit <= 0 keeps
// all of them.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) keep(list [][]byte, b []byte) [][]byte {
	list = append(list, append([]byte(nil), b...))
	if r.limit > 0 && len(list) > r.limit {
		list = list[len(list)-r.limit:]
	}
	return list
}

func (r *Recorder) WriteOutputReport(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.output = r.keep(r.output, b)
	return len(b), nil
}

func (r *Recorder) WriteFeatureReport(b []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return 0, r.err
	}
	r.feature = r.keep(r.feature, b)
	return len(b), nil
}

// SetError makes every following write fail with err; nil restores writes.
func (r *Recorder) SetError(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// Outputs returns the recorded output reports, oldest first.
func (r *Recorder) Outputs() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.output...)
}

func (r *Recorder) Features() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.feature...)
}

// Last returns the most recent output report, or nil.
func (r *Recorder) Last() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.output) == 0 {
		return nil
	}
	return r.output[len(r.output)-1]
}

// Null discards every report.
type Null struct{}

func (Null) WriteOutputReport(b []byte) (int, error)  { return len(b), nil }
func (Null) WriteFeatureReport(b []byte) (int, error) { return len(b), nil }

// Replay is a TelemetrySource that yields fixed samples in order, then
// either starts over or reports nothing new.
type Replay struct {
	mu      sync.Mutex
	samples []ffb.TelemetrySample
	next    int
	loop    bool
}

var _ ffb.TelemetrySource = (*Replay)(nil)

func NewReplay(samples []ffb.TelemetrySample, loop bool) *Replay {
	return &Replay{samples: samples, loop: loop}
}

func (r *Replay) Poll() (ffb.TelemetrySample, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.next >= len(r.samples) {
		if !r.loop || len(r.samples) == 0 {
			return ffb.TelemetrySample{}, false
		}
		r.next = 0
	}
	s := r.samples[r.next]
	r.next++
	return s, true
}
