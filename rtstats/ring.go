package rtstats

import "sync/atomic"

// ring is a bounded single-producer single-consumer queue of uint64.
// head and tail are free-running; they live on separate cache lines.
type ring struct {
	_    [64]byte
	head atomic.Uint64 // next slot to read, consumer owned
	_    [56]byte
	tail atomic.Uint64 // next slot to write, producer owned
	_    [56]byte
	buf  []uint64
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]uint64, capacity)}
}

func (r *ring) push(v uint64) bool {
	t := r.tail.Load()
	if t-r.head.Load() >= uint64(len(r.buf)) {
		return false
	}
	r.buf[t%uint64(len(r.buf))] = v
	r.tail.Store(t + 1)
	return true
}

func (r *ring) pop() (uint64, bool) {
	h := r.head.Load()
	if h == r.tail.Load() {
		return 0, false
	}
	v := r.buf[h%uint64(len(r.buf))]
	r.head.Store(h + 1)
	return v, true
}

func (r *ring) len() int {
	return int(r.tail.Load() - r.head.Load())
}

// drain appends every queued value to dst.
func (r *ring) drain(dst []uint64) []uint64 {
	for {
		v, ok := r.pop()
		if !ok {
			return dst
		}
		dst = append(dst, v)
	}
}
