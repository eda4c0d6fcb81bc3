package shm

import (
	"unsafe"

	"github.com/google/uuid"

	"github.com/wippyai/ffb-runtime/errors"
)

// Region is a fixed block of memory a Channel lives in.
type Region interface {
	// Bytes is the whole region. Its base is at least 8-byte aligned.
	Bytes() []byte
	// Name identifies the region to other processes.
	Name() string
	Close() error
}

func checkRegionSize(size int) error {
	if size < HeaderSize {
		return errors.New(errors.PhaseChannel, errors.KindInvalidInput).
			Path("region", "size").
			Detail("%d bytes cannot hold the %d-byte header", size, HeaderSize).
			Build()
	}
	if size > MaxRegionSize {
		return errors.LimitExceeded(errors.PhaseChannel, "region size", size, MaxRegionSize)
	}
	return nil
}

type memoryRegion struct {
	name string
	buf  []byte
}

// NewMemoryRegion allocates a zeroed private region of size bytes.
func NewMemoryRegion(size int) (Region, error) {
	if err := checkRegionSize(size); err != nil {
		return nil, err
	}
	words := make([]uint64, (size+7)/8)
	return &memoryRegion{
		name: "mem-" + uuid.NewString(),
		buf:  unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), size),
	}, nil
}

func (m *memoryRegion) Bytes() []byte { return m.buf }
func (m *memoryRegion) Name() string  { return m.name }
func (m *memoryRegion) Close() error  { return nil }
