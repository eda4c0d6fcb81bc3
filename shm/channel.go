package shm

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/wippyai/ffb-runtime/errors"
)

const (
	HeaderSize    = 32
	HeaderVersion = 1
	// MaxRegionSize caps header plus ring storage.
	MaxRegionSize        = 4 << 20
	DefaultFrameCapacity = 1024
)

const (
	offVersion   = 0
	offProducer  = 4
	offConsumer  = 8
	offFrameSize = 12
	offMaxFrames = 16
	offShutdown  = 20
)

var (
	errRingFull = errors.Channel(errors.KindRingFull, "ring buffer full")
	errNoData   = errors.Channel(errors.KindNoData, "no data available")
)

// Channel is one end of an SPSC ring in a Region. A single goroutine may
// write and a single goroutine may read; the two may run concurrently and
// in different processes.
type Channel struct {
	region    Region
	producer  *uint32
	consumer  *uint32
	shutdown  *uint32
	slots     []byte
	frameSize uint32
	maxFrames uint32
}

// RegionSize is the number of bytes a channel of the given shape needs.
func RegionSize(frameSize, maxFrames int) int {
	return HeaderSize + frameSize*maxFrames
}

// NewChannel creates a channel in a fresh private memory region.
func NewChannel(frameSize, maxFrames int) (*Channel, error) {
	if err := checkShape(frameSize, maxFrames); err != nil {
		return nil, err
	}
	r, err := NewMemoryRegion(RegionSize(frameSize, maxFrames))
	if err != nil {
		return nil, err
	}
	return Create(r, frameSize, maxFrames)
}

func checkShape(frameSize, maxFrames int) error {
	if frameSize <= 0 || maxFrames <= 0 {
		return errors.New(errors.PhaseChannel, errors.KindInvalidInput).
			Detail("frame size %d and capacity %d must be positive", frameSize, maxFrames).
			Build()
	}
	// slots are indexed by free-running u32 sequences, so the capacity must
	// divide 2^32
	if maxFrames&(maxFrames-1) != 0 {
		return errors.New(errors.PhaseChannel, errors.KindInvalidInput).
			Detail("capacity %d is not a power of two", maxFrames).
			Build()
	}
	if frameSize > MaxRegionSize || maxFrames > MaxRegionSize || RegionSize(frameSize, maxFrames) > MaxRegionSize {
		return errors.LimitExceeded(errors.PhaseChannel, "region size", RegionSize(frameSize, maxFrames), MaxRegionSize)
	}
	return nil
}

// Create initializes the header in r and returns the channel. Any previous
// contents of r are discarded.
func Create(r Region, frameSize, maxFrames int) (*Channel, error) {
	if err := checkShape(frameSize, maxFrames); err != nil {
		return nil, err
	}
	mem := r.Bytes()
	if need := RegionSize(frameSize, maxFrames); len(mem) < need {
		return nil, errors.New(errors.PhaseChannel, errors.KindInvalidInput).
			Path("region", "size").
			Detail("region holds %d bytes, channel needs %d", len(mem), need).
			Build()
	}
	c := bind(r, uint32(frameSize), uint32(maxFrames))
	binary.LittleEndian.PutUint32(mem[offVersion:], HeaderVersion)
	binary.LittleEndian.PutUint32(mem[offFrameSize:], uint32(frameSize))
	binary.LittleEndian.PutUint32(mem[offMaxFrames:], uint32(maxFrames))
	clear(mem[24:HeaderSize])
	atomic.StoreUint32(c.consumer, 0)
	atomic.StoreUint32(c.shutdown, 0)
	atomic.StoreUint32(c.producer, 0)
	return c, nil
}

// Attach opens a channel another party created in r.
func Attach(r Region) (*Channel, error) {
	mem := r.Bytes()
	if len(mem) < HeaderSize {
		return nil, errors.InvalidData(errors.PhaseChannel, []string{"header"}, "region smaller than header")
	}
	if v := binary.LittleEndian.Uint32(mem[offVersion:]); v != HeaderVersion {
		return nil, errors.New(errors.PhaseChannel, errors.KindInvalidData).
			Path("header", "version").
			Value(v).
			Detail("unsupported channel version %d", v).
			Build()
	}
	frameSize := binary.LittleEndian.Uint32(mem[offFrameSize:])
	maxFrames := binary.LittleEndian.Uint32(mem[offMaxFrames:])
	if err := checkShape(int(frameSize), int(maxFrames)); err != nil {
		return nil, err
	}
	if need := RegionSize(int(frameSize), int(maxFrames)); len(mem) < need {
		return nil, errors.InvalidData(errors.PhaseChannel, []string{"header"},
			fmt.Sprintf("header describes %d bytes, region has %d", need, len(mem)))
	}
	return bind(r, frameSize, maxFrames), nil
}

func bind(r Region, frameSize, maxFrames uint32) *Channel {
	mem := r.Bytes()
	return &Channel{
		region:    r,
		producer:  (*uint32)(unsafe.Pointer(&mem[offProducer])),
		consumer:  (*uint32)(unsafe.Pointer(&mem[offConsumer])),
		shutdown:  (*uint32)(unsafe.Pointer(&mem[offShutdown])),
		slots:     mem[HeaderSize : HeaderSize+int(frameSize)*int(maxFrames)],
		frameSize: frameSize,
		maxFrames: maxFrames,
	}
}

func (c *Channel) slot(seq uint32) []byte {
	off := int(seq&(c.maxFrames-1)) * int(c.frameSize)
	return c.slots[off : off+int(c.frameSize)]
}

func (c *Channel) sizeMismatch(what string, n int) error {
	return errors.Channel(errors.KindSizeMismatch,
		fmt.Sprintf("%s is %d bytes, frame size is %d", what, n, c.frameSize))
}

// Write copies frame into the next slot. It fails with ring_full when the
// consumer is max_frames behind and with size_mismatch when frame is not
// exactly one frame long; nothing is copied in either case.
func (c *Channel) Write(frame []byte) error {
	if len(frame) != int(c.frameSize) {
		return c.sizeMismatch("frame", len(frame))
	}
	p := atomic.LoadUint32(c.producer)
	if p-atomic.LoadUint32(c.consumer) >= c.maxFrames {
		return errRingFull
	}
	copy(c.slot(p), frame)
	atomic.StoreUint32(c.producer, p+1)
	return nil
}

// TryWrite is Write that reports a full ring as false instead of an error.
func (c *Channel) TryWrite(frame []byte) (bool, error) {
	err := c.Write(frame)
	if err == errRingFull {
		return false, nil
	}
	return err == nil, err
}

// Read copies the oldest frame into buf. It fails with no_data when the
// ring is empty and with size_mismatch when buf is not one frame long.
func (c *Channel) Read(buf []byte) error {
	if len(buf) != int(c.frameSize) {
		return c.sizeMismatch("buffer", len(buf))
	}
	s := atomic.LoadUint32(c.consumer)
	if atomic.LoadUint32(c.producer)-s == 0 {
		return errNoData
	}
	copy(buf, c.slot(s))
	atomic.StoreUint32(c.consumer, s+1)
	return nil
}

// TryRead is Read that reports an empty ring as false instead of an error.
func (c *Channel) TryRead(buf []byte) (bool, error) {
	err := c.Read(buf)
	if err == errNoData {
		return false, nil
	}
	return err == nil, err
}

// Len is the number of frames written and not yet read.
func (c *Channel) Len() int {
	return int(atomic.LoadUint32(c.producer) - atomic.LoadUint32(c.consumer))
}

// Shutdown signals the other side to stop. It does not drop queued frames.
func (c *Channel) Shutdown() { atomic.StoreUint32(c.shutdown, 1) }

func (c *Channel) IsShutdown() bool { return atomic.LoadUint32(c.shutdown) != 0 }

func (c *Channel) FrameSize() int { return int(c.frameSize) }
func (c *Channel) Capacity() int  { return int(c.maxFrames) }

// Name returns the region identifier to pass to Attach in another process.
func (c *Channel) Name() string { return c.region.Name() }

// Close releases the underlying region.
func (c *Channel) Close() error { return c.region.Close() }
