package abi

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/wippyai/ffb-runtime/errors"
)

const (
	// Magic identifies a plugin header ("WWL1" read as little-endian u32).
	Magic uint32 = 0x57574C31

	// CurrentABIVersion is the native plugin ABI the host speaks (major 1, minor 0).
	CurrentABIVersion uint32 = 0x00010000

	// WasmABIVersion is the version reported by WASM plugins through get_info.
	WasmABIVersion uint32 = 1

	// HeaderSize is the encoded size of Header.
	HeaderSize = 16
)

// Capabilities is the bitmask a plugin declares in its header.
type Capabilities uint32

const (
	CapTelemetry Capabilities = 1 << iota
	CapLEDs
	CapHaptics

	// CapReservedMask covers bits no plugin may set.
	CapReservedMask Capabilities = 0xFFFFFFF8
)

var capNames = []struct {
	bit  Capabilities
	name string
}{
	{CapTelemetry, "telemetry"},
	{CapLEDs, "leds"},
	{CapHaptics, "haptics"},
}

// Has reports whether every bit of c2 is set.
func (c Capabilities) Has(c2 Capabilities) bool {
	return c&c2 == c2
}

// Known drops reserved bits.
func (c Capabilities) Known() Capabilities {
	return c &^ CapReservedMask
}

func (c Capabilities) String() string {
	if c == 0 {
		return "none"
	}
	var parts []string
	for _, n := range capNames {
		if c.Has(n.bit) {
			parts = append(parts, n.name)
		}
	}
	if r := c & CapReservedMask; r != 0 {
		parts = append(parts, fmt.Sprintf("reserved(0x%08X)", uint32(r)))
	}
	return strings.Join(parts, "|")
}

// ParseCapabilities parses a "telemetry|leds" style list.
func ParseCapabilities(s string) (Capabilities, error) {
	var c Capabilities
	if s == "" || s == "none" {
		return 0, nil
	}
outer:
	for _, part := range strings.Split(s, "|") {
		part = strings.TrimSpace(part)
		for _, n := range capNames {
			if n.name == part {
				c |= n.bit
				continue outer
			}
		}
		return 0, errors.InvalidInput(errors.PhaseLoad, fmt.Sprintf("unknown capability %q", part))
	}
	return c, nil
}

// Header is the 16-byte handshake record at the start of a plugin's ABI
// exchange. All fields are little-endian.
type Header struct {
	Magic        uint32
	ABIVersion   uint32
	Capabilities Capabilities
	Reserved     uint32
}

// NewHeader returns a header for the current ABI with caps.
func NewHeader(caps Capabilities) Header {
	return Header{Magic: Magic, ABIVersion: CurrentABIVersion, Capabilities: caps}
}

// IsValid reports whether magic and version match the host.
func (h Header) IsValid() bool {
	return h.Magic == Magic && h.ABIVersion == CurrentABIVersion
}

// Validate is IsValid plus zero reserved fields, with a specific error.
func (h Header) Validate() error {
	if h.Magic != Magic {
		return errors.New(errors.PhaseLoad, errors.KindInvalidData).
			Path("header", "magic").
			Detail("got 0x%08X, want 0x%08X", h.Magic, Magic).
			Build()
	}
	if h.ABIVersion != CurrentABIVersion {
		return &errors.AbiMismatchError{Expected: CurrentABIVersion, Actual: h.ABIVersion}
	}
	if h.Reserved != 0 {
		return errors.InvalidData(errors.PhaseLoad, []string{"header", "reserved"}, "must be zero")
	}
	if r := h.Capabilities & CapReservedMask; r != 0 {
		return errors.InvalidData(errors.PhaseLoad, []string{"header", "capabilities"},
			fmt.Sprintf("reserved bits set: 0x%08X", uint32(r)))
	}
	return nil
}

// AppendBinary appends the 16-byte encoding of h to b.
func (h Header) AppendBinary(b []byte) ([]byte, error) {
	b = binary.LittleEndian.AppendUint32(b, h.Magic)
	b = binary.LittleEndian.AppendUint32(b, h.ABIVersion)
	b = binary.LittleEndian.AppendUint32(b, uint32(h.Capabilities))
	b = binary.LittleEndian.AppendUint32(b, h.Reserved)
	return b, nil
}

func (h Header) MarshalBinary() ([]byte, error) {
	return h.AppendBinary(make([]byte, 0, HeaderSize))
}

// UnmarshalBinary decodes the first 16 bytes of data. It does not validate.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return errors.New(errors.PhaseLoad, errors.KindInvalidData).
			Path("header").
			Detail("need %d bytes, got %d", HeaderSize, len(data)).
			Build()
	}
	h.Magic = binary.LittleEndian.Uint32(data[0:4])
	h.ABIVersion = binary.LittleEndian.Uint32(data[4:8])
	h.Capabilities = Capabilities(binary.LittleEndian.Uint32(data[8:12]))
	h.Reserved = binary.LittleEndian.Uint32(data[12:16])
	return nil
}

// VersionString renders an ABI version as major.minor.
func VersionString(v uint32) string {
	return fmt.Sprintf("%d.%d", v>>16, v&0xFFFF)
}
