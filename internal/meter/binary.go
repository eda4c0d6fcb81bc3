package meter

import (
	"bytes"
	stderrors "errors"
)

var (
	errTruncated = stderrors.New("unexpected end of input")
	errOverflow  = stderrors.New("leb128 overflow")
)

// reader walks a byte slice. Positions are offsets into b.
type reader struct {
	b   []byte
	pos int
}

func (r *reader) len() int { return len(r.b) - r.pos }

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, errTruncated
	}
	c := r.b[r.pos]
	r.pos++
	return c, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.len() < n {
		return nil, errTruncated
	}
	out := r.b[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *reader) skip(n int) error {
	_, err := r.bytes(n)
	return err
}

func (r *reader) u32() (uint32, error) {
	var result uint32
	var shift uint
	for {
		c, err := r.byte()
		if err != nil {
			return 0, err
		}
		result |= uint32(c&0x7f) << shift
		if c&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 35 {
			return 0, errOverflow
		}
	}
}

func (r *reader) u64() (uint64, error) {
	var result uint64
	var shift uint
	for {
		c, err := r.byte()
		if err != nil {
			return 0, err
		}
		result |= uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			return result, nil
		}
		shift += 7
		if shift >= 70 {
			return 0, errOverflow
		}
	}
}

func (r *reader) s64() (int64, error) {
	var result int64
	var shift uint
	for {
		c, err := r.byte()
		if err != nil {
			return 0, err
		}
		result |= int64(c&0x7f) << shift
		shift += 7
		if c&0x80 == 0 {
			if shift < 64 && c&0x40 != 0 {
				result |= -1 << shift
			}
			return result, nil
		}
		if shift >= 70 {
			return 0, errOverflow
		}
	}
}

func (r *reader) name() (string, error) {
	n, err := r.u32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// writer appends the encodings the rewriter emits.
type writer struct {
	bytes.Buffer
}

func (w *writer) u32(v uint32) {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			c |= 0x80
		}
		w.WriteByte(c)
		if v == 0 {
			return
		}
	}
}

func (w *writer) s64(v int64) {
	for {
		c := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && c&0x40 == 0) || (v == -1 && c&0x40 != 0) {
			w.WriteByte(c)
			return
		}
		w.WriteByte(c | 0x80)
	}
}

func (w *writer) name(s string) {
	w.u32(uint32(len(s)))
	w.WriteString(s)
}

// section writes id, the payload size and the payload.
func (w *writer) section(id byte, payload []byte) {
	w.WriteByte(id)
	w.u32(uint32(len(payload)))
	w.Write(payload)
}
