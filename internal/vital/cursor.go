package vital

import (
	"encoding/binary"
	"math"
)

// Cursor decodes little-endian values from a packet payload. A failed read
// leaves the position unchanged.
type Cursor struct {
	buf []byte
	pos int
}

// NewCursor returns a cursor positioned at the start of b.
func NewCursor(b []byte) *Cursor {
	return &Cursor{buf: b}
}

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int {
	return len(c.buf) - c.pos
}

// Pos returns the number of bytes consumed so far.
func (c *Cursor) Pos() int {
	return c.pos
}

func (c *Cursor) take(n int) ([]byte, error) {
	if n < 0 || c.Remaining() < n {
		return nil, ErrTruncatedInput
	}
	b := c.buf[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

func (c *Cursor) Uint8() (uint8, error) {
	b, err := c.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *Cursor) Uint16() (uint16, error) {
	b, err := c.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (c *Cursor) Int16() (int16, error) {
	v, err := c.Uint16()
	return int16(v), err
}

func (c *Cursor) Uint32() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (c *Cursor) Float32() (float32, error) {
	v, err := c.Uint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (c *Cursor) Float64() (float64, error) {
	b, err := c.take(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(b)), nil
}

// Bytes returns a copy of the next n bytes.
func (c *Cursor) Bytes(n int) ([]byte, error) {
	b, err := c.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, b)
	return out, nil
}

// Skip discards n bytes.
func (c *Cursor) Skip(n int) error {
	_, err := c.take(n)
	return err
}

// LengthPrefixed reads a u32 byte count followed by that many bytes.
func (c *Cursor) LengthPrefixed() ([]byte, error) {
	start := c.pos
	n, err := c.Uint32()
	if err != nil {
		return nil, err
	}
	if uint64(n) > uint64(c.Remaining()) {
		c.pos = start
		return nil, ErrTruncatedInput
	}
	return c.Bytes(int(n))
}

// Text reads a length-prefixed byte string.
func (c *Cursor) Text() (string, error) {
	b, err := c.LengthPrefixed()
	if err != nil {
		return "", err
	}
	return string(b), nil
}
