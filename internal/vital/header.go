package vital

import (
	"bytes"
	"fmt"
	"io"
)

// Signature opens every decompressed vital stream.
var Signature = [4]byte{'V', 'I', 'T', 'A'}

// headerFixedSize covers signature, version and header length.
const headerFixedSize = 10

// Header is the file header preceding the packet stream.
type Header struct {
	Signature      [4]byte `json:"-"`
	Version        uint32  `json:"version"`
	HeaderLength   uint16  `json:"headerLength"`
	TZBias         uint16  `json:"tzBias"`
	InstanceID     uint32  `json:"instanceId"`
	ProgramVersion uint32  `json:"programVersion"`
}

// Size is the number of bytes occupied by the header in the stream.
func (h Header) Size() int64 {
	return headerFixedSize + int64(h.HeaderLength)
}

// readHeader consumes the fixed header and the whole header extension.
// Extension fields missing from a short extension are left zero.
func readHeader(r io.Reader) (Header, error) {
	var h Header
	fixed := make([]byte, headerFixedSize)
	if _, err := io.ReadFull(r, fixed); err != nil {
		return h, fmt.Errorf("error reading header: %w", shortRead(err))
	}
	c := NewCursor(fixed)
	sig, _ := c.Bytes(4)
	copy(h.Signature[:], sig)
	if !bytes.Equal(sig, Signature[:]) {
		return h, fmt.Errorf("%w: signature %q", ErrBadSignature, sig)
	}
	h.Version, _ = c.Uint32()
	h.HeaderLength, _ = c.Uint16()

	ext := make([]byte, h.HeaderLength)
	if _, err := io.ReadFull(r, ext); err != nil {
		return h, fmt.Errorf("error reading header extension: %w", shortRead(err))
	}
	c = NewCursor(ext)
	if v, err := c.Uint16(); err == nil {
		h.TZBias = v
	}
	if v, err := c.Uint32(); err == nil {
		h.InstanceID = v
	}
	if v, err := c.Uint32(); err == nil {
		h.ProgramVersion = v
	}
	return h, nil
}

func shortRead(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrTruncatedInput
	}
	return err
}
