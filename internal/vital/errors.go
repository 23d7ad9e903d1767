package vital

import (
	"errors"
	"fmt"
)

// Decode-time errors. All of them except ErrTruncatedInput at a packet
// boundary abort the whole decode.
var (
	ErrTruncatedInput    = errors.New("truncated input")
	ErrUnknownTrack      = errors.New("record references undeclared track")
	ErrCorruptState      = errors.New("track series out of sync")
	ErrUnsupportedFormat = errors.New("unsupported record type or format")
	ErrUnknownCommand    = errors.New("unknown command code")
	ErrBadSignature      = errors.New("not a vital recording")
)

// Query-time errors. They never affect the decoded recording.
var (
	ErrNoSuchDevice = errors.New("no such device")
	ErrNoSuchTrack  = errors.New("no such track")
	ErrTrackType    = errors.New("track has wrong record type")
)

// DecodeError locates a fatal decode failure in the stream.
type DecodeError struct {
	Offset int64      // stream offset of the packet header
	Packet PacketType // packet being decoded
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s packet at offset %d: %v", e.Packet, e.Offset, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}
