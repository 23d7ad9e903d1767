package vital

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vital-visualizer/backend/internal/logging"
)

// ProgressFunc receives the number of decompressed bytes consumed so far.
type ProgressFunc func(bytesRead int64)

// Option configures a decode pass.
type Option func(*decoder)

// WithProgress reports progress every interval packets.
func WithProgress(fn ProgressFunc, interval int) Option {
	return func(d *decoder) {
		d.progress = fn
		if interval > 0 {
			d.progressEvery = interval
		}
	}
}

// WithLogPrefix tags log lines emitted during the decode, e.g. "[Decode 1a2b3c4d]".
func WithLogPrefix(prefix string) Option {
	return func(d *decoder) {
		d.prefix = prefix
	}
}

type decoder struct {
	r             *bufio.Reader
	offset        int64
	b             *builder
	progress      ProgressFunc
	progressEvery int
	prefix        string
}

// Decode reads a decompressed vital stream (header followed by packets)
// and returns the sealed recording. A fatal error returns a nil recording.
func Decode(r io.Reader, opts ...Option) (*Recording, error) {
	d := &decoder{
		r:             bufio.NewReaderSize(r, 64*1024),
		b:             newBuilder(),
		progressEvery: 10000,
		prefix:        "[Decode]",
	}
	for _, opt := range opts {
		opt(d)
	}

	h, err := readHeader(d.r)
	if err != nil {
		return nil, err
	}
	d.offset = h.Size()
	logging.Debug("%s header: version=%d headerLength=%d tzBias=%d", d.prefix, h.Version, h.HeaderLength, h.TZBias)

	truncated, err := d.readPackets()
	if err != nil {
		return nil, err
	}
	rec := d.b.snapshot(h, truncated)
	logging.Debug("%s decoded %d devices, %d tracks, %d records", d.prefix, len(rec.Devices), len(rec.Tracks), len(rec.Records))
	return rec, nil
}

// readPackets runs the packet loop until the zero-length sentinel. It
// reports truncated=true when the stream ends before the sentinel.
// Payloads are buffered only as their bytes arrive, so the declared length
// never drives an allocation by itself.
func (d *decoder) readPackets() (truncated bool, err error) {
	hdr := make([]byte, packetHeaderSize)
	var payload bytes.Buffer
	for n := 1; ; n++ {
		start := d.offset
		if _, err := io.ReadFull(d.r, hdr); err != nil {
			return d.endEarly(start, err)
		}
		typ := PacketType(hdr[0])
		length := int64(binary.LittleEndian.Uint32(hdr[1:]))
		if length == 0 {
			return false, nil
		}

		if !typ.known() {
			if _, err := io.CopyN(io.Discard, d.r, length); err != nil {
				return d.endEarly(start, err)
			}
			d.b.skipped++
			logging.Debug("%s skipping %s (%d bytes)", d.prefix, typ, length)
		} else {
			payload.Reset()
			if _, err := io.CopyN(&payload, d.r, length); err != nil {
				return d.endEarly(start, err)
			}
			if err := d.dispatch(typ, NewCursor(payload.Bytes())); err != nil {
				return false, &DecodeError{Offset: start, Packet: typ, Err: err}
			}
		}
		d.offset += packetHeaderSize + length

		if d.progress != nil && n%d.progressEvery == 0 {
			d.progress(d.offset)
		}
	}
}

func (d *decoder) endEarly(offset int64, err error) (bool, error) {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		logging.Warning("%s stream ended at offset %d before end-of-stream packet, keeping %d records", d.prefix, offset, len(d.b.records))
		return true, nil
	}
	return false, fmt.Errorf("error reading packet at offset %d: %w", offset, err)
}

func (d *decoder) dispatch(typ PacketType, c *Cursor) error {
	switch typ {
	case PacketTrackInfo:
		ti, err := parseTrackInfo(c)
		if err != nil {
			return err
		}
		d.b.declareTrack(ti)
	case PacketRecord:
		return d.b.appendRecord(c)
	case PacketCommand:
		cmd, err := parseCommand(c)
		if err != nil {
			return err
		}
		if cmd.Code == CommandResetEvents {
			logging.Debug("%s reset-events command ignored", d.prefix)
		}
		d.b.applyCommand(cmd)
	case PacketDeviceInfo:
		dev, err := parseDeviceInfo(c)
		if err != nil {
			return err
		}
		d.b.declareDevice(dev)
	default:
		return fmt.Errorf("no decoder for %s", typ)
	}
	return nil
}
