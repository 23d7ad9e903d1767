package vital

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// Writer encodes a vital stream packet by packet. It is used to build
// synthetic recordings; it does not compress.
type Writer struct {
	w   io.Writer
	buf bytes.Buffer
	err error
}

// NewWriter returns a Writer emitting to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Err returns the first write error.
func (w *Writer) Err() error {
	return w.err
}

func (w *Writer) u8(v uint8)    { w.buf.WriteByte(v) }
func (w *Writer) u16(v uint16)  { _ = binary.Write(&w.buf, binary.LittleEndian, v) }
func (w *Writer) u32(v uint32)  { _ = binary.Write(&w.buf, binary.LittleEndian, v) }
func (w *Writer) f32(v float32) { w.u32(math.Float32bits(v)) }
func (w *Writer) f64(v float64) { _ = binary.Write(&w.buf, binary.LittleEndian, math.Float64bits(v)) }
func (w *Writer) str(s string) {
	w.u32(uint32(len(s)))
	w.buf.WriteString(s)
}

func (w *Writer) flush() error {
	if w.err != nil {
		return w.err
	}
	_, w.err = w.w.Write(w.buf.Bytes())
	w.buf.Reset()
	return w.err
}

// WriteHeader writes the file header. HeaderLength is derived from the
// extension fields (10 bytes) unless h.HeaderLength is larger, in which
// case the extension is zero padded.
func (w *Writer) WriteHeader(h Header) error {
	ext := uint16(10)
	if h.HeaderLength > ext {
		ext = h.HeaderLength
	}
	w.buf.Write(Signature[:])
	w.u32(h.Version)
	w.u16(ext)
	w.u16(h.TZBias)
	w.u32(h.InstanceID)
	w.u32(h.ProgramVersion)
	w.buf.Write(make([]byte, ext-10))
	return w.flush()
}

// WritePacket writes a raw packet. A nil payload writes the end-of-stream
// sentinel.
func (w *Writer) WritePacket(typ PacketType, payload []byte) error {
	w.u8(uint8(typ))
	w.u32(uint32(len(payload)))
	w.buf.Write(payload)
	return w.flush()
}

// packet wraps whatever fill appends to w.buf into a packet of type typ.
func (w *Writer) packet(typ PacketType, fill func()) error {
	if w.err != nil {
		return w.err
	}
	fill()
	payload := append([]byte(nil), w.buf.Bytes()...)
	w.buf.Reset()
	return w.WritePacket(typ, payload)
}

// WriteTrackInfo declares a track.
func (w *Writer) WriteTrackInfo(ti TrackInfo) error {
	return w.packet(PacketTrackInfo, func() {
		w.u16(ti.ID)
		w.u8(uint8(ti.RecordType))
		w.u8(uint8(ti.RecordFormat))
		w.str(ti.Name)
		w.str(ti.Unit)
		w.f32(ti.MinValue)
		w.f32(ti.MaxValue)
		w.buf.Write(ti.Color[:])
		w.f32(ti.SampleRate)
		w.f64(ti.ADCGain)
		w.f64(ti.ADCOffset)
		w.u8(ti.MonitorType)
		w.u32(ti.DeviceID)
	})
}

// WriteDevice declares a device.
func (w *Writer) WriteDevice(d Device) error {
	return w.packet(PacketDeviceInfo, func() {
		w.u32(d.ID)
		w.str(d.TypeName)
		w.str(d.DeviceName)
		w.str(d.Port)
	})
}

func (w *Writer) recordHeader(tid uint16, dt float64) {
	w.u16(10)
	w.f64(dt)
	w.u16(tid)
}

// WriteWaveFloat writes a float wave batch.
func (w *Writer) WriteWaveFloat(tid uint16, dt float64, samples []float32) error {
	return w.packet(PacketRecord, func() {
		w.recordHeader(tid, dt)
		w.u32(uint32(len(samples)))
		for _, v := range samples {
			w.f32(v)
		}
	})
}

// WriteWaveShort writes a scaled-short wave batch of raw ADC values.
func (w *Writer) WriteWaveShort(tid uint16, dt float64, raw []int16) error {
	return w.packet(PacketRecord, func() {
		w.recordHeader(tid, dt)
		w.u32(uint32(len(raw)))
		for _, v := range raw {
			w.u16(uint16(v))
		}
	})
}

// WriteNumber writes a float number record.
func (w *Writer) WriteNumber(tid uint16, dt float64, v float32) error {
	return w.packet(PacketRecord, func() {
		w.recordHeader(tid, dt)
		w.f32(v)
	})
}

// WriteString writes a string record.
func (w *Writer) WriteString(tid uint16, dt float64, s string) error {
	return w.packet(PacketRecord, func() {
		w.recordHeader(tid, dt)
		w.u32(0)
		w.str(s)
	})
}

// WriteOrder writes an order command listing track ids.
func (w *Writer) WriteOrder(tids []uint16) error {
	if len(tids) > math.MaxUint16 {
		return fmt.Errorf("order command holds at most %d tracks", math.MaxUint16)
	}
	return w.packet(PacketCommand, func() {
		w.u8(uint8(CommandOrder))
		w.u16(uint16(len(tids)))
		for _, tid := range tids {
			w.u16(tid)
		}
	})
}

// WriteResetEvents writes a reset-events command.
func (w *Writer) WriteResetEvents() error {
	return w.packet(PacketCommand, func() {
		w.u8(uint8(CommandResetEvents))
	})
}

// Close writes the end-of-stream sentinel.
func (w *Writer) Close() error {
	return w.WritePacket(PacketTrackInfo, nil)
}
