package vital

import "fmt"

// builder accumulates devices, tracks and records during one decode pass.
// It is discarded once the Recording snapshot has been taken.
type builder struct {
	devices    []*Device
	tracks     []*Track
	deviceByID map[uint32]*Device
	trackByID  map[uint16]*Track
	records    []Record
	order      []uint16
	resets     int
	skipped    int
}

func newBuilder() *builder {
	return &builder{
		deviceByID: make(map[uint32]*Device),
		trackByID:  make(map[uint16]*Track),
	}
}

// declareTrack installs a track, discarding any data of an earlier
// declaration with the same id.
func (b *builder) declareTrack(info TrackInfo) {
	t := newTrack(info)
	if old, ok := b.trackByID[info.ID]; ok {
		for i := range b.tracks {
			if b.tracks[i] == old {
				b.tracks[i] = t
				break
			}
		}
	} else {
		b.tracks = append(b.tracks, t)
	}
	b.trackByID[info.ID] = t
}

func (b *builder) declareDevice(d Device) {
	dev := &d
	if old, ok := b.deviceByID[d.ID]; ok {
		for i := range b.devices {
			if b.devices[i] == old {
				b.devices[i] = dev
				break
			}
		}
	} else {
		b.devices = append(b.devices, dev)
	}
	b.deviceByID[d.ID] = dev
}

func (b *builder) applyCommand(cmd Command) {
	switch cmd.Code {
	case CommandOrder:
		b.order = cmd.Order
	case CommandResetEvents:
		b.resets++
	}
}

// appendRecord decodes the type-dependent payload of a data record and
// appends it to the owning track. Timestamps and the paired per-record
// slot are appended together so the series never drift apart.
func (b *builder) appendRecord(c *Cursor) error {
	rh, err := parseRecordHeader(c)
	if err != nil {
		return err
	}
	t, ok := b.trackByID[rh.TrackID]
	if !ok {
		return fmt.Errorf("%w: track id %d", ErrUnknownTrack, rh.TrackID)
	}
	if !t.inSync() {
		return fmt.Errorf("%w: track id %d", ErrCorruptState, rh.TrackID)
	}

	var n int
	switch {
	case t.RecordType.IsWave():
		n, err = appendWave(t, rh.Time, c)
	case t.RecordType == RecordNumber:
		n, err = appendNumber(t, rh.Time, c)
	case t.RecordType == RecordString:
		n, err = appendString(t, rh.Time, c)
	default:
		err = fmt.Errorf("%w: record type %d on track %d", ErrUnsupportedFormat, t.RecordType, t.ID)
	}
	if err != nil {
		return err
	}

	b.records = append(b.records, Record{
		InfoLength: rh.InfoLength,
		Time:       rh.Time,
		TrackID:    rh.TrackID,
		Samples:    n,
	})
	return nil
}

func appendWave(t *Track, dt float64, c *Cursor) (int, error) {
	count, err := c.Uint32()
	if err != nil {
		return 0, err
	}
	width := 0
	switch {
	case t.RecordFormat == FormatFloat:
		width = 4
	case t.RecordFormat.IsScaledShort():
		width = 2
	default:
		return 0, fmt.Errorf("%w: wave format %d on track %d", ErrUnsupportedFormat, t.RecordFormat, t.ID)
	}
	if uint64(count)*uint64(width) > uint64(c.Remaining()) {
		return 0, ErrTruncatedInput
	}

	w := t.Wave
	n := int(count)
	if t.RecordFormat == FormatFloat {
		for i := 0; i < n; i++ {
			v, _ := c.Float32()
			w.Samples = append(w.Samples, v)
		}
	} else {
		for i := 0; i < n; i++ {
			raw, _ := c.Int16()
			w.Raw = append(w.Raw, raw)
			w.Samples = append(w.Samples, float32(float64(raw)*t.ADCGain+t.ADCOffset))
		}
	}
	w.Timestamps = append(w.Timestamps, dt)
	w.Counts = append(w.Counts, int32(count))
	if t.StartTime == 0 {
		t.StartTime = dt
	}
	return n, nil
}

func appendNumber(t *Track, dt float64, c *Cursor) (int, error) {
	if t.RecordFormat != FormatFloat {
		return 0, fmt.Errorf("%w: number format %d on track %d", ErrUnsupportedFormat, t.RecordFormat, t.ID)
	}
	v, err := c.Float32()
	if err != nil {
		return 0, err
	}
	t.Number.Timestamps = append(t.Number.Timestamps, dt)
	t.Number.Values = append(t.Number.Values, v)
	return 1, nil
}

func appendString(t *Track, dt float64, c *Cursor) (int, error) {
	if err := c.Skip(4); err != nil {
		return 0, err
	}
	s, err := c.LengthPrefixed()
	if err != nil {
		return 0, err
	}
	t.Text.Timestamps = append(t.Text.Timestamps, dt)
	t.Text.Lengths = append(t.Text.Lengths, int32(len(s)))
	t.Text.Values = append(t.Text.Values, s)
	return 1, nil
}

// snapshot seals every track and hands the registries to a Recording.
func (b *builder) snapshot(h Header, truncated bool) *Recording {
	for _, t := range b.tracks {
		t.seal()
	}
	return &Recording{
		Header:      h,
		Devices:     b.devices,
		Tracks:      b.tracks,
		Records:     b.records,
		Order:       b.order,
		ResetEvents: b.resets,
		Skipped:     b.skipped,
		Truncated:   truncated,
		deviceByID:  b.deviceByID,
		trackByID:   b.trackByID,
	}
}
