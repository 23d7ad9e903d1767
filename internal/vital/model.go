// Package vital decodes gzip-compressed vital-signs recordings into an
// immutable, queryable model of devices and tracks.
package vital

import "fmt"

// RecordType selects the layout of a track's data records.
type RecordType uint8

const (
	RecordWave   RecordType = 1
	RecordNumber RecordType = 2
	RecordString RecordType = 5
	RecordWave2  RecordType = 6
)

// IsWave reports whether records carry sample batches.
func (t RecordType) IsWave() bool {
	return t == RecordWave || t == RecordWave2
}

func (t RecordType) String() string {
	switch t {
	case RecordWave, RecordWave2:
		return "Wave"
	case RecordNumber:
		return "Number"
	case RecordString:
		return "String"
	default:
		return fmt.Sprintf("RecordType(%d)", uint8(t))
	}
}

// RecordFormat is the on-disk encoding of wave and number values.
type RecordFormat uint8

const (
	FormatFloat  RecordFormat = 1
	FormatDouble RecordFormat = 2
	FormatChar   RecordFormat = 3
	FormatByte   RecordFormat = 4
	FormatShort  RecordFormat = 5
	FormatWord   RecordFormat = 6
	FormatLong   RecordFormat = 7
	FormatDword  RecordFormat = 8
)

// IsScaledShort reports whether samples are 16-bit integers scaled by
// the track's ADC gain and offset.
func (f RecordFormat) IsScaledShort() bool {
	return f == FormatShort || f == FormatWord
}

// Device is a data source contributing one or more tracks.
type Device struct {
	ID         uint32 `json:"id"`
	TypeName   string `json:"typeName"`
	DeviceName string `json:"deviceName"`
	Port       string `json:"port"`
}

// TrackInfo is the declaration carried by a track-info packet.
type TrackInfo struct {
	ID           uint16       `json:"id"`
	RecordType   RecordType   `json:"recordType"`
	RecordFormat RecordFormat `json:"recordFormat"`
	Name         string       `json:"name"`
	Unit         string       `json:"unit"`
	MinValue     float32      `json:"minValue"`
	MaxValue     float32      `json:"maxValue"`
	Color        [4]byte      `json:"color"`
	SampleRate   float32      `json:"sampleRate"`
	ADCGain      float64      `json:"adcGain"`
	ADCOffset    float64      `json:"adcOffset"`
	MonitorType  uint8        `json:"monitorType"`
	DeviceID     uint32       `json:"deviceId"`
}

// ColorHex renders the track color as eight lowercase hex digits.
func (ti TrackInfo) ColorHex() string {
	return fmt.Sprintf("%02x%02x%02x%02x", ti.Color[0], ti.Color[1], ti.Color[2], ti.Color[3])
}

// WaveSeries holds the sample batches of a Wave or Wave2 track. Counts[i] is
// the number of samples in the batch starting at Timestamps[i].
type WaveSeries struct {
	Timestamps []float64
	Counts     []int32
	Samples    []float32
	Raw        []int16 // unscaled values, scaled-short formats only
}

// NumberSeries holds one value per record.
type NumberSeries struct {
	Timestamps []float64
	Values     []float32
}

// StringSeries holds one byte string per record.
type StringSeries struct {
	Timestamps []float64
	Lengths    []int32
	Values     [][]byte
}

// Track is a declared track and its accumulated data. Exactly one of Wave,
// Number and Text is set, chosen by RecordType.
type Track struct {
	TrackInfo
	StartTime float64 // first wave record time, 0 until seen

	Wave   *WaveSeries
	Number *NumberSeries
	Text   *StringSeries
}

func newTrack(info TrackInfo) *Track {
	t := &Track{TrackInfo: info}
	switch {
	case info.RecordType.IsWave():
		t.Wave = &WaveSeries{}
	case info.RecordType == RecordNumber:
		t.Number = &NumberSeries{}
	case info.RecordType == RecordString:
		t.Text = &StringSeries{}
	}
	return t
}

// Timestamps returns the per-record timestamps of whichever series is set.
func (t *Track) Timestamps() []float64 {
	switch {
	case t.Wave != nil:
		return t.Wave.Timestamps
	case t.Number != nil:
		return t.Number.Timestamps
	case t.Text != nil:
		return t.Text.Timestamps
	}
	return nil
}

// Len returns the number of records appended to the track.
func (t *Track) Len() int {
	return len(t.Timestamps())
}

// SampleCount is the number of samples for wave tracks and the number of
// records otherwise.
func (t *Track) SampleCount() int {
	if t.Wave != nil {
		return len(t.Wave.Samples)
	}
	return t.Len()
}

// inSync checks the parallel-array invariant of the track's series.
func (t *Track) inSync() bool {
	switch {
	case t.Wave != nil:
		return len(t.Wave.Timestamps) == len(t.Wave.Counts)
	case t.Number != nil:
		return len(t.Number.Timestamps) == len(t.Number.Values)
	case t.Text != nil:
		return len(t.Text.Timestamps) == len(t.Text.Lengths) &&
			len(t.Text.Lengths) == len(t.Text.Values)
	}
	return true
}

// seal trims the series so the sealed arrays cannot alias future appends.
func (t *Track) seal() {
	switch {
	case t.Wave != nil:
		w := t.Wave
		w.Timestamps = w.Timestamps[:len(w.Timestamps):len(w.Timestamps)]
		w.Counts = w.Counts[:len(w.Counts):len(w.Counts)]
		w.Samples = w.Samples[:len(w.Samples):len(w.Samples)]
		w.Raw = w.Raw[:len(w.Raw):len(w.Raw)]
	case t.Number != nil:
		n := t.Number
		n.Timestamps = n.Timestamps[:len(n.Timestamps):len(n.Timestamps)]
		n.Values = n.Values[:len(n.Values):len(n.Values)]
	case t.Text != nil:
		s := t.Text
		s.Timestamps = s.Timestamps[:len(s.Timestamps):len(s.Timestamps)]
		s.Lengths = s.Lengths[:len(s.Lengths):len(s.Lengths)]
		s.Values = s.Values[:len(s.Values):len(s.Values)]
	}
}

// Record is the audit entry kept for every decoded data record.
type Record struct {
	InfoLength uint16  `json:"infoLength"`
	Time       float64 `json:"time"`
	TrackID    uint16  `json:"trackId"`
	Samples    int     `json:"samples"`
}

// Recording is the decoded, read-only model of a vital file. Devices and
// Tracks keep declaration order; a re-declared id keeps its first position.
type Recording struct {
	Header      Header
	Devices     []*Device
	Tracks      []*Track
	Records     []Record
	Order       []uint16 // last order command, if any
	ResetEvents int
	Skipped     int  // packets of unknown type
	Truncated   bool // stream ended before the end-of-stream packet

	deviceByID map[uint32]*Device
	trackByID  map[uint16]*Track
}

// Device returns the device with the given id.
func (r *Recording) Device(id uint32) (*Device, bool) {
	d, ok := r.deviceByID[id]
	return d, ok
}

// Track returns the track with the given id.
func (r *Recording) Track(id uint16) (*Track, bool) {
	t, ok := r.trackByID[id]
	return t, ok
}

// TimeRange returns the earliest and latest record times. ok is false for a
// recording without records.
func (r *Recording) TimeRange() (start, end float64, ok bool) {
	for i, rec := range r.Records {
		if i == 0 || rec.Time < start {
			start = rec.Time
		}
		if i == 0 || rec.Time > end {
			end = rec.Time
		}
	}
	return start, end, len(r.Records) > 0
}
