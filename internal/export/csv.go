// Package export renders decoded recordings as CSV tables.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/vital-visualizer/backend/internal/vital"
)

// Kind names one of the tables this package can render.
type Kind string

const (
	KindTracks   Kind = "tracks"
	KindDevices  Kind = "devices"
	KindDt       Kind = "dt"
	KindLength   Kind = "length"
	KindValues   Kind = "values"
	KindWave     Kind = "wave"
	KindValidity Kind = "validity"
)

// PerTrack reports whether the table is rendered for a single track.
func (k Kind) PerTrack() bool {
	return k == KindValues || k == KindWave
}

// ParseKind validates a table name.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindTracks, KindDevices, KindDt, KindLength, KindValues, KindWave, KindValidity:
		return k, nil
	}
	return "", fmt.Errorf("unknown export kind %q", s)
}

// TrackHeader names the columns of the track table.
var TrackHeader = []string{
	"did", "tid", "rec_type", "rec_format", "name", "unit", "minval", "maxval",
	"color", "srate", "adc_gain", "adc_offset", "mon_type", "dt_length", "vn_length",
}

// DeviceHeader names the columns of the device table.
var DeviceHeader = []string{"did", "typename", "devname", "port"}

// Write renders a whole-recording table. Per-track kinds need
// WriteValues or WriteWave instead.
func Write(w io.Writer, rec *vital.Recording, kind Kind) error {
	switch kind {
	case KindTracks:
		return WriteTracks(w, rec)
	case KindDevices:
		return WriteDevices(w, rec)
	case KindDt:
		return WriteDtMatrix(w, rec)
	case KindLength:
		return WriteLengthMatrix(w, rec)
	case KindValidity:
		return WriteValidity(w, rec.Validity())
	}
	return fmt.Errorf("export kind %q needs a track", kind)
}

// WriteTracks writes one row of metadata per track in declaration order.
func WriteTracks(w io.Writer, rec *vital.Recording) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(TrackHeader); err != nil {
		return err
	}
	for _, t := range rec.Tracks {
		row := []string{
			u64(uint64(t.DeviceID)),
			u64(uint64(t.ID)),
			u64(uint64(t.RecordType)),
			u64(uint64(t.RecordFormat)),
			t.Name,
			t.Unit,
			f32(t.MinValue),
			f32(t.MaxValue),
			t.ColorHex(),
			f32(t.SampleRate),
			f64(t.ADCGain),
			f64(t.ADCOffset),
			u64(uint64(t.MonitorType)),
			strconv.Itoa(t.Len()),
			strconv.Itoa(t.Len()),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return flush(cw)
}

// WriteDevices writes the device registry in declaration order.
func WriteDevices(w io.Writer, rec *vital.Recording) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(DeviceHeader); err != nil {
		return err
	}
	for _, d := range rec.Devices {
		if err := cw.Write([]string{u64(uint64(d.ID)), d.TypeName, d.DeviceName, d.Port}); err != nil {
			return err
		}
	}
	return flush(cw)
}

// WriteDtMatrix writes one column per track holding record timestamps
// relative to the track's first record. Shorter columns are padded with 0.
func WriteDtMatrix(w io.Writer, rec *vital.Recording) error {
	return writeMatrix(w, rec, func(t *vital.Track, i int) string {
		ts := t.Timestamps()
		return f64(ts[i] - ts[0])
	})
}

// WriteLengthMatrix writes one column per track holding the per-record
// slot: sample count for waves, value for numbers and byte length for
// strings. Shorter columns are padded with 0.
func WriteLengthMatrix(w io.Writer, rec *vital.Recording) error {
	return writeMatrix(w, rec, func(t *vital.Track, i int) string {
		return f64(t.Slot(i))
	})
}

func writeMatrix(w io.Writer, rec *vital.Recording, cell func(t *vital.Track, i int) string) error {
	cw := csv.NewWriter(w)
	header := make([]string, len(rec.Tracks))
	rows := 0
	for i, t := range rec.Tracks {
		header[i] = u64(uint64(t.ID))
		if n := t.Len(); n > rows {
			rows = n
		}
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	row := make([]string, len(rec.Tracks))
	for i := 0; i < rows; i++ {
		for j, t := range rec.Tracks {
			if i < t.Len() {
				row[j] = cell(t, i)
			} else {
				row[j] = "0"
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	return flush(cw)
}

// WriteFlat writes (time, value) pairs as produced by the CSV-form queries.
func WriteFlat(w io.Writer, samples []vital.FlatSample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"time", "value"}); err != nil {
		return err
	}
	for _, s := range samples {
		if err := cw.Write([]string{f64(s.Time), f64(s.Value)}); err != nil {
			return err
		}
	}
	return flush(cw)
}

// WriteValues writes the value form of one track.
func WriteValues(w io.Writer, rec *vital.Recording, typeName, trackName string) error {
	flat, err := rec.ValueCSVForm(typeName, trackName)
	if err != nil {
		return err
	}
	return WriteFlat(w, flat)
}

// WriteWave writes the flat wave form of one track.
func WriteWave(w io.Writer, rec *vital.Recording, typeName, trackName string) error {
	flat, err := rec.WaveCSVForm(typeName, trackName)
	if err != nil {
		return err
	}
	return WriteFlat(w, flat)
}

// WriteValidity writes a validity report with its header row.
func WriteValidity(w io.Writer, rows []vital.ValidityRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(vital.ValidityHeader); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{r.Device, r.Port, r.Track, r.Type, strconv.Itoa(r.Valid), strconv.Itoa(r.Total), f32(r.SampleRate)}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	return flush(cw)
}

func flush(cw *csv.Writer) error {
	cw.Flush()
	return cw.Error()
}

func u64(v uint64) string  { return strconv.FormatUint(v, 10) }
func f32(v float32) string { return strconv.FormatFloat(float64(v), 'g', -1, 32) }
func f64(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
