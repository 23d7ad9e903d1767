package vital

import (
	"fmt"
	"math"
	"time"
)

// TimeValue is one sample with a calendar timestamp.
type TimeValue struct {
	Time  time.Time `json:"time" msgpack:"time"`
	Value float64   `json:"value" msgpack:"value"`
}

// FlatSample is one sample with a raw epoch-seconds timestamp. A zero Time
// in wave flat form means the sample continues the previous one.
type FlatSample struct {
	Time  float64 `json:"time"`
	Value float64 `json:"value"`
}

// EpochToTime converts epoch seconds to a time in loc (UTC if nil).
func EpochToTime(sec float64, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	whole, frac := math.Modf(sec)
	nsec := math.Round(frac * 1e9)
	return time.Unix(int64(whole), int64(nsec)).In(loc)
}

// FindTrack resolves a track by device type name and track name. An empty
// typeName selects tracks without a device. The first device and the
// first track in declaration order win; a later device sharing the type
// name is never consulted, so a last-match scan would pick differently.
func (r *Recording) FindTrack(typeName, trackName string) (*Track, error) {
	var did uint32
	if typeName != "" {
		for _, d := range r.Devices {
			if d.TypeName == typeName {
				did = d.ID
				break
			}
		}
		if did == 0 {
			return nil, fmt.Errorf("%w: %q", ErrNoSuchDevice, typeName)
		}
	}
	for _, t := range r.Tracks {
		if t.Name == trackName && t.DeviceID == did {
			return t, nil
		}
	}
	if typeName == "" {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchTrack, trackName)
	}
	return nil, fmt.Errorf("%w: %q on %q", ErrNoSuchTrack, trackName, typeName)
}

func (r *Recording) findTyped(typeName, trackName string, want func(*Track) bool, kind string) (*Track, error) {
	t, err := r.FindTrack(typeName, trackName)
	if err != nil {
		return nil, err
	}
	if !want(t) {
		return nil, fmt.Errorf("%w: %s is %s, not %s", ErrTrackType, t.Name, t.RecordType, kind)
	}
	return t, nil
}

func isNumber(t *Track) bool { return t.Number != nil }
func isWave(t *Track) bool   { return t.Wave != nil }
func isString(t *Track) bool { return t.Text != nil }

// NumberValues returns the raw timestamps and values of a number track.
func (r *Recording) NumberValues(typeName, trackName string) ([]float64, []float32, error) {
	t, err := r.findTyped(typeName, trackName, isNumber, "Number")
	if err != nil {
		return nil, nil, err
	}
	return t.Number.Timestamps, t.Number.Values, nil
}

// NumberDatetime returns the values of a number track with calendar times in loc.
func (r *Recording) NumberDatetime(typeName, trackName string, loc *time.Location) ([]TimeValue, error) {
	ts, vals, err := r.NumberValues(typeName, trackName)
	if err != nil {
		return nil, err
	}
	out := make([]TimeValue, len(ts))
	for i := range ts {
		out[i] = TimeValue{Time: EpochToTime(ts[i], loc), Value: float64(vals[i])}
	}
	return out, nil
}

// NumberInterval returns the number values in [start, end).
func (r *Recording) NumberInterval(typeName, trackName string, loc *time.Location, start, end time.Time) ([]TimeValue, error) {
	tv, err := r.NumberDatetime(typeName, trackName, loc)
	if err != nil {
		return nil, err
	}
	return Interval(tv, start, end), nil
}

// Wave returns the contiguous segments of a wave track and its sample rate.
func (r *Recording) Wave(typeName, trackName string) ([]Segment, float32, error) {
	t, err := r.findTyped(typeName, trackName, isWave, "Wave")
	if err != nil {
		return nil, 0, err
	}
	segs, err := t.Segments()
	return segs, t.SampleRate, err
}

// WaveDatetime flattens the segments of a wave track, stamping sample j of
// a segment with start + j/sampleRate. A zero sample rate stamps every
// sample with its segment start.
func (r *Recording) WaveDatetime(typeName, trackName string, loc *time.Location) ([]TimeValue, error) {
	segs, srate, err := r.Wave(typeName, trackName)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, s := range segs {
		total += len(s.Samples)
	}
	out := make([]TimeValue, 0, total)
	for _, s := range segs {
		for j, v := range s.Samples {
			ts := s.Start
			if srate > 0 {
				ts += float64(j) / float64(srate)
			}
			out = append(out, TimeValue{Time: EpochToTime(ts, loc), Value: float64(v)})
		}
	}
	return out, nil
}

// WaveInterval returns the wave samples in [start, end).
func (r *Recording) WaveInterval(typeName, trackName string, loc *time.Location, start, end time.Time) ([]TimeValue, error) {
	tv, err := r.WaveDatetime(typeName, trackName, loc)
	if err != nil {
		return nil, err
	}
	return Interval(tv, start, end), nil
}

// Interval cuts tv, which must be time ordered, to [start, end) with a
// forward scan from the first element.
func Interval(tv []TimeValue, start, end time.Time) []TimeValue {
	p := 0
	for p < len(tv) && tv[p].Time.Before(start) {
		p++
	}
	q := p
	for q < len(tv) && tv[q].Time.Before(end) {
		q++
	}
	if p >= q {
		return []TimeValue{}
	}
	return tv[p:q]
}

// WaveCSVForm lists every sample of a wave track. The first sample of a
// batch that opens a segment carries the batch time; every other sample
// has Time 0.
func (r *Recording) WaveCSVForm(typeName, trackName string) ([]FlatSample, error) {
	t, err := r.findTyped(typeName, trackName, isWave, "Wave")
	if err != nil {
		return nil, err
	}
	w := t.Wave
	srate := float64(t.SampleRate)
	out := make([]FlatSample, 0, len(w.Samples))
	p := 0
	for vi, n := range w.Counts {
		for i := 0; i < int(n) && p+i < len(w.Samples); i++ {
			fs := FlatSample{Value: float64(w.Samples[p+i])}
			if i == 0 && startsSegment(w.Timestamps, w.Counts, srate, vi) {
				fs.Time = w.Timestamps[vi]
			}
			out = append(out, fs)
		}
		p += int(n)
	}
	return out, nil
}

// ValueCSVForm pairs each record time with the per-record slot of the
// track: the value for number tracks, the sample count for wave tracks and
// the byte length for string tracks.
func (r *Recording) ValueCSVForm(typeName, trackName string) ([]FlatSample, error) {
	t, err := r.FindTrack(typeName, trackName)
	if err != nil {
		return nil, err
	}
	ts := t.Timestamps()
	out := make([]FlatSample, len(ts))
	for i := range ts {
		out[i] = FlatSample{Time: ts[i], Value: t.Slot(i)}
	}
	return out, nil
}

// Slot returns the per-record value of record i: the sample count for wave
// tracks, the value for number tracks and the byte length for string tracks.
func (t *Track) Slot(i int) float64 {
	switch {
	case t.Wave != nil:
		return float64(t.Wave.Counts[i])
	case t.Number != nil:
		return float64(t.Number.Values[i])
	case t.Text != nil:
		return float64(t.Text.Lengths[i])
	}
	return 0
}

// Strings returns the raw timestamps and byte strings of a string track.
func (r *Recording) Strings(typeName, trackName string) ([]float64, [][]byte, error) {
	t, err := r.findTyped(typeName, trackName, isString, "String")
	if err != nil {
		return nil, nil, err
	}
	return t.Text.Timestamps, t.Text.Values, nil
}

// StringsDecoded is Strings with the values decoded as UTF-8. Invalid
// sequences become U+FFFD.
func (r *Recording) StringsDecoded(typeName, trackName string) ([]float64, []string, error) {
	ts, raw, err := r.Strings(typeName, trackName)
	if err != nil {
		return nil, nil, err
	}
	pool := newStringPool()
	out := make([]string, len(raw))
	for i, b := range raw {
		out[i] = pool.internBytes(b)
	}
	return ts, out, nil
}
