package vital

import (
	"fmt"
	"math"
)

// GapThreshold is the largest timing error, in seconds, between a batch and
// the end of its predecessor that still counts as contiguous.
const GapThreshold = 1.0

// Segment is a maximal run of contiguous wave batches.
type Segment struct {
	Start   float64   `json:"start" msgpack:"start"` // epoch seconds of the first sample
	Samples []float32 `json:"samples" msgpack:"samples"`
}

// batchGap is the distance between the timestamp of batch i and the time
// its predecessor was expected to end.
func batchGap(ts []float64, counts []int32, srate float64, i int) float64 {
	return math.Abs(ts[i] - ts[i-1] - float64(counts[i-1])/srate)
}

// startsSegment reports whether batch i opens a new segment.
func startsSegment(ts []float64, counts []int32, srate float64, i int) bool {
	return i == 0 || batchGap(ts, counts, srate, i) > GapThreshold
}

// BuildSegments splits flat wave arrays into contiguous segments. The
// returned sample slices share memory with samples and, concatenated in
// order, reproduce samples[:sum(counts)].
func BuildSegments(ts []float64, counts []int32, samples []float32, srate float64) []Segment {
	if len(ts) == 0 {
		return nil
	}
	var segs []Segment
	startDt, startP := ts[0], 0
	lastP := int(counts[0])
	for vi := 1; vi < len(ts); vi++ {
		if startsSegment(ts, counts, srate, vi) {
			segs = append(segs, Segment{Start: startDt, Samples: clip(samples, startP, lastP)})
			startDt, startP = ts[vi], lastP
		}
		lastP += int(counts[vi])
	}
	return append(segs, Segment{Start: startDt, Samples: clip(samples, startP, lastP)})
}

// clip bounds a slice expression to the available samples.
func clip(s []float32, from, to int) []float32 {
	if to > len(s) {
		to = len(s)
	}
	if from > to {
		from = to
	}
	return s[from:to:to]
}

// Segments reconstructs the contiguous segments of a wave track.
func (t *Track) Segments() ([]Segment, error) {
	if t.Wave == nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrTrackType, t.Name, t.RecordType)
	}
	return BuildSegments(t.Wave.Timestamps, t.Wave.Counts, t.Wave.Samples, float64(t.SampleRate)), nil
}
