package vital

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildStream encodes a header, whatever body writes, and the end sentinel.
func buildStream(t *testing.T, body func(w *Writer)) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteHeader(Header{Version: 3, TZBias: 540, InstanceID: 7, ProgramVersion: 42}))
	body(w)
	require.NoError(t, w.Close())
	require.NoError(t, w.Err())
	return buf.Bytes()
}

func decodeStream(t *testing.T, body func(w *Writer)) *Recording {
	t.Helper()
	rec, err := Decode(bytes.NewReader(buildStream(t, body)))
	require.NoError(t, err)
	require.NotNil(t, rec)
	return rec
}

func numberTrack(tid uint16, name string, did uint32, lo, hi float32) TrackInfo {
	return TrackInfo{
		ID:           tid,
		RecordType:   RecordNumber,
		RecordFormat: FormatFloat,
		Name:         name,
		Unit:         "bpm",
		MinValue:     lo,
		MaxValue:     hi,
		DeviceID:     did,
	}
}

func waveTrack(tid uint16, name string, did uint32, srate float32) TrackInfo {
	return TrackInfo{
		ID:           tid,
		RecordType:   RecordWave,
		RecordFormat: FormatFloat,
		Name:         name,
		Unit:         "mV",
		MinValue:     -10,
		MaxValue:     10,
		SampleRate:   srate,
		DeviceID:     did,
	}
}

func ramp(from, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(from + i)
	}
	return out
}
