package duckstore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vital-visualizer/backend/internal/vital"
)

func testRecording(t *testing.T) *vital.Recording {
	t.Helper()
	var buf bytes.Buffer
	w := vital.NewWriter(&buf)
	require.NoError(t, w.WriteHeader(vital.Header{Version: 3, TZBias: 540}))
	require.NoError(t, w.WriteDevice(vital.Device{ID: 1, TypeName: "Solar8000", DeviceName: "monitor", Port: "COM1"}))
	require.NoError(t, w.WriteTrackInfo(vital.TrackInfo{
		ID: 1, RecordType: vital.RecordNumber, RecordFormat: vital.FormatFloat,
		Name: "HR", Unit: "bpm", MaxValue: 100, DeviceID: 1,
	}))
	require.NoError(t, w.WriteTrackInfo(vital.TrackInfo{
		ID: 2, RecordType: vital.RecordWave, RecordFormat: vital.FormatFloat,
		Name: "ECG", MinValue: -1, MaxValue: 1, SampleRate: 2, DeviceID: 1,
	}))
	require.NoError(t, w.WriteTrackInfo(vital.TrackInfo{ID: 3, RecordType: vital.RecordString, Name: "EVENT"}))
	require.NoError(t, w.WriteNumber(1, 0, 10))
	require.NoError(t, w.WriteNumber(1, 1, 200))
	require.NoError(t, w.WriteNumber(1, 2, 50))
	require.NoError(t, w.WriteWaveFloat(2, 10, []float32{0, 0.5, 2, -0.5}))
	require.NoError(t, w.WriteWaveFloat(2, 30, []float32{1, 1}))
	require.NoError(t, w.WriteString(3, 5, "start"))
	require.NoError(t, w.Close())

	rec, err := vital.Decode(&buf)
	require.NoError(t, err)
	return rec
}

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Create(filepath.Join(t.TempDir(), "file_test.duckdb"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Import(context.Background(), testRecording(t)))
	return s
}

func TestCreateWritesFile(t *testing.T) {
	s := createTestStore(t)
	_, err := os.Stat(s.Path())
	assert.NoError(t, err)
}

func TestHeader(t *testing.T) {
	s := createTestStore(t)
	h, truncated, err := s.Header(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(3), h.Version)
	assert.Equal(t, uint16(540), h.TZBias)
	assert.False(t, truncated)
}

func TestTracksAndFindTrack(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	tracks, err := s.Tracks(ctx)
	require.NoError(t, err)
	require.Len(t, tracks, 3)
	assert.Equal(t, "HR", tracks[0].Name)
	assert.Equal(t, 3, tracks[0].Records)
	assert.Equal(t, vital.RecordWave, tracks[1].RecordType)

	tr, err := s.FindTrack(ctx, "Solar8000", "ECG")
	require.NoError(t, err)
	assert.Equal(t, uint16(2), tr.ID)

	tr, err = s.FindTrack(ctx, "", "EVENT")
	require.NoError(t, err)
	assert.Equal(t, uint16(3), tr.ID)

	_, err = s.FindTrack(ctx, "Primus", "ECG")
	assert.ErrorIs(t, err, vital.ErrNoSuchDevice)

	_, err = s.FindTrack(ctx, "", "HR")
	assert.ErrorIs(t, err, vital.ErrNoSuchTrack)
}

func TestInterval(t *testing.T) {
	ctx := context.Background()
	s := createTestStore(t)

	hr, err := s.FindTrack(ctx, "Solar8000", "HR")
	require.NoError(t, err)
	got, err := s.Interval(ctx, hr, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, []Sample{{Time: 1, Value: 200}}, got)

	got, err = s.Interval(ctx, hr, 5, 6)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)

	ecg, err := s.FindTrack(ctx, "Solar8000", "ECG")
	require.NoError(t, err)
	got, err = s.Interval(ctx, ecg, 10.5, 30.5)
	require.NoError(t, err)
	assert.Equal(t, []Sample{{10.5, 0.5}, {11, 2}, {11.5, -0.5}, {30, 1}}, got)

	ev, err := s.FindTrack(ctx, "", "EVENT")
	require.NoError(t, err)
	_, err = s.Interval(ctx, ev, 0, 10)
	assert.ErrorIs(t, err, vital.ErrTrackType)
}

func TestValidityMatchesRecording(t *testing.T) {
	s := createTestStore(t)

	rows, err := s.Validity(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testRecording(t).Validity(), rows)

	require.Len(t, rows, 2)
	assert.Equal(t, 2, rows[0].Valid)
	assert.Equal(t, 3, rows[0].Total)
	assert.Equal(t, 5, rows[1].Valid)
	assert.Equal(t, 6, rows[1].Total)
}

func TestOpenExisting(t *testing.T) {
	s := createTestStore(t)
	path := s.Path()
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	tracks, err := reopened.Tracks(context.Background())
	require.NoError(t, err)
	assert.Len(t, tracks, 3)

	_, err = Open(filepath.Join(t.TempDir(), "missing.duckdb"))
	assert.Error(t, err)
}
