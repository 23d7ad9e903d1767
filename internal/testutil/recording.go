package testutil

import (
	"bytes"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/vital-visualizer/backend/internal/vital"
)

// VitalFile returns a gzip-compressed recording whose packets are written
// by body after a version 3 header.
func VitalFile(t testing.TB, body func(w *vital.Writer) error) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	w := vital.NewWriter(zw)
	if err := w.WriteHeader(vital.Header{Version: 3}); err != nil {
		t.Fatalf("writing header: %v", err)
	}
	if err := body(w); err != nil {
		t.Fatalf("writing packets: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("closing writer: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing gzip: %v", err)
	}
	return buf.Bytes()
}

// MonitorRecording writes one Solar8000 monitor with a heart-rate number
// track (tid 1, range 0-200) and a 2 Hz ECG wave track (tid 2).
func MonitorRecording(w *vital.Writer) error {
	steps := []func() error{
		func() error {
			return w.WriteDevice(vital.Device{ID: 1, TypeName: "Solar8000", DeviceName: "monitor", Port: "COM1"})
		},
		func() error {
			return w.WriteTrackInfo(vital.TrackInfo{
				ID: 1, RecordType: vital.RecordNumber, RecordFormat: vital.FormatFloat,
				Name: "HR", Unit: "bpm", MaxValue: 200, DeviceID: 1,
			})
		},
		func() error {
			return w.WriteTrackInfo(vital.TrackInfo{
				ID: 2, RecordType: vital.RecordWave, RecordFormat: vital.FormatFloat,
				Name: "ECG", MinValue: -5, MaxValue: 5, SampleRate: 2, DeviceID: 1,
			})
		},
		func() error { return w.WriteNumber(1, 100, 60) },
		func() error { return w.WriteNumber(1, 101, 61) },
		func() error { return w.WriteNumber(1, 102, 250) },
		func() error { return w.WriteWaveFloat(2, 100, []float32{0, 1, 2, 3}) },
		func() error { return w.WriteWaveFloat(2, 110, []float32{4, 5}) },
		func() error {
			return w.WriteTrackInfo(vital.TrackInfo{ID: 3, RecordType: vital.RecordString, Name: "EVENT"})
		},
		func() error { return w.WriteString(3, 100.5, "intubation") },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return nil
}
