package vital

// ValidityRow summarises how many samples of a track fall inside the
// track's declared [MinValue, MaxValue] range.
type ValidityRow struct {
	TrackID    uint16  `json:"trackId"`
	Device     string  `json:"device"`
	Port       string  `json:"port"`
	Track      string  `json:"track"`
	Type       string  `json:"type"`
	Valid      int     `json:"valid"`
	Total      int     `json:"total"`
	SampleRate float32 `json:"sampleRate"`
}

// ValidityHeader names the columns of a validity table.
var ValidityHeader = []string{"Device", "Port", "Track", "Type", "Valid", "Total", "SamplingRate"}

// Validity reports in-range sample counts for every track attached to a
// device. Wave tracks count samples, number tracks count values and
// string tracks report zero of zero. A device id missing from the device
// registry yields empty device and port columns.
func (r *Recording) Validity() []ValidityRow {
	rows := make([]ValidityRow, 0, len(r.Tracks))
	for _, t := range r.Tracks {
		if t.DeviceID == 0 {
			continue
		}
		row := ValidityRow{
			TrackID:    t.ID,
			Track:      t.Name,
			Type:       t.RecordType.String(),
			SampleRate: t.SampleRate,
		}
		if d, ok := r.deviceByID[t.DeviceID]; ok {
			row.Device = d.DeviceName
			row.Port = d.Port
		}
		switch {
		case t.Wave != nil:
			row.Valid, row.Total = countInRange(t.Wave.Samples, t.MinValue, t.MaxValue), len(t.Wave.Samples)
		case t.Number != nil:
			row.Valid, row.Total = countInRange(t.Number.Values, t.MinValue, t.MaxValue), len(t.Number.Values)
		}
		rows = append(rows, row)
	}
	return rows
}

func countInRange(vals []float32, lo, hi float32) int {
	n := 0
	for _, v := range vals {
		if v >= lo && v <= hi {
			n++
		}
	}
	return n
}
