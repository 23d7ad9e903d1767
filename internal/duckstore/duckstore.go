// Package duckstore mirrors a decoded recording into a DuckDB file so that
// interval and validity queries can run in SQL after the in-memory
// recording has been released.
package duckstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/marcboeker/go-duckdb"
	"github.com/vital-visualizer/backend/internal/logging"
	"github.com/vital-visualizer/backend/internal/vital"
)

var schema = []string{
	`CREATE TABLE header (
		version         BIGINT,
		header_length   INTEGER,
		tz_bias         INTEGER,
		instance_id     BIGINT,
		program_version BIGINT,
		truncated       BOOLEAN
	)`,
	`CREATE TABLE devices (
		seq         INTEGER NOT NULL,
		did         BIGINT PRIMARY KEY,
		type_name   VARCHAR,
		device_name VARCHAR,
		port        VARCHAR
	)`,
	`CREATE TABLE tracks (
		seq        INTEGER NOT NULL,
		tid        INTEGER PRIMARY KEY,
		did        BIGINT NOT NULL,
		rec_type   INTEGER NOT NULL,
		rec_format INTEGER NOT NULL,
		name       VARCHAR,
		unit       VARCHAR,
		min_value  DOUBLE,
		max_value  DOUBLE,
		srate      DOUBLE,
		adc_gain   DOUBLE,
		adc_offset DOUBLE,
		records    INTEGER
	)`,
	`CREATE TABLE numbers (
		tid   INTEGER NOT NULL,
		ts    DOUBLE NOT NULL,
		value DOUBLE
	)`,
	`CREATE TABLE wave_samples (
		tid   INTEGER NOT NULL,
		seg   INTEGER NOT NULL,
		ts    DOUBLE NOT NULL,
		value DOUBLE
	)`,
	`CREATE TABLE strings (
		tid   INTEGER NOT NULL,
		ts    DOUBLE NOT NULL,
		value VARCHAR
	)`,
}

var pragmas = []string{
	"PRAGMA memory_limit='1GB'",
	"PRAGMA threads=4",
	"PRAGMA enable_progress_bar=false",
}

// ErrEmpty is returned when a store has not been imported into.
var ErrEmpty = errors.New("store holds no recording")

// Store is a DuckDB file holding one recording.
type Store struct {
	db     *sql.DB
	dbPath string

	// limits concurrent queries
	querySem chan struct{}
}

// Sample is one stored sample with its epoch-seconds timestamp.
type Sample struct {
	Time  float64 `json:"time" msgpack:"time"`
	Value float64 `json:"value" msgpack:"value"`
}

// TrackRow is the stored metadata of one track.
type TrackRow struct {
	ID         uint16           `json:"tid"`
	DeviceID   uint32           `json:"did"`
	RecordType vital.RecordType `json:"recordType"`
	Name       string           `json:"name"`
	Unit       string           `json:"unit"`
	SampleRate float64          `json:"sampleRate"`
	Records    int              `json:"records"`
}

func connect(dbPath string, strict bool) (*sql.DB, error) {
	connector, err := duckdb.NewConnector(dbPath, func(execer driver.ExecerContext) error {
		for _, pragma := range pragmas {
			if _, err := execer.ExecContext(context.Background(), pragma, nil); err != nil {
				if strict {
					return err
				}
				logging.Warning("[DuckStore] pragma %q: %v", pragma, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connector: %w", err)
	}
	return sql.OpenDB(connector), nil
}

// Create creates an empty store at dbPath, replacing any existing file.
func Create(dbPath string) (*Store, error) {
	logging.Debug("[DuckStore] creating database at %s", dbPath)
	os.Remove(dbPath)

	db, err := connect(dbPath, true)
	if err != nil {
		return nil, err
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			os.Remove(dbPath)
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return newStore(db, dbPath), nil
}

// Open opens an existing store for querying.
func Open(dbPath string) (*Store, error) {
	if _, err := os.Stat(dbPath); err != nil {
		return nil, err
	}
	db, err := connect(dbPath, false)
	if err != nil {
		return nil, err
	}
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM tracks").Scan(&n); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read tracks: %w", err)
	}
	logging.Debug("[DuckStore] opened %s with %d tracks", dbPath, n)
	return newStore(db, dbPath), nil
}

func newStore(db *sql.DB, dbPath string) *Store {
	return &Store{
		db:       db,
		dbPath:   dbPath,
		querySem: make(chan struct{}, 3),
	}
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database, leaving the file in place.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Import writes rec into the store. Metadata goes through plain inserts,
// sample tables through the DuckDB appender.
func (s *Store) Import(ctx context.Context, rec *vital.Recording) error {
	start := time.Now()
	h := rec.Header
	if _, err := s.db.ExecContext(ctx, `INSERT INTO header VALUES (?, ?, ?, ?, ?, ?)`,
		int64(h.Version), int32(h.HeaderLength), int32(h.TZBias), int64(h.InstanceID), int64(h.ProgramVersion), rec.Truncated); err != nil {
		return fmt.Errorf("failed to insert header: %w", err)
	}
	for i, d := range rec.Devices {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO devices VALUES (?, ?, ?, ?, ?)`,
			int32(i), int64(d.ID), d.TypeName, d.DeviceName, d.Port); err != nil {
			return fmt.Errorf("failed to insert device %d: %w", d.ID, err)
		}
	}
	for i, t := range rec.Tracks {
		if _, err := s.db.ExecContext(ctx, `INSERT INTO tracks VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			int32(i), int32(t.ID), int64(t.DeviceID), int32(t.RecordType), int32(t.RecordFormat),
			t.Name, t.Unit, float64(t.MinValue), float64(t.MaxValue), float64(t.SampleRate),
			t.ADCGain, t.ADCOffset, int32(t.Len())); err != nil {
			return fmt.Errorf("failed to insert track %d: %w", t.ID, err)
		}
	}

	rows := 0
	err := s.withAppenders(ctx, func(numbers, waves, strs *duckdb.Appender) error {
		for _, t := range rec.Tracks {
			tid := int32(t.ID)
			switch {
			case t.Number != nil:
				for i, ts := range t.Number.Timestamps {
					if err := numbers.AppendRow(tid, ts, float64(t.Number.Values[i])); err != nil {
						return err
					}
				}
				rows += len(t.Number.Timestamps)
			case t.Text != nil:
				for i, ts := range t.Text.Timestamps {
					if err := strs.AppendRow(tid, ts, strings.ToValidUTF8(string(t.Text.Values[i]), "\uFFFD")); err != nil {
						return err
					}
				}
				rows += len(t.Text.Timestamps)
			case t.Wave != nil:
				segs, err := t.Segments()
				if err != nil {
					return err
				}
				srate := float64(t.SampleRate)
				for si, seg := range segs {
					for j, v := range seg.Samples {
						ts := seg.Start
						if srate > 0 {
							ts += float64(j) / srate
						}
						if err := waves.AppendRow(tid, int32(si), ts, float64(v)); err != nil {
							return err
						}
					}
					rows += len(seg.Samples)
				}
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("appender error: %w", err)
	}

	for _, idx := range []string{
		"CREATE INDEX idx_numbers ON numbers(tid, ts)",
		"CREATE INDEX idx_waves ON wave_samples(tid, ts)",
	} {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			logging.Warning("[DuckStore] %s: %v", idx, err)
		}
	}
	logging.Info("[DuckStore] imported %d tracks, %d sample rows in %v", len(rec.Tracks), rows, time.Since(start))
	return nil
}

// withAppenders hands fn one appender per sample table on a single
// connection and flushes them when fn returns.
func (s *Store) withAppenders(ctx context.Context, fn func(numbers, waves, strs *duckdb.Appender) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	return conn.Raw(func(driverConn interface{}) error {
		dConn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("failed to cast to duckdb.Conn")
		}
		var apps []*duckdb.Appender
		for _, table := range []string{"numbers", "wave_samples", "strings"} {
			a, err := duckdb.NewAppenderFromConn(dConn, "", table)
			if err != nil {
				for _, open := range apps {
					open.Close()
				}
				return fmt.Errorf("failed to create appender for %s: %w", table, err)
			}
			apps = append(apps, a)
		}
		ferr := fn(apps[0], apps[1], apps[2])
		for _, a := range apps {
			if err := a.Close(); err != nil && ferr == nil {
				ferr = err
			}
		}
		return ferr
	})
}

func (s *Store) acquire(ctx context.Context) (func(), error) {
	select {
	case s.querySem <- struct{}{}:
		return func() { <-s.querySem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Header returns the stored file header and truncation flag.
func (s *Store) Header(ctx context.Context) (vital.Header, bool, error) {
	var (
		h                    vital.Header
		version, inst, prog  int64
		headerLength, tzBias int32
		truncated            bool
	)
	err := s.db.QueryRowContext(ctx, `SELECT version, header_length, tz_bias, instance_id, program_version, truncated FROM header`).
		Scan(&version, &headerLength, &tzBias, &inst, &prog, &truncated)
	if err == sql.ErrNoRows {
		return h, false, ErrEmpty
	}
	if err != nil {
		return h, false, err
	}
	h.Signature = vital.Signature
	h.Version = uint32(version)
	h.HeaderLength = uint16(headerLength)
	h.TZBias = uint16(tzBias)
	h.InstanceID = uint32(inst)
	h.ProgramVersion = uint32(prog)
	return h, truncated, nil
}

// Tracks lists the stored tracks in declaration order.
func (s *Store) Tracks(ctx context.Context) ([]TrackRow, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := s.db.QueryContext(ctx, `SELECT tid, did, rec_type, name, unit, srate, records FROM tracks ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrackRow
	for rows.Next() {
		var (
			tid, recType, records int32
			did                   int64
			tr                    TrackRow
		)
		if err := rows.Scan(&tid, &did, &recType, &tr.Name, &tr.Unit, &tr.SampleRate, &records); err != nil {
			return nil, err
		}
		tr.ID = uint16(tid)
		tr.DeviceID = uint32(did)
		tr.RecordType = vital.RecordType(recType)
		tr.Records = int(records)
		out = append(out, tr)
	}
	return out, rows.Err()
}

// FindTrack resolves a track id the way Recording.FindTrack does: the first
// device of the given type and then the first track with that name.
func (s *Store) FindTrack(ctx context.Context, typeName, trackName string) (TrackRow, error) {
	var did int64
	if typeName != "" {
		err := s.db.QueryRowContext(ctx, `SELECT did FROM devices WHERE type_name = ? ORDER BY seq LIMIT 1`, typeName).Scan(&did)
		if err == sql.ErrNoRows || (err == nil && did == 0) {
			return TrackRow{}, fmt.Errorf("%w: %q", vital.ErrNoSuchDevice, typeName)
		}
		if err != nil {
			return TrackRow{}, err
		}
	}

	var (
		tid, recType, records int32
		tr                    TrackRow
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT tid, rec_type, name, unit, srate, records FROM tracks
		WHERE name = ? AND did = ? ORDER BY seq LIMIT 1
	`, trackName, did).Scan(&tid, &recType, &tr.Name, &tr.Unit, &tr.SampleRate, &records)
	if err == sql.ErrNoRows {
		return TrackRow{}, fmt.Errorf("%w: %q", vital.ErrNoSuchTrack, trackName)
	}
	if err != nil {
		return TrackRow{}, err
	}
	tr.ID = uint16(tid)
	tr.DeviceID = uint32(did)
	tr.RecordType = vital.RecordType(recType)
	tr.Records = int(records)
	return tr, nil
}

// Interval returns the samples of tr with start <= ts < end. Number
// tracks read stored values, wave tracks read per-sample timestamps.
func (s *Store) Interval(ctx context.Context, tr TrackRow, start, end float64) ([]Sample, error) {
	var table string
	switch {
	case tr.RecordType == vital.RecordNumber:
		table = "numbers"
	case tr.RecordType.IsWave():
		table = "wave_samples"
	default:
		return nil, fmt.Errorf("%w: %s is %s", vital.ErrTrackType, tr.Name, tr.RecordType)
	}

	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT ts, value FROM %s WHERE tid = ? AND ts >= ? AND ts < ? ORDER BY ts`, table),
		int32(tr.ID), start, end)
	if err != nil {
		return nil, fmt.Errorf("interval query failed: %w", err)
	}
	defer rows.Close()

	out := []Sample{}
	for rows.Next() {
		var smp Sample
		if err := rows.Scan(&smp.Time, &smp.Value); err != nil {
			return nil, err
		}
		out = append(out, smp)
	}
	return out, rows.Err()
}

// Validity computes the validity report in SQL. It matches
// Recording.Validity row for row.
func (s *Store) Validity(ctx context.Context) ([]vital.ValidityRow, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	rows, err := s.db.QueryContext(ctx, `
		WITH samples AS (
			SELECT tid, value FROM numbers
			UNION ALL
			SELECT tid, value FROM wave_samples
		)
		SELECT t.tid,
			COALESCE(d.device_name, ''),
			COALESCE(d.port, ''),
			t.name,
			t.rec_type,
			COUNT(s.value) FILTER (WHERE s.value >= t.min_value AND s.value <= t.max_value),
			COUNT(s.value),
			t.srate
		FROM tracks t
		LEFT JOIN devices d ON d.did = t.did
		LEFT JOIN samples s ON s.tid = t.tid
		WHERE t.did <> 0
		GROUP BY t.seq, t.tid, d.device_name, d.port, t.name, t.rec_type, t.srate
		ORDER BY t.seq
	`)
	if err != nil {
		return nil, fmt.Errorf("validity query failed: %w", err)
	}
	defer rows.Close()

	out := []vital.ValidityRow{}
	for rows.Next() {
		var (
			tid, recType int32
			valid, total int64
			srate        float64
			row          vital.ValidityRow
		)
		if err := rows.Scan(&tid, &row.Device, &row.Port, &row.Track, &recType, &valid, &total, &srate); err != nil {
			return nil, err
		}
		row.TrackID = uint16(tid)
		row.Type = vital.RecordType(recType).String()
		row.Valid = int(valid)
		row.Total = int(total)
		row.SampleRate = float32(srate)
		out = append(out, row)
	}
	return out, rows.Err()
}
