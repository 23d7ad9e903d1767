// handlers_recordings.go - Queries over decoded recordings
package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/vital-visualizer/backend/internal/export"
	"github.com/vital-visualizer/backend/internal/vital"
	"github.com/vmihailenco/msgpack/v5"
)

// RecordingHandlerImpl implements the RecordingHandler interface
type RecordingHandlerImpl struct {
	sessionMgr SessionManager
}

// NewRecordingHandler creates a new recording handler
func NewRecordingHandler(sessionMgr SessionManager) RecordingHandler {
	return &RecordingHandlerImpl{sessionMgr: sessionMgr}
}

func (h *RecordingHandlerImpl) recording(c echo.Context) (*vital.Recording, error) {
	rec, err := h.sessionMgr.GetRecording(c.Param("sessionId"))
	if err != nil {
		return nil, fromDomainError(err)
	}
	return rec, nil
}

// trackQuery holds the track selector and optional time window of a request.
type trackQuery struct {
	TypeName  string
	TrackName string
	Start     time.Time
	End       time.Time
	Windowed  bool
}

// parseTimeParam accepts RFC3339 or epoch seconds.
func parseTimeParam(s string, loc *time.Location) (time.Time, error) {
	if sec, err := strconv.ParseFloat(s, 64); err == nil {
		return vital.EpochToTime(sec, loc), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(loc), nil
}

func (h *RecordingHandlerImpl) parseTrackQuery(c echo.Context) (trackQuery, error) {
	q := trackQuery{
		TypeName:  c.QueryParam("type"),
		TrackName: c.QueryParam("name"),
	}
	if q.TrackName == "" {
		return q, NewValidationError("name")
	}

	startParam, endParam := c.QueryParam("start"), c.QueryParam("end")
	if startParam == "" && endParam == "" {
		return q, nil
	}
	if startParam == "" {
		return q, NewValidationError("start")
	}
	if endParam == "" {
		return q, NewValidationError("end")
	}

	loc := h.sessionMgr.Location()
	var err error
	if q.Start, err = parseTimeParam(startParam, loc); err != nil {
		return q, NewBadRequestError("invalid start time", err)
	}
	if q.End, err = parseTimeParam(endParam, loc); err != nil {
		return q, NewBadRequestError("invalid end time", err)
	}
	q.Windowed = true
	return q, nil
}

type headerResponse struct {
	Header      vital.Header `json:"header"`
	Truncated   bool         `json:"truncated"`
	Skipped     int          `json:"skipped"`
	ResetEvents int          `json:"resetEvents"`
	Order       []uint16     `json:"order,omitempty"`
	StartTime   *time.Time   `json:"startTime,omitempty"`
	EndTime     *time.Time   `json:"endTime,omitempty"`
}

// HandleHeader returns the file header and decode summary
func (h *RecordingHandlerImpl) HandleHeader(c echo.Context) error {
	rec, err := h.recording(c)
	if err != nil {
		return err
	}

	resp := headerResponse{
		Header:      rec.Header,
		Truncated:   rec.Truncated,
		Skipped:     rec.Skipped,
		ResetEvents: rec.ResetEvents,
		Order:       rec.Order,
	}
	if first, last, ok := rec.TimeRange(); ok {
		loc := h.sessionMgr.Location()
		start, end := vital.EpochToTime(first, loc), vital.EpochToTime(last, loc)
		resp.StartTime, resp.EndTime = &start, &end
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleDevices returns the device registry in declaration order
func (h *RecordingHandlerImpl) HandleDevices(c echo.Context) error {
	rec, err := h.recording(c)
	if err != nil {
		return err
	}
	devices := make([]vital.Device, 0, len(rec.Devices))
	for _, d := range rec.Devices {
		devices = append(devices, *d)
	}
	return c.JSON(http.StatusOK, devices)
}

type trackSummary struct {
	ID           uint16  `json:"id"`
	Name         string  `json:"name"`
	Unit         string  `json:"unit"`
	Type         string  `json:"type"`
	RecordType   uint8   `json:"recordType"`
	RecordFormat uint8   `json:"recordFormat"`
	DeviceID     uint32  `json:"deviceId"`
	DeviceType   string  `json:"deviceType,omitempty"`
	DeviceName   string  `json:"deviceName,omitempty"`
	MinValue     float32 `json:"minValue"`
	MaxValue     float32 `json:"maxValue"`
	Color        string  `json:"color"`
	SampleRate   float32 `json:"sampleRate"`
	Records      int     `json:"records"`
	Samples      int     `json:"samples"`
}

// HandleTracks lists track metadata in declaration order
func (h *RecordingHandlerImpl) HandleTracks(c echo.Context) error {
	rec, err := h.recording(c)
	if err != nil {
		return err
	}

	tracks := make([]trackSummary, 0, len(rec.Tracks))
	for _, t := range rec.Tracks {
		ts := trackSummary{
			ID:           t.ID,
			Name:         t.Name,
			Unit:         t.Unit,
			Type:         t.RecordType.String(),
			RecordType:   uint8(t.RecordType),
			RecordFormat: uint8(t.RecordFormat),
			DeviceID:     t.DeviceID,
			MinValue:     t.MinValue,
			MaxValue:     t.MaxValue,
			Color:        t.ColorHex(),
			SampleRate:   t.SampleRate,
			Records:      t.Len(),
			Samples:      t.SampleCount(),
		}
		if d, ok := rec.Device(t.DeviceID); ok {
			ts.DeviceType = d.TypeName
			ts.DeviceName = d.DeviceName
		}
		tracks = append(tracks, ts)
	}
	return c.JSON(http.StatusOK, tracks)
}

// HandleValidity returns the per-track validity report
func (h *RecordingHandlerImpl) HandleValidity(c echo.Context) error {
	rec, err := h.recording(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec.Validity())
}

// HandleRecords returns the record audit log in arrival order, paginated
func (h *RecordingHandlerImpl) HandleRecords(c echo.Context) error {
	rec, err := h.recording(c)
	if err != nil {
		return err
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.QueryParam("pageSize"))
	if pageSize < 1 {
		pageSize = 100
	}
	// Cap page size to prevent excessive memory usage
	if pageSize > 1000 {
		pageSize = 1000
	}

	total := len(rec.Records)
	// pages past the end are empty; clamp before multiplying
	if lastPage := total/pageSize + 1; page > lastPage {
		page = lastPage + 1
	}
	start := min((page-1)*pageSize, total)
	end := start + pageSize
	if end > total {
		end = total
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"records":  rec.Records[start:end],
		"total":    total,
		"page":     page,
		"pageSize": pageSize,
	})
}

// HandleNumberTrack returns the timestamped values of a number track
func (h *RecordingHandlerImpl) HandleNumberTrack(c echo.Context) error {
	rec, err := h.recording(c)
	if err != nil {
		return err
	}
	q, err := h.parseTrackQuery(c)
	if err != nil {
		return err
	}

	loc := h.sessionMgr.Location()
	var tv []vital.TimeValue
	if q.Windowed {
		tv, err = rec.NumberInterval(q.TypeName, q.TrackName, loc, q.Start, q.End)
	} else {
		tv, err = rec.NumberDatetime(q.TypeName, q.TrackName, loc)
	}
	if err != nil {
		return fromDomainError(err)
	}
	return c.JSON(http.StatusOK, tv)
}

type waveResponse struct {
	SampleRate float32         `json:"sampleRate" msgpack:"sampleRate"`
	Segments   []vital.Segment `json:"segments" msgpack:"segments"`
}

func (h *RecordingHandlerImpl) wave(c echo.Context) (*waveResponse, error) {
	rec, err := h.recording(c)
	if err != nil {
		return nil, err
	}
	q, err := h.parseTrackQuery(c)
	if err != nil {
		return nil, err
	}
	segs, srate, err := rec.Wave(q.TypeName, q.TrackName)
	if err != nil {
		return nil, fromDomainError(err)
	}
	return &waveResponse{SampleRate: srate, Segments: segs}, nil
}

// HandleWaveTrack returns the contiguous segments of a wave track
func (h *RecordingHandlerImpl) HandleWaveTrack(c echo.Context) error {
	resp, err := h.wave(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleWaveMsgpack returns the segments of a wave track in MessagePack
// format, which is considerably smaller than JSON for float arrays.
func (h *RecordingHandlerImpl) HandleWaveMsgpack(c echo.Context) error {
	resp, err := h.wave(c)
	if err != nil {
		return err
	}
	data, err := msgpack.Marshal(resp)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleWaveSamples returns the timestamped samples of a wave track
func (h *RecordingHandlerImpl) HandleWaveSamples(c echo.Context) error {
	rec, err := h.recording(c)
	if err != nil {
		return err
	}
	q, err := h.parseTrackQuery(c)
	if err != nil {
		return err
	}

	loc := h.sessionMgr.Location()
	var tv []vital.TimeValue
	if q.Windowed {
		tv, err = rec.WaveInterval(q.TypeName, q.TrackName, loc, q.Start, q.End)
	} else {
		tv, err = rec.WaveDatetime(q.TypeName, q.TrackName, loc)
	}
	if err != nil {
		return fromDomainError(err)
	}
	return c.JSON(http.StatusOK, tv)
}

type stringValue struct {
	Time  time.Time `json:"time"`
	Value string    `json:"value"`
}

// HandleStringTrack returns the decoded values of a string track
func (h *RecordingHandlerImpl) HandleStringTrack(c echo.Context) error {
	rec, err := h.recording(c)
	if err != nil {
		return err
	}
	q, err := h.parseTrackQuery(c)
	if err != nil {
		return err
	}

	ts, vals, err := rec.StringsDecoded(q.TypeName, q.TrackName)
	if err != nil {
		return fromDomainError(err)
	}
	loc := h.sessionMgr.Location()
	out := make([]stringValue, 0, len(ts))
	for i := range ts {
		t := vital.EpochToTime(ts[i], loc)
		if q.Windowed && (t.Before(q.Start) || !t.Before(q.End)) {
			continue
		}
		out = append(out, stringValue{Time: t, Value: vals[i]})
	}
	return c.JSON(http.StatusOK, out)
}

// HandleExport renders one of the export tables as CSV. The kind comes
// from the path, with an optional ".csv" suffix.
func (h *RecordingHandlerImpl) HandleExport(c echo.Context) error {
	kind, err := export.ParseKind(strings.TrimSuffix(c.Param("kind"), ".csv"))
	if err != nil {
		return NewBadRequestError("unknown export", err)
	}
	rec, err := h.recording(c)
	if err != nil {
		return err
	}

	var q trackQuery
	if kind.PerTrack() {
		if q, err = h.parseTrackQuery(c); err != nil {
			return err
		}
		// resolve before writing so lookup errors keep their status code
		if _, err := rec.FindTrack(q.TypeName, q.TrackName); err != nil {
			return fromDomainError(err)
		}
	}

	c.Response().Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf("attachment; filename=%q", string(kind)+".csv"))
	c.Response().WriteHeader(http.StatusOK)

	w := c.Response()
	switch kind {
	case export.KindValues:
		err = export.WriteValues(w, rec, q.TypeName, q.TrackName)
	case export.KindWave:
		err = export.WriteWave(w, rec, q.TypeName, q.TrackName)
	default:
		err = export.Write(w, rec, kind)
	}
	if err != nil {
		// headers are committed, the error can only be logged
		return fmt.Errorf("writing %s export: %w", kind, err)
	}
	return nil
}

// HandleDBTracks lists tracks from the persisted DuckDB mirror
func (h *RecordingHandlerImpl) HandleDBTracks(c echo.Context) error {
	store, err := h.sessionMgr.GetStore(c.Param("sessionId"))
	if err != nil {
		return fromDomainError(err)
	}
	tracks, err := store.Tracks(c.Request().Context())
	if err != nil {
		return NewInternalError("failed to query tracks", err)
	}
	return c.JSON(http.StatusOK, tracks)
}

// HandleDBInterval runs a half-open interval query against the DuckDB mirror
func (h *RecordingHandlerImpl) HandleDBInterval(c echo.Context) error {
	store, err := h.sessionMgr.GetStore(c.Param("sessionId"))
	if err != nil {
		return fromDomainError(err)
	}
	q, err := h.parseTrackQuery(c)
	if err != nil {
		return err
	}
	if !q.Windowed {
		return NewValidationError("start")
	}

	ctx := c.Request().Context()
	tr, err := store.FindTrack(ctx, q.TypeName, q.TrackName)
	if err != nil {
		return fromDomainError(err)
	}
	samples, err := store.Interval(ctx, tr, epochSeconds(q.Start), epochSeconds(q.End))
	if err != nil {
		return fromDomainError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"track":   tr,
		"samples": samples,
	})
}

// HandleDBValidity computes the validity report in SQL
func (h *RecordingHandlerImpl) HandleDBValidity(c echo.Context) error {
	store, err := h.sessionMgr.GetStore(c.Param("sessionId"))
	if err != nil {
		return fromDomainError(err)
	}
	rows, err := store.Validity(c.Request().Context())
	if err != nil {
		return NewInternalError("failed to query validity", err)
	}
	return c.JSON(http.StatusOK, rows)
}

func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
