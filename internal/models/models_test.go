package models

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"report_render/internal/engine"
	"report_render/internal/fetcher"
)

// spyFiles serves a single template that dumps the data mapping as JSON
// and counts how often it was opened.
type spyFiles struct {
	gets atomic.Int32
}

func (s *spyFiles) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	s.gets.Add(1)
	return io.NopCloser(bytes.NewReader([]byte(`{{json .}}`))), nil
}

// spyFetcher records the params it was called with.
type spyFetcher struct {
	data   map[string]any
	err    error
	calls  int
	params fetcher.Params
}

func (s *spyFetcher) GetData(ctx context.Context, params fetcher.Params) (map[string]any, error) {
	s.calls++
	s.params = params
	return s.data, s.err
}

// registerSpy registers f under a fresh path in the default registry and
// counts factory invocations.
func registerSpy(t *testing.T, f fetcher.Fetcher) (string, *atomic.Int32) {
	t.Helper()
	var built atomic.Int32
	path := "test." + uuid.NewString()
	require.NoError(t, fetcher.Register(path, func() (fetcher.Fetcher, error) {
		built.Add(1)
		return f, nil
	}))
	return path, &built
}

func renderJSON(t *testing.T, r *Report, params fetcher.Params) map[string]any {
	t.Helper()
	out, err := r.Render(context.Background(), &spyFiles{}, 150, "txt", params)
	require.NoError(t, err)
	var got map[string]any
	require.NoError(t, json.Unmarshal(out, &got))
	return got
}

func withSource(r *Report, ds *DataSource) *Report {
	id := uint(1)
	ds.ID = id
	r.DataSourceID = &id
	r.DataSource = ds
	return r
}

func TestDataSourceGetDataPassesParams(t *testing.T) {
	spy := &spyFetcher{data: map[string]any{"rows": []any{1, 2}}}
	path, _ := registerSpy(t, spy)
	ds := &DataSource{Name: "orders", DottedPath: path}

	got, err := ds.GetData(context.Background(), fetcher.Params{"year": 2024})
	require.NoError(t, err)
	assert.Equal(t, spy.data, got)
	assert.Equal(t, fetcher.Params{"year": 2024}, spy.params)
}

func TestDataSourceInstanceCached(t *testing.T) {
	path, built := registerSpy(t, &spyFetcher{})
	ds := &DataSource{Name: "orders", DottedPath: path}

	first, err := ds.Instance()
	require.NoError(t, err)
	second, err := ds.Instance()
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.EqualValues(t, 1, built.Load())

	// The cache outlives a path change on the same value.
	ds.DottedPath = "does.not.exist"
	third, err := ds.Instance()
	require.NoError(t, err)
	assert.Same(t, first, third)
}

func TestDataSourceResolutionErrors(t *testing.T) {
	ds := &DataSource{Name: "ghost", DottedPath: "no.such.fetcher"}
	_, err := ds.GetData(context.Background(), nil)
	var resolution *fetcher.ResolutionError
	assert.ErrorAs(t, err, &resolution)

	path := "test.broken." + uuid.NewString()
	require.NoError(t, fetcher.Register(path, func() (fetcher.Fetcher, error) {
		return nil, errors.New("missing credentials")
	}))
	ds = &DataSource{Name: "broken", DottedPath: path}
	_, err = ds.Instance()
	var construction *fetcher.ConstructionError
	assert.ErrorAs(t, err, &construction)
}

func TestDataSourceFetchErrorUnchanged(t *testing.T) {
	boom := errors.New("upstream down")
	path, _ := registerSpy(t, &spyFetcher{err: boom})
	ds := &DataSource{Name: "x", DottedPath: path}

	_, err := ds.GetData(context.Background(), nil)
	assert.Same(t, boom, err)
}

func TestDataSourceText(t *testing.T) {
	ds := DataSource{ID: 7, Name: "orders"}
	assert.Equal(t, "orders", fmt.Sprint(ds))
	assert.Equal(t, "DataSource(id=7, name=orders)", fmt.Sprintf("%#v", ds))
}

func TestReportRenderSourceOverridesDefaults(t *testing.T) {
	path, _ := registerSpy(t, &spyFetcher{data: map[string]any{"a": 2, "b": 3}})
	r := NewReport("r", engine.ChoiceTemplate, "reports/t.txt")
	r.DefaultData = JSON{"a": 1}
	withSource(r, &DataSource{Name: "s", DottedPath: path})

	got := renderJSON(t, r, nil)
	assert.Equal(t, map[string]any{"a": float64(2), "b": float64(3)}, got)
}

func TestReportRenderWithoutSource(t *testing.T) {
	r := NewReport("r", engine.ChoiceTemplate, "reports/t.txt")
	r.DefaultData = JSON{"x": 1}

	got := renderJSON(t, r, fetcher.Params{"ignored": true})
	assert.Equal(t, map[string]any{"x": float64(1)}, got)
}

func TestReportRenderNilDefaults(t *testing.T) {
	r := NewReport("r", engine.ChoiceTemplate, "reports/t.txt")
	r.DefaultData = nil

	got := renderJSON(t, r, nil)
	assert.Empty(t, got)

	path, _ := registerSpy(t, &spyFetcher{data: map[string]any{"k": "v"}})
	withSource(r, &DataSource{Name: "s", DottedPath: path})
	got = renderJSON(t, r, nil)
	assert.Equal(t, map[string]any{"k": "v"}, got)
}

func TestReportRenderDoesNotMutateDefaults(t *testing.T) {
	spy := &spyFetcher{data: map[string]any{"a": 2}}
	path, _ := registerSpy(t, spy)
	r := NewReport("r", engine.ChoiceTemplate, "reports/t.txt")
	r.DefaultData = JSON{"a": 1}
	withSource(r, &DataSource{Name: "s", DottedPath: path})

	renderJSON(t, r, nil)
	spy.data = map[string]any{}
	got := renderJSON(t, r, nil)

	assert.Equal(t, map[string]any{"a": float64(1)}, got)
	assert.Equal(t, JSON{"a": 1}, r.DefaultData)
}

func TestReportRenderUnknownEngineFailsFirst(t *testing.T) {
	spy := &spyFetcher{data: map[string]any{}}
	path, _ := registerSpy(t, spy)
	r := NewReport("r", "crystal", "reports/t.txt")
	withSource(r, &DataSource{Name: "s", DottedPath: path})
	files := &spyFiles{}

	_, err := r.Render(context.Background(), files, 150, "pdf", nil)

	var unknown *engine.UnknownEngineError
	require.ErrorAs(t, err, &unknown)
	assert.Zero(t, spy.calls)
	assert.Zero(t, files.gets.Load())
}

func TestReportRenderFetchErrorSkipsEngine(t *testing.T) {
	boom := errors.New("fetch failed")
	path, _ := registerSpy(t, &spyFetcher{err: boom})
	r := NewReport("r", engine.ChoiceTemplate, "reports/t.txt")
	withSource(r, &DataSource{Name: "s", DottedPath: path})
	files := &spyFiles{}

	_, err := r.Render(context.Background(), files, 150, "txt", nil)

	assert.Same(t, boom, err)
	assert.Zero(t, files.gets.Load())
}

func TestReportRenderSourceNotLoaded(t *testing.T) {
	id := uint(3)
	r := NewReport("r", engine.ChoiceTemplate, "reports/t.txt")
	r.DataSourceID = &id

	_, err := r.Render(context.Background(), &spyFiles{}, 150, "txt", nil)
	assert.ErrorIs(t, err, ErrDataSourceNotLoaded)
}

func TestReportEngineCached(t *testing.T) {
	r := NewReport("r", engine.ChoiceSpreadsheet, "reports/t.xlsx")

	first, err := r.Engine()
	require.NoError(t, err)
	r.EngineChoice = engine.ChoiceTemplate
	second, err := r.Engine()
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, engine.ChoiceSpreadsheet, second.Name())
}

func TestReportValidate(t *testing.T) {
	assert.NoError(t, NewReport("ok", engine.ChoiceSpreadsheet, "reports/a.xlsx").Validate())
	assert.NoError(t, NewReport("no file yet", engine.ChoiceTemplate, "").Validate())

	assert.ErrorIs(t, NewReport("", engine.ChoiceTemplate, "").Validate(), ErrInvalid)
	assert.ErrorIs(t, NewReport("x", engine.ChoiceTemplate, "/etc/passwd").Validate(), ErrInvalid)
	assert.ErrorIs(t, NewReport("x", engine.ChoiceTemplate, "reports/../x").Validate(), ErrInvalid)

	var unknown *engine.UnknownEngineError
	assert.ErrorAs(t, NewReport("x", "crystal", "").Validate(), &unknown)
}

func TestReportText(t *testing.T) {
	r := Report{ID: 4, Name: "Monthly"}
	assert.Equal(t, "Monthly", r.String())
	assert.Equal(t, "Report(id=4, name=Monthly)", fmt.Sprintf("%#v", r))
}

func TestJSONScan(t *testing.T) {
	var j JSON
	require.NoError(t, j.Scan([]byte(`{"a":1}`)))
	assert.Equal(t, JSON{"a": float64(1)}, j)

	require.NoError(t, j.Scan(nil))
	assert.Nil(t, j)

	assert.Error(t, j.Scan(42))

	v, err := JSON(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}
