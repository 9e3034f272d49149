package service

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"report_render/internal/engine"
	"report_render/internal/fetcher"
	"report_render/internal/models"
)

// setupRenderable creates a template report backed by a counting data source.
func setupRenderable(t *testing.T, f *fixture, body string) (*models.Report, *atomic.Int32) {
	t.Helper()
	ctx := context.Background()

	var calls atomic.Int32
	path := registerFetcher(t, func(ctx context.Context, params fetcher.Params) (map[string]any, error) {
		calls.Add(1)
		return map[string]any{"customer": params["customer"]}, nil
	})
	source := &models.DataSource{Name: "customers-" + path, DottedPath: path}
	require.NoError(t, f.sources.CreateDataSource(ctx, source))

	report := models.NewReport("Greeting", engine.ChoiceTemplate, "")
	report.DefaultData = models.JSON{"greeting": "Hello", "customer": "nobody"}
	report.DataSourceID = &source.ID
	require.NoError(t, f.reports.CreateReport(ctx, report))

	report, err := f.reports.UploadTemplate(ctx, report.ID, "greeting.txt", strings.NewReader(body))
	require.NoError(t, err)
	return report, &calls
}

func TestRenderReportMergesData(t *testing.T) {
	f := setupFixture(t)
	report, _ := setupRenderable(t, f, "{{.greeting}}, {{.customer}} @{{dpi}}")

	res, err := f.reports.RenderReport(context.Background(), report.ID, RenderParams{
		Params: fetcher.Params{"customer": "ACME"},
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello, ACME @150", string(res.Data))
	assert.Equal(t, "text/plain; charset=utf-8", res.ContentType)
	assert.Equal(t, "Greeting.txt", res.Filename)
	assert.False(t, res.Cached)
}

func TestRenderReportCache(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	report, calls := setupRenderable(t, f, "{{.customer}}")
	params := RenderParams{Format: "txt", DPI: 300, Params: fetcher.Params{"customer": "ACME"}}

	first, err := f.reports.RenderReport(ctx, report.ID, params)
	require.NoError(t, err)
	second, err := f.reports.RenderReport(ctx, report.ID, params)
	require.NoError(t, err)

	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Data, second.Data)
	assert.EqualValues(t, 1, calls.Load())

	// Другие параметры дают другой ключ кэша
	other := params
	other.Params = fetcher.Params{"customer": "Globex"}
	third, err := f.reports.RenderReport(ctx, report.ID, other)
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.Equal(t, "Globex", string(third.Data))

	// NoCache обходит кэш
	params.NoCache = true
	fourth, err := f.reports.RenderReport(ctx, report.ID, params)
	require.NoError(t, err)
	assert.False(t, fourth.Cached)
	assert.EqualValues(t, 3, calls.Load())
}

func TestRenderReportCacheInvalidatedOnUpdate(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	report, _ := setupRenderable(t, f, "{{.greeting}}")

	_, err := f.reports.RenderReport(ctx, report.ID, RenderParams{})
	require.NoError(t, err)

	data := models.JSON{"greeting": "Bonjour"}
	_, err = f.reports.UpdateReport(ctx, report.ID, ReportUpdateParams{DefaultData: &data})
	require.NoError(t, err)

	res, err := f.reports.RenderReport(ctx, report.ID, RenderParams{})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, "Bonjour", string(res.Data))
}

func TestRenderReportWithoutCacheRequired(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	report, _ := setupRenderable(t, f, "x")

	off := false
	_, err := f.reports.UpdateReport(ctx, report.ID, ReportUpdateParams{CacheRequired: &off})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		res, err := f.reports.RenderReport(ctx, report.ID, RenderParams{})
		require.NoError(t, err)
		assert.False(t, res.Cached)
	}
	renders, err := f.store.List(ctx, "renders/")
	require.NoError(t, err)
	assert.Empty(t, renders)
}

func TestRenderReportInvalidArgs(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	report, calls := setupRenderable(t, f, "x")

	_, err := f.reports.RenderReport(ctx, report.ID, RenderParams{DPI: 601})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.ErrorIs(t, err, engine.ErrInvalidDPI)

	_, err = f.reports.RenderReport(ctx, report.ID, RenderParams{DPI: -1})
	assert.ErrorIs(t, err, engine.ErrInvalidDPI)

	_, err = f.reports.RenderReport(ctx, report.ID, RenderParams{Format: "pdf"})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.ErrorIs(t, err, engine.ErrUnsupportedFormat)

	_, err = f.reports.RenderReport(ctx, 999, RenderParams{})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Zero(t, calls.Load())
}

func TestRenderReportWithoutTemplate(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	report := models.NewReport("empty", engine.ChoiceSpreadsheet, "")
	require.NoError(t, f.reports.CreateReport(ctx, report))

	_, err := f.reports.RenderReport(ctx, report.ID, RenderParams{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRenderReportUnknownEngineInDatabase(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	report, calls := setupRenderable(t, f, "x")

	// Значение вне перечисления, записанное в обход сервиса
	require.NoError(t, f.db.Model(&models.Report{}).Where("id = ?", report.ID).Update("engine", "crystal").Error)

	_, err := f.reports.RenderReport(ctx, report.ID, RenderParams{})
	var unknown *engine.UnknownEngineError
	assert.ErrorAs(t, err, &unknown)
	assert.Zero(t, calls.Load())
}

func TestRenderReportFetchError(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	source := &models.DataSource{Name: "ghost", DottedPath: "not.registered.anywhere"}
	require.NoError(t, f.sources.CreateDataSource(ctx, source))
	report := models.NewReport("r", engine.ChoiceTemplate, "")
	report.DataSourceID = &source.ID
	require.NoError(t, f.reports.CreateReport(ctx, report))
	_, err := f.reports.UploadTemplate(ctx, report.ID, "t.txt", strings.NewReader("x"))
	require.NoError(t, err)

	_, err = f.reports.RenderReport(ctx, report.ID, RenderParams{})
	var resolution *fetcher.ResolutionError
	assert.ErrorAs(t, err, &resolution)
}

func TestRenderKeyStable(t *testing.T) {
	report := &models.Report{ID: 5}
	a := renderKey(report, 150, "csv", fetcher.Params{"a": 1, "b": "x"})
	b := renderKey(report, 150, "csv", fetcher.Params{"b": "x", "a": 1})
	c := renderKey(report, 300, "csv", fetcher.Params{"a": 1, "b": "x"})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasPrefix(a, "renders/5/"))
	assert.True(t, strings.HasSuffix(a, ".csv"))
}

func TestOutputFilename(t *testing.T) {
	assert.Equal(t, "Sales_Q1.xlsx", outputFilename("Sales Q1", "xlsx"))
	assert.Equal(t, "report.csv", outputFilename("???", "csv"))
}

// setupSwitchableSource creates a cached template report over a data source
// returning {"v": "old"}, plus a second registered path returning {"v": "new"}.
func setupSwitchableSource(t *testing.T, f *fixture) (*models.Report, *models.DataSource, string) {
	t.Helper()
	ctx := context.Background()

	oldPath := registerFetcher(t, func(context.Context, fetcher.Params) (map[string]any, error) {
		return map[string]any{"v": "old"}, nil
	})
	newPath := registerFetcher(t, func(context.Context, fetcher.Params) (map[string]any, error) {
		return map[string]any{"v": "new"}, nil
	})

	source := &models.DataSource{Name: "switchable", DottedPath: oldPath}
	require.NoError(t, f.sources.CreateDataSource(ctx, source))

	report := models.NewReport("versioned", engine.ChoiceTemplate, "")
	report.DefaultData = models.JSON{"v": "default"}
	report.DataSourceID = &source.ID
	require.NoError(t, f.reports.CreateReport(ctx, report))
	report, err := f.reports.UploadTemplate(ctx, report.ID, "v.txt", strings.NewReader("{{.v}}"))
	require.NoError(t, err)
	return report, source, newPath
}

func TestRenderCacheFollowsDataSourcePath(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	report, source, newPath := setupSwitchableSource(t, f)

	first, err := f.reports.RenderReport(ctx, report.ID, RenderParams{})
	require.NoError(t, err)
	assert.Equal(t, "old", string(first.Data))
	assert.False(t, first.Cached)

	before, err := f.reports.GetReport(ctx, report.ID)
	require.NoError(t, err)

	_, err = f.sources.UpdateDataSource(ctx, source.ID, DataSourceUpdateParams{DottedPath: &newPath})
	require.NoError(t, err)

	renders, err := f.store.List(ctx, fmt.Sprintf("renders/%d/", report.ID))
	require.NoError(t, err)
	assert.Empty(t, renders)

	after, err := f.reports.GetReport(ctx, report.ID)
	require.NoError(t, err)
	assert.False(t, after.UpdatedAt.Before(before.UpdatedAt))

	second, err := f.reports.RenderReport(ctx, report.ID, RenderParams{})
	require.NoError(t, err)
	assert.Equal(t, "new", string(second.Data))
	assert.False(t, second.Cached)

	third, err := f.reports.RenderReport(ctx, report.ID, RenderParams{})
	require.NoError(t, err)
	assert.Equal(t, "new", string(third.Data))
	assert.True(t, third.Cached)
}

func TestRenameDataSourceKeepsRenderCache(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	report, source, _ := setupSwitchableSource(t, f)

	_, err := f.reports.RenderReport(ctx, report.ID, RenderParams{})
	require.NoError(t, err)

	name := "renamed"
	_, err = f.sources.UpdateDataSource(ctx, source.ID, DataSourceUpdateParams{Name: &name})
	require.NoError(t, err)

	res, err := f.reports.RenderReport(ctx, report.ID, RenderParams{})
	require.NoError(t, err)
	assert.Equal(t, "old", string(res.Data))
	assert.True(t, res.Cached)
}

func TestDeleteDataSourcePurgesRenders(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	report, source, _ := setupSwitchableSource(t, f)

	_, err := f.reports.RenderReport(ctx, report.ID, RenderParams{})
	require.NoError(t, err)

	require.NoError(t, f.sources.DeleteDataSource(ctx, source.ID))

	renders, err := f.store.List(ctx, fmt.Sprintf("renders/%d/", report.ID))
	require.NoError(t, err)
	assert.Empty(t, renders)

	res, err := f.reports.RenderReport(ctx, report.ID, RenderParams{})
	require.NoError(t, err)
	assert.Equal(t, "default", string(res.Data))
	assert.False(t, res.Cached)
}
