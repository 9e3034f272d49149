package di

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"

	"report_render/internal/config"
	"report_render/internal/scheduler"
	"report_render/internal/server"
	"report_render/internal/service"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	var cfg config.Config
	cfg.DB = config.DB{Driver: "sqlite", DSN: ":memory:"}
	cfg.Storage = config.Storage{Type: "local", BasePath: t.TempDir()}
	cfg.Logging = config.Logging{Level: "error", Format: "text"}
	cfg.Render = config.Render{DefaultDPI: 150, MaxDPI: 600}
	cfg.Cache.WarmupDPI = 150
	return cfg
}

func TestModuleGraph(t *testing.T) {
	err := fx.ValidateApp(
		fx.Replace(testConfig(t)),
		Module,
	)
	assert.NoError(t, err)
}

func TestCoreServesRequests(t *testing.T) {
	var (
		reports service.ReportService
		srv     *server.Server
		warmer  *scheduler.Warmer
	)
	app := fx.New(
		fx.NopLogger,
		fx.Supply(testConfig(t)),
		Core,
		fx.Provide(server.NewServer, scheduler.NewWarmer),
		fx.Invoke(migrate),
		fx.Populate(&reports, &srv, &warmer),
	)
	require.NoError(t, app.Err())

	ctx := context.Background()
	require.NoError(t, app.Start(ctx))
	t.Cleanup(func() { app.Stop(ctx) })

	list, err := reports.ListReports(ctx, service.ListReportParams{})
	require.NoError(t, err)
	assert.Zero(t, list.Total)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/engines", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	stats, err := warmer.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Reports)
}

func TestNewLogger(t *testing.T) {
	cfg := testConfig(t)
	cfg.Logging = config.Logging{Level: "warn", Format: "json"}
	logger := NewLogger(cfg)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)

	cfg.Logging.Level = "nonsense"
	cfg.Server.Debug = true
	assert.Equal(t, logrus.DebugLevel, NewLogger(cfg).GetLevel())
}
