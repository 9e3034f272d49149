package service

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"report_render/internal/config"
	"report_render/internal/database"
	"report_render/internal/storage"
)

// MockStorage is a mock implementation of the Storage interface
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Save(ctx context.Context, key string, reader io.Reader) error {
	args := m.Called(ctx, key, reader)
	return args.Error(0)
}

func (m *MockStorage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	rc, _ := args.Get(0).(io.ReadCloser)
	return rc, args.Error(1)
}

func (m *MockStorage) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockStorage) Exists(ctx context.Context, key string) (bool, error) {
	args := m.Called(ctx, key)
	return args.Bool(0), args.Error(1)
}

func (m *MockStorage) List(ctx context.Context, prefix string) ([]storage.FileInfo, error) {
	args := m.Called(ctx, prefix)
	files, _ := args.Get(0).([]storage.FileInfo)
	return files, args.Error(1)
}

func (m *MockStorage) ValidateKey(key string) error {
	args := m.Called(key)
	return args.Error(0)
}

func setupTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	logger.SetLevel(logrus.DebugLevel)
	return logger
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := database.NewDatabase(database.Config{Driver: database.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return db
}

func setupTestStorage(t *testing.T) storage.Storage {
	t.Helper()
	local, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()}, setupTestLogger())
	require.NoError(t, err)
	return storage.Wrap(local, setupTestLogger())
}

func testRenderConfig() config.Render {
	return config.Render{DefaultDPI: 150, MaxDPI: 600, Timeout: 5 * time.Second}
}

type fixture struct {
	db      *gorm.DB
	store   storage.Storage
	sources DataSourceService
	reports ReportService
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	return setupFixtureWithStorage(t, setupTestStorage(t))
}

func setupFixtureWithStorage(t *testing.T, store storage.Storage) *fixture {
	t.Helper()
	db := setupTestDB(t)
	logger := setupTestLogger()
	sourceRepo := NewGormDataSourceRepository(db, logger)
	return &fixture{
		db:      db,
		store:   store,
		sources: NewDataSourceService(sourceRepo, store, time.Second, logger),
		reports: NewReportService(NewGormReportRepository(db, logger), sourceRepo, store, testRenderConfig(), logger),
	}
}
