// Package di assembles the application graph with fx.
package di

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"report_render/internal/config"
	"report_render/internal/database"
	"report_render/internal/fetcher"
	"report_render/internal/fetcher/docsource"
	"report_render/internal/fetcher/sqlsource"
	"report_render/internal/scheduler"
	"report_render/internal/server"
	"report_render/internal/service"
	"report_render/internal/storage"
)

// Core provides everything except the HTTP server and scheduler.
// It expects config.Config to be supplied.
var Core = fx.Options(
	fx.Provide(
		NewLogger,
		newDatabase,
		storage.NewStorageFromConfig,
		service.NewGormDataSourceRepository,
		service.NewGormReportRepository,
		newDataSourceService,
		newReportService,
	),
	fx.Invoke(registerFetchers),
)

// Module is the full service: config from file and environment, Core,
// the HTTP server and the cache warm-up scheduler.
var Module = fx.Options(
	fx.Provide(config.Load),
	Core,
	fx.Provide(
		server.NewServer,
		scheduler.NewWarmer,
	),
	fx.Invoke(
		migrate,
		registerLifecycleHooks,
	),
)

// NewLogger создает и настраивает логгер на основе конфигурации
func NewLogger(cfg config.Config) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = logrus.InfoLevel
		logger.WithError(err).Warn("Неверный уровень логирования, используется info")
	}
	if cfg.IsDevelopment() && level < logrus.DebugLevel {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)

	switch cfg.Logging.Format {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
		})
	default:
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	}
	return logger
}

func newDatabase(lc fx.Lifecycle, cfg config.Config) (*gorm.DB, error) {
	db, err := database.NewDatabaseFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	return db, nil
}

func newDataSourceService(
	repo service.DataSourceRepository,
	store storage.Storage,
	cfg config.Config,
	logger *logrus.Logger,
) service.DataSourceService {
	return service.NewDataSourceService(repo, store, cfg.Render.Timeout, logger)
}

func newReportService(
	repo service.ReportRepository,
	sources service.DataSourceRepository,
	store storage.Storage,
	cfg config.Config,
	logger *logrus.Logger,
) service.ReportService {
	return service.NewReportService(repo, sources, store, cfg.Render, logger)
}

// registerFetchers регистрирует источники данных из конфигурации
// в общем реестре и закрывает их подключения при остановке.
func registerFetchers(lc fx.Lifecycle, cfg config.Config, store storage.Storage, logger *logrus.Logger) error {
	pool, err := sqlsource.RegisterAll(fetcher.Default, cfg.Fetchers.SQL)
	if err != nil {
		return err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return pool.Close()
		},
	})

	if err := docsource.RegisterAll(fetcher.Default, store, cfg.Fetchers.Documents); err != nil {
		return err
	}

	logger.WithField("fetchers", fetcher.Default.Paths()).Info("Источники данных зарегистрированы")
	return nil
}

func migrate(db *gorm.DB, logger *logrus.Logger) error {
	if err := database.AutoMigrate(db); err != nil {
		return err
	}
	logger.Debug("Схема базы данных актуальна")
	return nil
}

// registerLifecycleHooks настраивает хуки жизненного цикла приложения
func registerLifecycleHooks(
	lc fx.Lifecycle,
	srv *server.Server,
	warmer *scheduler.Warmer,
	cfg config.Config,
	logger *logrus.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.WithField("config", cfg.String()).Info("Запуск сервиса отчетов")
			go func() {
				if err := srv.Start(cfg.Server.Address); err != nil {
					logger.WithError(err).Error("Не удалось запустить HTTP сервер")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Завершение работы HTTP сервера")
			return srv.Shutdown(ctx)
		},
	})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return warmer.Start()
		},
		OnStop: func(ctx context.Context) error {
			return warmer.Stop(ctx)
		},
	})
}
