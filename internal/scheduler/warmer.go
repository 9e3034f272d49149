// Package scheduler periodically pre-renders cacheable reports.
package scheduler

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"report_render/internal/config"
	"report_render/internal/service"
)

const warmupPageSize = 50

// Stats итоги одного прогона прогрева
type Stats struct {
	Reports  int `json:"reports"`
	Rendered int `json:"rendered"`
	Cached   int `json:"cached"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Warmer прогревает кэш рендеров по расписанию
type Warmer struct {
	reports service.ReportService
	cfg     config.Cache
	cron    *cron.Cron
	logger  *logrus.Logger
}

// NewWarmer создает планировщик прогрева. Пустое расписание отключает прогрев.
func NewWarmer(cfg config.Config, reports service.ReportService, logger *logrus.Logger) (*Warmer, error) {
	if cfg.Cache.WarmupSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Cache.WarmupSchedule); err != nil {
			return nil, fmt.Errorf("неверное расписание прогрева %q: %w", cfg.Cache.WarmupSchedule, err)
		}
	}

	cronLogger := cron.PrintfLogger(logger)
	return &Warmer{
		reports: reports,
		cfg:     cfg.Cache,
		cron: cron.New(
			cron.WithLogger(cronLogger),
			cron.WithChain(
				cron.SkipIfStillRunning(cronLogger),
				cron.Recover(cronLogger),
			),
		),
		logger: logger,
	}, nil
}

// Start регистрирует задачу прогрева и запускает планировщик
func (w *Warmer) Start() error {
	if w.cfg.WarmupSchedule == "" {
		w.logger.Info("Прогрев кэша отключен")
		return nil
	}

	_, err := w.cron.AddFunc(w.cfg.WarmupSchedule, func() {
		if _, err := w.Run(context.Background()); err != nil {
			w.logger.WithError(err).Error("Ошибка прогрева кэша")
		}
	})
	if err != nil {
		return fmt.Errorf("ошибка регистрации задачи прогрева: %w", err)
	}

	w.cron.Start()
	w.logger.WithField("schedule", w.cfg.WarmupSchedule).Info("Планировщик прогрева запущен")
	return nil
}

// Stop останавливает планировщик и ждет завершения текущего прогона
func (w *Warmer) Stop(ctx context.Context) error {
	done := w.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run рендерит каждый активный отчет с cache_required во всех форматах
// прогрева, которые поддерживает его движок. Ошибки отдельных отчетов
// логируются и не прерывают прогон.
func (w *Warmer) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	active, cacheRequired := true, true

	for page := 1; ; page++ {
		list, err := w.reports.ListReports(ctx, service.ListReportParams{
			Page:          page,
			PageSize:      warmupPageSize,
			Active:        &active,
			CacheRequired: &cacheRequired,
		})
		if err != nil {
			return stats, err
		}

		for i := range list.Reports {
			if err := ctx.Err(); err != nil {
				return stats, err
			}
			w.warm(ctx, &list.Reports[i], &stats)
		}

		if page >= list.TotalPages {
			break
		}
	}

	w.logger.WithFields(logrus.Fields{
		"reports":  stats.Reports,
		"rendered": stats.Rendered,
		"cached":   stats.Cached,
		"skipped":  stats.Skipped,
		"failed":   stats.Failed,
	}).Info("Прогрев кэша завершен")
	return stats, nil
}
