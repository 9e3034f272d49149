package scheduler

import (
	"context"

	"github.com/sirupsen/logrus"

	"report_render/internal/models"
	"report_render/internal/service"
)

func (w *Warmer) warm(ctx context.Context, report *models.Report, stats *Stats) {
	stats.Reports++
	logger := w.logger.WithField("report_id", report.ID)

	if report.File == "" {
		stats.Skipped++
		return
	}
	e, err := report.Engine()
	if err != nil {
		logger.WithError(err).Warn("Отчет пропущен при прогреве")
		stats.Skipped++
		return
	}

	// Без настроенных форматов используется формат по умолчанию
	formats := w.cfg.WarmupFormats
	if len(formats) == 0 {
		formats = []string{""}
	}

	for _, format := range formats {
		if format != "" && !e.Supports(format) {
			continue
		}
		res, err := w.reports.RenderReport(ctx, report.ID, service.RenderParams{
			DPI:    w.cfg.WarmupDPI,
			Format: format,
		})
		if err != nil {
			logger.WithError(err).WithFields(logrus.Fields{"format": format}).Warn("Ошибка прогрева отчета")
			stats.Failed++
			continue
		}
		if res.Cached {
			stats.Cached++
		} else {
			stats.Rendered++
		}
	}
}
