package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"

	"report_render/internal/engine"
	"report_render/internal/fetcher"
	"report_render/internal/models"
	"report_render/internal/storage"
)

// RenderParams параметры рендеринга отчета
type RenderParams struct {
	DPI     int            `json:"dpi"`
	Format  string         `json:"format"`
	Params  fetcher.Params `json:"params"`
	NoCache bool           `json:"no_cache"`
}

// RenderResult результат рендеринга
type RenderResult struct {
	Data        []byte
	ContentType string
	Filename    string
	Cached      bool
}

// RenderReport рендерит отчет. Для отчетов с cache_required результат
// кэшируется в хранилище под ключом, зависящим от updated_at и параметров.
func (s *ReportServiceImpl) RenderReport(ctx context.Context, id uint, params RenderParams) (*RenderResult, error) {
	report, err := s.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}

	e, err := report.Engine()
	if err != nil {
		return nil, invalid(err)
	}

	dpi, format, err := s.resolveArgs(report, e, params)
	if err != nil {
		return nil, invalid(err)
	}
	if report.File == "" {
		return nil, invalid(fmt.Errorf("шаблон отчета %d не загружен", id))
	}

	logger := s.logger.WithFields(logrus.Fields{
		"report_id": id,
		"engine":    e.Name(),
		"format":    format,
		"dpi":       dpi,
	})

	useCache := report.CacheRequired && !params.NoCache
	key := renderKey(report, dpi, format, params.Params)

	result := &RenderResult{
		ContentType: engine.ContentType(format),
		Filename:    outputFilename(report.Name, format),
	}

	if useCache {
		data, err := s.readCached(ctx, key)
		switch {
		case err == nil:
			logger.Debug("Рендер получен из кэша")
			result.Data, result.Cached = data, true
			return result, nil
		case !errors.Is(err, storage.ErrNotFound):
			logger.WithError(err).Warn("Ошибка чтения кэша рендеров")
		}
	}

	renderCtx, cancel := s.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	data, err := report.Render(renderCtx, s.storage, dpi, format, params.Params)
	if err != nil {
		logger.WithError(err).Error("Ошибка рендеринга отчета")
		return nil, fmt.Errorf("ошибка рендеринга отчета %d: %w", id, err)
	}
	logger.WithFields(logrus.Fields{
		"duration": time.Since(start),
		"size":     len(data),
	}).Info("Отчет отрендерен")

	if useCache {
		if err := s.storage.Save(ctx, key, bytes.NewReader(data)); err != nil {
			logger.WithError(err).Warn("Не удалось сохранить рендер в кэш")
		}
	}

	result.Data = data
	return result, nil
}

// resolveArgs подставляет значения по умолчанию для dpi и формата.
// Формат по умолчанию берется из расширения шаблона, если движок его поддерживает.
func (s *ReportServiceImpl) resolveArgs(report *models.Report, e engine.Engine, params RenderParams) (int, string, error) {
	dpi := params.DPI
	if dpi == 0 {
		dpi = s.render.DefaultDPI
	}
	maxDPI := s.render.MaxDPI
	if maxDPI <= 0 || maxDPI > engine.MaxDPI {
		maxDPI = engine.MaxDPI
	}
	if dpi < 1 || dpi > maxDPI {
		return 0, "", fmt.Errorf("%w: %d (допустимо 1..%d)", engine.ErrInvalidDPI, dpi, maxDPI)
	}

	format := strings.ToLower(strings.TrimSpace(params.Format))
	if format == "" {
		ext := strings.TrimPrefix(path.Ext(report.File), ".")
		if e.Supports(ext) {
			format = ext
		} else {
			format = e.Formats()[0]
		}
	}
	if !e.Supports(format) {
		return 0, "", fmt.Errorf("%w: %s (движок %s поддерживает %v)", engine.ErrUnsupportedFormat, format, e.Name(), e.Formats())
	}
	return dpi, format, nil
}

func (s *ReportServiceImpl) readCached(ctx context.Context, key string) ([]byte, error) {
	rc, err := s.storage.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// purgeRenders удаляет закэшированные рендеры отчетов
func purgeRenders(ctx context.Context, store storage.Storage, logger *logrus.Logger, ids ...uint) {
	for _, id := range ids {
		prefix := fmt.Sprintf("%s%d/", renderPrefix, id)
		entry := logger.WithField("report_id", id)

		files, err := store.List(ctx, prefix)
		if err != nil {
			entry.WithError(err).Warn("Не удалось получить список кэшированных рендеров")
			continue
		}
		for _, f := range files {
			if err := store.Delete(ctx, f.Key); err != nil {
				entry.WithError(err).WithField("key", f.Key).Warn("Не удалось удалить кэшированный рендер")
			}
		}
	}
}

// renderKey строит ключ кэша: renders/<id>/<sha256>.<format>
func renderKey(report *models.Report, dpi int, format string, params fetcher.Params) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%d|%s|", report.UpdatedAt.UTC().Format(time.RFC3339Nano), dpi, format)
	// json.Marshal сортирует ключи map, поэтому хэш не зависит от порядка параметров
	if b, err := json.Marshal(params); err == nil {
		h.Write(b)
	}
	return fmt.Sprintf("%s%d/%s.%s", renderPrefix, report.ID, hex.EncodeToString(h.Sum(nil)), format)
}

// outputFilename строит имя файла для Content-Disposition
func outputFilename(name, format string) string {
	slug := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '-', r == '_':
			return r
		case unicode.IsSpace(r):
			return '_'
		default:
			return -1
		}
	}, name)
	if slug == "" {
		slug = "report"
	}
	return slug + "." + format
}
