package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"report_render/internal/config"
	"report_render/internal/models"
	"report_render/internal/storage"
)

const (
	// Префиксы ключей в хранилище
	templatePrefix = "reports/"
	renderPrefix   = "renders/"

	// Лимиты пагинации
	defaultPageSize = 20
	maxPageSize     = 100
)

// ReportService интерфейс для работы с отчетами
type ReportService interface {
	CreateReport(ctx context.Context, report *models.Report) error
	GetReport(ctx context.Context, id uint) (*models.Report, error)
	ListReports(ctx context.Context, params ListReportParams) (*ReportList, error)
	UpdateReport(ctx context.Context, id uint, params ReportUpdateParams) (*models.Report, error)
	DeleteReport(ctx context.Context, id uint) error
	UploadTemplate(ctx context.Context, id uint, filename string, content io.Reader) (*models.Report, error)
	GetTemplate(ctx context.Context, id uint) (io.ReadCloser, string, error)
	RenderReport(ctx context.Context, id uint, params RenderParams) (*RenderResult, error)
}

// ListReportParams параметры для получения списка отчетов
type ListReportParams struct {
	Page          int    `json:"page"`
	PageSize      int    `json:"page_size"`
	Active        *bool  `json:"active,omitempty"`
	CacheRequired *bool  `json:"cache_required,omitempty"`
	Search        string `json:"search,omitempty"`
}

// ReportUpdateParams параметры для обновления отчета
type ReportUpdateParams struct {
	Name            *string      `json:"name,omitempty"`
	EngineChoice    *string      `json:"engine,omitempty"`
	Active          *bool        `json:"active,omitempty"`
	CacheRequired   *bool        `json:"cache_required,omitempty"`
	DefaultData     *models.JSON `json:"default_data,omitempty"`
	DataSourceID    *uint        `json:"data_source_id,omitempty"`
	ClearDataSource bool         `json:"clear_data_source,omitempty"`
}

// ReportList результат получения списка отчетов с пагинацией
type ReportList struct {
	Reports    []models.Report `json:"reports"`
	Total      int64           `json:"total"`
	Page       int             `json:"page"`
	PageSize   int             `json:"page_size"`
	TotalPages int             `json:"total_pages"`
}

// ReportServiceImpl реализация сервиса отчетов
type ReportServiceImpl struct {
	repository ReportRepository
	sources    DataSourceRepository
	storage    storage.Storage
	render     config.Render
	logger     *logrus.Logger
}

// NewReportService создает новый сервис отчетов
func NewReportService(
	repository ReportRepository,
	sources DataSourceRepository,
	storage storage.Storage,
	render config.Render,
	logger *logrus.Logger,
) ReportService {
	return &ReportServiceImpl{
		repository: repository,
		sources:    sources,
		storage:    storage,
		render:     render,
		logger:     logger,
	}
}

// CreateReport создает новый отчет
func (s *ReportServiceImpl) CreateReport(ctx context.Context, report *models.Report) error {
	report.Name = strings.TrimSpace(report.Name)
	logger := s.logger.WithFields(logrus.Fields{
		"name":   report.Name,
		"engine": report.EngineChoice,
	})

	if err := report.Validate(); err != nil {
		logger.WithError(err).Warn("Ошибка валидации отчета")
		return invalid(err)
	}
	if err := s.checkDataSource(ctx, report.DataSourceID); err != nil {
		return err
	}
	if report.DefaultData == nil {
		report.DefaultData = models.JSON{}
	}

	if err := s.repository.Create(ctx, report); err != nil {
		logger.WithError(err).Error("Ошибка сохранения отчета в БД")
		return translateDBError(err, "отчет", 0)
	}

	logger.WithField("report_id", report.ID).Info("Отчет создан")
	return nil
}

// GetReport получает отчет по ID вместе с источником данных
func (s *ReportServiceImpl) GetReport(ctx context.Context, id uint) (*models.Report, error) {
	report, err := s.repository.GetByID(ctx, id)
	if err != nil {
		return nil, translateDBError(err, "отчет", id)
	}
	return report, nil
}

// ListReports получает список отчетов с пагинацией
func (s *ReportServiceImpl) ListReports(ctx context.Context, params ListReportParams) (*ReportList, error) {
	if params.Page <= 0 {
		params.Page = 1
	}
	if params.PageSize <= 0 {
		params.PageSize = defaultPageSize
	}
	if params.PageSize > maxPageSize {
		params.PageSize = maxPageSize
	}

	reports, total, err := s.repository.List(ctx, params)
	if err != nil {
		s.logger.WithError(err).Error("Ошибка получения списка отчетов")
		return nil, fmt.Errorf("ошибка получения списка отчетов: %w", err)
	}

	totalPages := int((total + int64(params.PageSize) - 1) / int64(params.PageSize))

	return &ReportList{
		Reports:    reports,
		Total:      total,
		Page:       params.Page,
		PageSize:   params.PageSize,
		TotalPages: totalPages,
	}, nil
}

// UpdateReport частично обновляет отчет. Кэш рендеров сбрасывается.
func (s *ReportServiceImpl) UpdateReport(ctx context.Context, id uint, params ReportUpdateParams) (*models.Report, error) {
	report, err := s.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	if params.Name != nil {
		report.Name = strings.TrimSpace(*params.Name)
		updates["name"] = report.Name
	}
	if params.EngineChoice != nil {
		report.EngineChoice = *params.EngineChoice
		updates["engine"] = report.EngineChoice
	}
	if params.Active != nil {
		updates["active"] = *params.Active
	}
	if params.CacheRequired != nil {
		updates["cache_required"] = *params.CacheRequired
	}
	if params.DefaultData != nil {
		data := *params.DefaultData
		if data == nil {
			data = models.JSON{}
		}
		updates["default_data"] = data
	}
	switch {
	case params.ClearDataSource:
		updates["data_source_id"] = nil
	case params.DataSourceID != nil:
		if err := s.checkDataSource(ctx, params.DataSourceID); err != nil {
			return nil, err
		}
		updates["data_source_id"] = *params.DataSourceID
	}

	if err := report.Validate(); err != nil {
		return nil, invalid(err)
	}
	if len(updates) == 0 {
		return report, nil
	}

	logger := s.logger.WithField("report_id", id)
	if err := s.repository.Update(ctx, id, updates); err != nil {
		logger.WithError(err).Error("Ошибка обновления отчета")
		return nil, translateDBError(err, "отчет", id)
	}
	purgeRenders(ctx, s.storage, s.logger, id)

	logger.Info("Отчет обновлен успешно")
	return s.GetReport(ctx, id)
}

// DeleteReport удаляет отчет, его шаблон и кэш рендеров
func (s *ReportServiceImpl) DeleteReport(ctx context.Context, id uint) error {
	logger := s.logger.WithField("report_id", id)

	report, err := s.GetReport(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repository.Delete(ctx, id); err != nil {
		logger.WithError(err).Error("Ошибка удаления отчета из БД")
		return translateDBError(err, "отчет", id)
	}

	// Ошибки удаления файлов не прерывают удаление отчета
	if report.File != "" {
		if err := s.storage.Delete(ctx, report.File); err != nil {
			logger.WithError(err).WithField("file", report.File).Error("Ошибка удаления шаблона отчета")
		}
	}
	purgeRenders(ctx, s.storage, s.logger, id)

	logger.WithField("name", report.Name).Info("Отчет удален успешно")
	return nil
}

// UploadTemplate сохраняет шаблон под ключом reports/<uuid>_<имя файла>
// и привязывает его к отчету. Предыдущий шаблон удаляется.
func (s *ReportServiceImpl) UploadTemplate(ctx context.Context, id uint, filename string, content io.Reader) (*models.Report, error) {
	report, err := s.GetReport(ctx, id)
	if err != nil {
		return nil, err
	}

	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" || base == ".." {
		return nil, invalid(errors.New("имя файла шаблона не задано"))
	}
	key := templatePrefix + uuid.NewString() + "_" + base

	logger := s.logger.WithFields(logrus.Fields{
		"report_id": id,
		"file":      key,
	})

	if err := s.storage.Save(ctx, key, content); err != nil {
		logger.WithError(err).Error("Ошибка сохранения шаблона")
		return nil, fmt.Errorf("ошибка сохранения шаблона: %w", err)
	}

	if err := s.repository.Update(ctx, id, map[string]interface{}{"file": key}); err != nil {
		logger.WithError(err).Error("Ошибка привязки шаблона к отчету")
		if delErr := s.storage.Delete(ctx, key); delErr != nil {
			logger.WithError(delErr).Warn("Не удалось удалить загруженный шаблон")
		}
		return nil, translateDBError(err, "отчет", id)
	}

	if report.File != "" && report.File != key {
		if err := s.storage.Delete(ctx, report.File); err != nil {
			logger.WithError(err).WithField("previous", report.File).Warn("Не удалось удалить предыдущий шаблон")
		}
	}
	purgeRenders(ctx, s.storage, s.logger, id)

	logger.Info("Шаблон отчета загружен")
	return s.GetReport(ctx, id)
}

// GetTemplate возвращает файл шаблона и его исходное имя
func (s *ReportServiceImpl) GetTemplate(ctx context.Context, id uint) (io.ReadCloser, string, error) {
	report, err := s.GetReport(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if report.File == "" {
		return nil, "", fmt.Errorf("%w: шаблон отчета %d не загружен", ErrNotFound, id)
	}

	reader, err := s.storage.Get(ctx, report.File)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, "", fmt.Errorf("%w: %v", ErrNotFound, err)
		}
		s.logger.WithError(err).WithField("file", report.File).Error("Ошибка получения шаблона из хранилища")
		return nil, "", fmt.Errorf("ошибка получения шаблона: %w", err)
	}
	return reader, templateFilename(report.File), nil
}

// checkDataSource проверяет, что указанный источник данных существует
func (s *ReportServiceImpl) checkDataSource(ctx context.Context, id *uint) error {
	if id == nil {
		return nil
	}
	if _, err := s.sources.GetByID(ctx, *id); err != nil {
		err = translateDBError(err, "источник данных", *id)
		if errors.Is(err, ErrNotFound) {
			return invalid(err)
		}
		return err
	}
	return nil
}

// templateFilename отрезает uuid-префикс от ключа шаблона
func templateFilename(key string) string {
	base := path.Base(key)
	if i := strings.IndexByte(base, '_'); i > 0 {
		if _, err := uuid.Parse(base[:i]); err == nil {
			return base[i+1:]
		}
	}
	return base
}

// withTimeout ограничивает операцию настроенным таймаутом рендеринга
func (s *ReportServiceImpl) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.render.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.render.Timeout)
}
