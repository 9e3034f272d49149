package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"report_render/internal/fetcher"
	"report_render/internal/models"
	"report_render/internal/storage"
)

// DataSourceService интерфейс для работы с источниками данных
type DataSourceService interface {
	CreateDataSource(ctx context.Context, source *models.DataSource) error
	GetDataSource(ctx context.Context, id uint) (*models.DataSource, error)
	ListDataSources(ctx context.Context) ([]models.DataSource, error)
	UpdateDataSource(ctx context.Context, id uint, params DataSourceUpdateParams) (*models.DataSource, error)
	DeleteDataSource(ctx context.Context, id uint) error
	GetSourceData(ctx context.Context, id uint, params fetcher.Params) (map[string]any, error)
	ListFetchers() []string
}

// DataSourceUpdateParams параметры для обновления источника данных
type DataSourceUpdateParams struct {
	Name       *string `json:"name,omitempty"`
	DottedPath *string `json:"dotted_path,omitempty"`
}

// DataSourceServiceImpl реализация сервиса источников данных
type DataSourceServiceImpl struct {
	repository DataSourceRepository
	storage    storage.Storage
	timeout    time.Duration
	logger     *logrus.Logger
}

// NewDataSourceService создает новый сервис источников данных.
// store нужен для сброса кэша рендеров зависимых отчетов.
// timeout ограничивает время получения данных; ноль отключает ограничение.
func NewDataSourceService(repository DataSourceRepository, store storage.Storage, timeout time.Duration, logger *logrus.Logger) DataSourceService {
	return &DataSourceServiceImpl{
		repository: repository,
		storage:    store,
		timeout:    timeout,
		logger:     logger,
	}
}

// CreateDataSource создает источник данных. Путь проверяется лениво, при
// первом использовании, поэтому незарегистрированный путь только логируется.
func (s *DataSourceServiceImpl) CreateDataSource(ctx context.Context, source *models.DataSource) error {
	source.Name = strings.TrimSpace(source.Name)
	source.DottedPath = strings.TrimSpace(source.DottedPath)

	logger := s.logger.WithFields(logrus.Fields{
		"name":        source.Name,
		"dotted_path": source.DottedPath,
	})

	if err := source.Validate(); err != nil {
		return invalid(err)
	}
	if !fetcher.Default.Has(source.DottedPath) {
		logger.Warn("Путь источника данных не зарегистрирован")
	}

	if err := s.repository.Create(ctx, source); err != nil {
		logger.WithError(err).Error("Ошибка сохранения источника данных в БД")
		return translateDBError(err, "источник данных", 0)
	}

	logger.WithField("data_source_id", source.ID).Info("Источник данных создан")
	return nil
}

// GetDataSource получает источник данных по ID
func (s *DataSourceServiceImpl) GetDataSource(ctx context.Context, id uint) (*models.DataSource, error) {
	source, err := s.repository.GetByID(ctx, id)
	if err != nil {
		return nil, translateDBError(err, "источник данных", id)
	}
	return source, nil
}

// ListDataSources возвращает все источники данных, упорядоченные по имени
func (s *DataSourceServiceImpl) ListDataSources(ctx context.Context) ([]models.DataSource, error) {
	sources, err := s.repository.List(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Ошибка получения списка источников данных")
		return nil, fmt.Errorf("ошибка получения списка источников данных: %w", err)
	}
	return sources, nil
}

// UpdateDataSource частично обновляет источник данных
func (s *DataSourceServiceImpl) UpdateDataSource(ctx context.Context, id uint, params DataSourceUpdateParams) (*models.DataSource, error) {
	source, err := s.GetDataSource(ctx, id)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	if params.Name != nil {
		source.Name = strings.TrimSpace(*params.Name)
		updates["name"] = source.Name
	}
	if params.DottedPath != nil {
		if path := strings.TrimSpace(*params.DottedPath); path != source.DottedPath {
			source.DottedPath = path
			updates["dotted_path"] = path
		}
	}
	if err := source.Validate(); err != nil {
		return nil, invalid(err)
	}
	if len(updates) == 0 {
		return source, nil
	}

	reportIDs, err := s.repository.Update(ctx, id, updates)
	if err != nil {
		s.logger.WithError(err).WithField("data_source_id", id).Error("Ошибка обновления источника данных")
		return nil, translateDBError(err, "источник данных", id)
	}
	purgeRenders(ctx, s.storage, s.logger, reportIDs...)

	s.logger.WithFields(logrus.Fields{
		"data_source_id": id,
		"reports":        len(reportIDs),
	}).Info("Источник данных обновлен")
	return s.GetDataSource(ctx, id)
}

// DeleteDataSource удаляет источник данных; ссылающиеся отчеты остаются без источника
func (s *DataSourceServiceImpl) DeleteDataSource(ctx context.Context, id uint) error {
	reportIDs, err := s.repository.Delete(ctx, id)
	if err != nil {
		return translateDBError(err, "источник данных", id)
	}
	purgeRenders(ctx, s.storage, s.logger, reportIDs...)
	s.logger.WithFields(logrus.Fields{
		"data_source_id": id,
		"reports":        len(reportIDs),
	}).Info("Источник данных удален")
	return nil
}

// GetSourceData получает данные из источника. Ошибки fetcher-а не оборачиваются.
func (s *DataSourceServiceImpl) GetSourceData(ctx context.Context, id uint, params fetcher.Params) (map[string]any, error) {
	source, err := s.GetDataSource(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return source.GetData(ctx, params)
}

// ListFetchers возвращает зарегистрированные пути источников данных
func (s *DataSourceServiceImpl) ListFetchers() []string {
	return fetcher.Default.Paths()
}
