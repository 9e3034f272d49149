package service

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"report_render/internal/models"
)

// DataSourceRepository интерфейс для работы с базой данных источников данных
type DataSourceRepository interface {
	Create(ctx context.Context, source *models.DataSource) error
	GetByID(ctx context.Context, id uint) (*models.DataSource, error)
	List(ctx context.Context) ([]models.DataSource, error)
	// Update и Delete возвращают ID отчетов, чьи рендеры зависят от изменения
	Update(ctx context.Context, id uint, updates map[string]interface{}) ([]uint, error)
	Delete(ctx context.Context, id uint) ([]uint, error)
}

// ReportRepository интерфейс для работы с базой данных отчетов
type ReportRepository interface {
	Create(ctx context.Context, report *models.Report) error
	GetByID(ctx context.Context, id uint) (*models.Report, error)
	List(ctx context.Context, params ListReportParams) ([]models.Report, int64, error)
	Update(ctx context.Context, id uint, updates map[string]interface{}) error
	Delete(ctx context.Context, id uint) error
}

// GormDataSourceRepository реализация репозитория источников данных для GORM
type GormDataSourceRepository struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewGormDataSourceRepository создает новый GORM репозиторий источников данных
func NewGormDataSourceRepository(db *gorm.DB, logger *logrus.Logger) DataSourceRepository {
	return &GormDataSourceRepository{db: db, logger: logger}
}

func (r *GormDataSourceRepository) Create(ctx context.Context, source *models.DataSource) error {
	return r.db.WithContext(ctx).Create(source).Error
}

func (r *GormDataSourceRepository) GetByID(ctx context.Context, id uint) (*models.DataSource, error) {
	var source models.DataSource
	if err := r.db.WithContext(ctx).First(&source, id).Error; err != nil {
		return nil, err
	}
	return &source, nil
}

func (r *GormDataSourceRepository) List(ctx context.Context) ([]models.DataSource, error) {
	var sources []models.DataSource
	err := r.db.WithContext(ctx).Order("name").Find(&sources).Error
	return sources, err
}

// Update обновляет источник. При смене dotted_path в той же транзакции
// сдвигается updated_at ссылающихся отчетов, что меняет ключи их рендеров.
func (r *GormDataSourceRepository) Update(ctx context.Context, id uint, updates map[string]interface{}) ([]uint, error) {
	var reportIDs []uint
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.DataSource{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		if _, ok := updates["dotted_path"]; !ok {
			return nil
		}

		if err := tx.Model(&models.Report{}).
			Where("data_source_id = ?", id).
			Pluck("id", &reportIDs).Error; err != nil {
			return err
		}
		if len(reportIDs) == 0 {
			return nil
		}
		return tx.Model(&models.Report{}).
			Where("id IN ?", reportIDs).
			Update("updated_at", time.Now()).Error
	})
	if err != nil {
		return nil, err
	}
	return reportIDs, nil
}

// Delete отвязывает отчеты от источника и удаляет его в одной транзакции.
// Явное обнуление не зависит от поддержки внешних ключей в СУБД.
func (r *GormDataSourceRepository) Delete(ctx context.Context, id uint) ([]uint, error) {
	var reportIDs []uint
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Report{}).
			Where("data_source_id = ?", id).
			Pluck("id", &reportIDs).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Report{}).
			Where("data_source_id = ?", id).
			Update("data_source_id", nil).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.DataSource{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reportIDs, nil
}

// GormReportRepository реализация репозитория отчетов для GORM
type GormReportRepository struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewGormReportRepository создает новый GORM репозиторий отчетов
func NewGormReportRepository(db *gorm.DB, logger *logrus.Logger) ReportRepository {
	return &GormReportRepository{db: db, logger: logger}
}

func (r *GormReportRepository) Create(ctx context.Context, report *models.Report) error {
	return r.db.WithContext(ctx).Omit("DataSource").Create(report).Error
}

// GetByID получает отчет по ID вместе с источником данных
func (r *GormReportRepository) GetByID(ctx context.Context, id uint) (*models.Report, error) {
	var report models.Report
	if err := r.db.WithContext(ctx).Preload("DataSource").First(&report, id).Error; err != nil {
		return nil, err
	}
	return &report, nil
}

// List получает список отчетов с фильтрацией и пагинацией
func (r *GormReportRepository) List(ctx context.Context, params ListReportParams) ([]models.Report, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Report{})

	if params.Active != nil {
		query = query.Where("active = ?", *params.Active)
	}
	if params.CacheRequired != nil {
		query = query.Where("cache_required = ?", *params.CacheRequired)
	}

	// Поиск без учета регистра, одинаково для postgres и sqlite
	if params.Search != "" {
		query = query.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(params.Search)+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (params.Page - 1) * params.PageSize
	var reports []models.Report
	err := query.Preload("DataSource").
		Order("name").
		Offset(offset).
		Limit(params.PageSize).
		Find(&reports).Error

	return reports, total, err
}

func (r *GormReportRepository) Update(ctx context.Context, id uint, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.Report{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *GormReportRepository) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.Report{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
