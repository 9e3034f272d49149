package storage

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"report_render/internal/config"
)

// NewStorageFromConfig создает хранилище по конфигурации и оборачивает его
// в middleware валидации, retry и логирования.
func NewStorageFromConfig(cfg config.Config, logger *logrus.Logger) (Storage, error) {
	var (
		backend Storage
		err     error
	)

	switch cfg.Storage.Type {
	case StorageTypeS3:
		backend, err = NewS3Storage(context.Background(), S3Config{
			Region:         cfg.Storage.S3.Region,
			Bucket:         cfg.Storage.S3.Bucket,
			Endpoint:       cfg.Storage.S3.Endpoint,
			AccessKey:      cfg.Storage.S3.AccessKey,
			SecretKey:      cfg.Storage.S3.SecretKey,
			ForcePathStyle: cfg.Storage.S3.Endpoint != "",
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("ошибка создания S3 хранилища: %w", err)
		}
	case StorageTypeLocal, "":
		backend, err = NewLocalStorage(LocalConfig{BasePath: cfg.Storage.BasePath}, logger)
		if err != nil {
			return nil, fmt.Errorf("ошибка создания локального хранилища: %w", err)
		}
	default:
		return nil, fmt.Errorf("неподдерживаемый тип хранилища: %s", cfg.Storage.Type)
	}

	return Wrap(backend, logger), nil
}

// Wrap оборачивает хранилище в стандартную цепочку middleware.
// Валидация выполняется первой, чтобы неверные ключи не попадали в retry.
func Wrap(backend Storage, logger *logrus.Logger) Storage {
	s := backend
	if logger != nil {
		s = NewLoggingMiddleware(s, logger)
		s = NewRetryMiddleware(s, DefaultMaxRetries, DefaultRetryDelay, logger)
	}
	return NewValidationMiddleware(s)
}
