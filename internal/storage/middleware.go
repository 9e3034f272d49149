package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// LoggingMiddleware добавляет логирование к операциям хранилища
type LoggingMiddleware struct {
	storage Storage
	logger  *logrus.Logger
}

// NewLoggingMiddleware создает новый logging middleware
func NewLoggingMiddleware(storage Storage, logger *logrus.Logger) Storage {
	return &LoggingMiddleware{storage: storage, logger: logger}
}

// observe пишет в лог результат операции над ключом.
// Отсутствие объекта логируется на уровне debug: для кэша рендеров это обычный промах.
func (m *LoggingMiddleware) observe(operation, key string, start time.Time, err error) {
	entry := m.logger.WithFields(logrus.Fields{
		"operation": operation,
		"key":       key,
		"duration":  time.Since(start),
	})
	switch {
	case err == nil:
		entry.Debug("Операция с хранилищем выполнена")
	case errors.Is(err, ErrNotFound):
		entry.Debug("Объект не найден в хранилище")
	default:
		entry.WithError(err).Error("Ошибка операции с хранилищем")
	}
}

func (m *LoggingMiddleware) Save(ctx context.Context, key string, reader io.Reader) error {
	start := time.Now()
	err := m.storage.Save(ctx, key, reader)
	m.observe("save", key, start, err)
	return err
}

func (m *LoggingMiddleware) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	start := time.Now()
	reader, err := m.storage.Get(ctx, key)
	m.observe("get", key, start, err)
	return reader, err
}

func (m *LoggingMiddleware) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := m.storage.Delete(ctx, key)
	m.observe("delete", key, start, err)
	return err
}

func (m *LoggingMiddleware) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := m.storage.Exists(ctx, key)
	m.observe("exists", key, start, err)
	return ok, err
}

func (m *LoggingMiddleware) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	start := time.Now()
	files, err := m.storage.List(ctx, prefix)
	m.observe("list", prefix, start, err)
	return files, err
}

func (m *LoggingMiddleware) ValidateKey(key string) error {
	return m.storage.ValidateKey(key)
}

// RetryMiddleware повторяет операции хранилища при временных ошибках
type RetryMiddleware struct {
	storage    Storage
	maxRetries int
	retryDelay time.Duration
	logger     *logrus.Logger
}

// NewRetryMiddleware создает новый retry middleware
func NewRetryMiddleware(storage Storage, maxRetries int, retryDelay time.Duration, logger *logrus.Logger) Storage {
	return &RetryMiddleware{
		storage:    storage,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// Save повторяется только для потоков с поддержкой Seek: прочитанный
// io.Reader нельзя отправить повторно.
func (m *RetryMiddleware) Save(ctx context.Context, key string, reader io.Reader) error {
	seeker, ok := reader.(io.Seeker)
	if !ok {
		return m.storage.Save(ctx, key, reader)
	}
	return m.retryOperation(ctx, "save", func() error {
		if _, err := seeker.Seek(0, io.SeekStart); err != nil {
			return fmt.Errorf("ошибка перемотки потока: %w", err)
		}
		return m.storage.Save(ctx, key, reader)
	})
}

func (m *RetryMiddleware) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	var result io.ReadCloser
	err := m.retryOperation(ctx, "get", func() error {
		var err error
		result, err = m.storage.Get(ctx, key)
		return err
	})
	return result, err
}

func (m *RetryMiddleware) Delete(ctx context.Context, key string) error {
	return m.retryOperation(ctx, "delete", func() error {
		return m.storage.Delete(ctx, key)
	})
}

func (m *RetryMiddleware) Exists(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := m.retryOperation(ctx, "exists", func() error {
		var err error
		ok, err = m.storage.Exists(ctx, key)
		return err
	})
	return ok, err
}

func (m *RetryMiddleware) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	var files []FileInfo
	err := m.retryOperation(ctx, "list", func() error {
		var err error
		files, err = m.storage.List(ctx, prefix)
		return err
	})
	return files, err
}

func (m *RetryMiddleware) ValidateKey(key string) error {
	return m.storage.ValidateKey(key)
}

// retryOperation выполняет операцию с retry логикой
func (m *RetryMiddleware) retryOperation(ctx context.Context, operation string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil || !shouldRetry(lastErr) {
			return lastErr
		}

		if attempt < m.maxRetries {
			m.logger.WithFields(logrus.Fields{
				"operation":   operation,
				"attempt":     attempt + 1,
				"max_retries": m.maxRetries,
			}).WithError(lastErr).Warn("Повтор операции после ошибки")

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.retryDelay):
			}
		}
	}

	return lastErr
}

// shouldRetry отсекает ошибки, которые повтор не исправит
func shouldRetry(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidKey),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	default:
		return true
	}
}

// ErrInvalidKey возвращается ValidationMiddleware для некорректных ключей
var ErrInvalidKey = errors.New("storage: invalid key")

// ValidationMiddleware проверяет ключи до обращения к хранилищу
type ValidationMiddleware struct {
	storage Storage
}

// NewValidationMiddleware создает новый validation middleware
func NewValidationMiddleware(storage Storage) Storage {
	return &ValidationMiddleware{storage: storage}
}

func (m *ValidationMiddleware) check(key string) error {
	if err := m.storage.ValidateKey(key); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return nil
}

func (m *ValidationMiddleware) Save(ctx context.Context, key string, reader io.Reader) error {
	if err := m.check(key); err != nil {
		return err
	}
	return m.storage.Save(ctx, key, reader)
}

func (m *ValidationMiddleware) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := m.check(key); err != nil {
		return nil, err
	}
	return m.storage.Get(ctx, key)
}

func (m *ValidationMiddleware) Delete(ctx context.Context, key string) error {
	if err := m.check(key); err != nil {
		return err
	}
	return m.storage.Delete(ctx, key)
}

func (m *ValidationMiddleware) Exists(ctx context.Context, key string) (bool, error) {
	if err := m.check(key); err != nil {
		return false, err
	}
	return m.storage.Exists(ctx, key)
}

// List допускает пустой префикс: он означает все объекты
func (m *ValidationMiddleware) List(ctx context.Context, prefix string) ([]FileInfo, error) {
	if prefix != "" {
		if err := m.check(prefix); err != nil {
			return nil, err
		}
	}
	return m.storage.List(ctx, prefix)
}

func (m *ValidationMiddleware) ValidateKey(key string) error {
	return m.storage.ValidateKey(key)
}
