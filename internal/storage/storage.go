package storage

import (
	"context"
	"io"
	"time"
)

const (
	// Типы хранилищ
	StorageTypeLocal = "local"
	StorageTypeS3    = "s3"

	// Настройки retry
	DefaultMaxRetries = 3
	DefaultRetryDelay = time.Second

	// Максимальная длина ключа объекта
	maxKeyLength = 1024
)

// Storage интерфейс для работы с файлами шаблонов и результатами рендеринга.
// Ключи имеют вид "reports/<file>" или "renders/<id>/<hash>.<fmt>".
type Storage interface {
	// Основные операции
	Save(ctx context.Context, key string, reader io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)

	// List возвращает объекты с ключами, начинающимися с prefix
	List(ctx context.Context, prefix string) ([]FileInfo, error)

	// ValidateKey проверяет ключ объекта
	ValidateKey(key string) error
}

// FileInfo информация об объекте хранилища
type FileInfo struct {
	Key          string    `json:"key"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}
