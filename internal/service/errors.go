package service

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

var (
	// ErrNotFound возвращается, когда запись или файл не найдены
	ErrNotFound = errors.New("not found")
	// ErrDuplicateName возвращается при нарушении уникальности имени
	ErrDuplicateName = errors.New("name already exists")
	// ErrInvalidInput оборачивает ошибки валидации входных данных
	ErrInvalidInput = errors.New("invalid input")
)

// translateDBError приводит ошибки GORM к ошибкам сервиса
func translateDBError(err error, entity string, id uint) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %s с ID %d", ErrNotFound, entity, id)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %s", ErrDuplicateName, entity)
	default:
		return err
	}
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalidInput, err)
}
