package models

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"report_render/internal/fetcher"
)

// ErrInvalid is wrapped by Validate failures on both models.
var ErrInvalid = errors.New("invalid model")

// DataSource is a named reference to a registered data fetcher.
type DataSource struct {
	ID         uint   `json:"id" gorm:"primarykey"`
	Name       string `json:"name" gorm:"size:150;uniqueIndex;not null"`
	DottedPath string `json:"dotted_path" gorm:"size:255;not null"`

	// instance is built on first use and kept for the lifetime of this value.
	instance fetcher.Fetcher
}

// TableName specifies the table name for the DataSource model
func (DataSource) TableName() string {
	return "data_sources"
}

// Instance resolves DottedPath against the default fetcher registry.
func (d *DataSource) Instance() (fetcher.Fetcher, error) {
	return d.InstanceFrom(fetcher.Default)
}

// InstanceFrom resolves DottedPath against reg and caches the result.
// Resolution happens at most once per value; a failed resolution is not
// cached and is retried on the next call. Changing DottedPath afterwards
// does not invalidate the cache.
func (d *DataSource) InstanceFrom(reg *fetcher.Registry) (fetcher.Fetcher, error) {
	if d.instance != nil {
		return d.instance, nil
	}
	f, err := reg.Resolve(d.DottedPath)
	if err != nil {
		return nil, err
	}
	d.instance = f
	return f, nil
}

// GetData fetches data from the resolved fetcher. Fetcher errors are
// returned as is.
func (d *DataSource) GetData(ctx context.Context, params fetcher.Params) (map[string]any, error) {
	f, err := d.Instance()
	if err != nil {
		return nil, err
	}
	return f.GetData(ctx, params)
}

// Validate checks the fields required before persisting.
func (d *DataSource) Validate() error {
	name := strings.TrimSpace(d.Name)
	switch {
	case name == "":
		return fmt.Errorf("%w: data source name is required", ErrInvalid)
	case len(name) > 150:
		return fmt.Errorf("%w: data source name exceeds 150 characters", ErrInvalid)
	case strings.TrimSpace(d.DottedPath) == "":
		return fmt.Errorf("%w: data source dotted_path is required", ErrInvalid)
	case len(d.DottedPath) > 255:
		return fmt.Errorf("%w: data source dotted_path exceeds 255 characters", ErrInvalid)
	}
	return nil
}

func (d DataSource) String() string {
	return d.Name
}

func (d DataSource) GoString() string {
	return fmt.Sprintf("DataSource(id=%d, name=%s)", d.ID, d.Name)
}
