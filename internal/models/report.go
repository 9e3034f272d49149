package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"report_render/internal/engine"
	"report_render/internal/fetcher"
)

// ErrDataSourceNotLoaded is returned by Render when DataSourceID is set but
// the DataSource association was not preloaded.
var ErrDataSourceNotLoaded = errors.New("report data source is not loaded")

// Report binds a template file, an engine choice and optional data.
type Report struct {
	ID            uint        `json:"id" gorm:"primarykey"`
	CreatedAt     time.Time   `json:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at"`
	Active        bool        `json:"active" gorm:"not null"`
	EngineChoice  string      `json:"engine" gorm:"column:engine;size:20;not null"`
	Name          string      `json:"name" gorm:"size:150;uniqueIndex;not null"`
	File          string      `json:"file" gorm:"size:255"`
	DataSourceID  *uint       `json:"data_source_id" gorm:"index"`
	DataSource    *DataSource `json:"data_source,omitempty" gorm:"constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
	DefaultData   JSON        `json:"default_data"`
	CacheRequired bool        `json:"cache_required" gorm:"not null"`

	// engine is built on first use and kept for the lifetime of this value.
	engine engine.Engine
}

// NewReport returns a Report with Active and CacheRequired set.
func NewReport(name, engineChoice, file string) *Report {
	return &Report{
		Name:          name,
		EngineChoice:  engineChoice,
		File:          file,
		Active:        true,
		CacheRequired: true,
		DefaultData:   JSON{},
	}
}

// TableName specifies the table name for the Report model
func (Report) TableName() string {
	return "reports"
}

// Engine returns the engine named by EngineChoice, building it once.
// Changing EngineChoice afterwards does not invalidate the cache.
func (r *Report) Engine() (engine.Engine, error) {
	if r.engine != nil {
		return r.engine, nil
	}
	e, err := engine.New(r.EngineChoice)
	if err != nil {
		return nil, err
	}
	r.engine = e
	return e, nil
}

// Data builds the mapping handed to the engine: a copy of DefaultData
// overlaid with the data source output, whose keys win on collision.
// DefaultData itself is never modified.
func (r *Report) Data(ctx context.Context, params fetcher.Params) (map[string]any, error) {
	data := r.DefaultData.Clone()

	if r.DataSourceID == nil && r.DataSource == nil {
		return data, nil
	}
	if r.DataSource == nil {
		return nil, ErrDataSourceNotLoaded
	}

	fetched, err := r.DataSource.GetData(ctx, params)
	if err != nil {
		return nil, err
	}
	for k, v := range fetched {
		data[k] = v
	}
	return data, nil
}

// Render merges data and delegates to the engine. The engine is resolved
// first, so an unknown engine fails before any fetch or file access.
// Errors from the data source and the engine are returned unchanged.
func (r *Report) Render(ctx context.Context, files engine.FileSource, dpi int, format string, params fetcher.Params) ([]byte, error) {
	e, err := r.Engine()
	if err != nil {
		return nil, err
	}

	data, err := r.Data(ctx, params)
	if err != nil {
		return nil, err
	}

	return e.Render(ctx, files, r.File, data, dpi, format)
}

// Validate checks the fields required before persisting. An unrecognized
// engine choice yields *engine.UnknownEngineError.
func (r *Report) Validate() error {
	name := strings.TrimSpace(r.Name)
	switch {
	case name == "":
		return fmt.Errorf("%w: report name is required", ErrInvalid)
	case len(name) > 150:
		return fmt.Errorf("%w: report name exceeds 150 characters", ErrInvalid)
	case len(r.File) > 255:
		return fmt.Errorf("%w: report file exceeds 255 characters", ErrInvalid)
	case strings.HasPrefix(r.File, "/") || strings.Contains(r.File, ".."):
		return fmt.Errorf("%w: report file must be a relative storage key", ErrInvalid)
	}
	if !engine.Valid(r.EngineChoice) {
		return &engine.UnknownEngineError{Choice: r.EngineChoice}
	}
	return nil
}

func (r Report) String() string {
	return r.Name
}

func (r Report) GoString() string {
	return fmt.Sprintf("Report(id=%d, name=%s)", r.ID, r.Name)
}
