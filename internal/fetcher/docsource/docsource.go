// Package docsource provides fetchers that serve a JSON document from storage.
package docsource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"report_render/internal/config"
	"report_render/internal/fetcher"
)

// Files opens stored objects by key.
type Files interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Source returns the JSON object stored under key. Request params are ignored.
type Source struct {
	files Files
	key   string
}

func New(files Files, key string) *Source {
	return &Source{files: files, key: key}
}

func (s *Source) GetData(ctx context.Context, _ fetcher.Params) (map[string]any, error) {
	rc, err := s.files.Get(ctx, s.key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var doc map[string]any
	if err := json.NewDecoder(rc).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", s.key, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// RegisterAll registers a document fetcher for every entry.
func RegisterAll(reg *fetcher.Registry, files Files, entries []config.DocumentFetcher) error {
	for _, e := range entries {
		key := e.Key
		if err := reg.Register(e.Path, func() (fetcher.Fetcher, error) {
			return New(files, key), nil
		}); err != nil {
			return err
		}
	}
	return nil
}
