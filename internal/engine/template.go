package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
)

// templateEngine executes Go templates. html output goes through
// html/template for contextual escaping; txt uses text/template.
type templateEngine struct {
	formatSet
}

func newTemplate() *templateEngine {
	return &templateEngine{formatSet: newFormatSet("txt", "html")}
}

func (e *templateEngine) Name() string { return ChoiceTemplate }

func (e *templateEngine) Render(ctx context.Context, files FileSource, path string, data map[string]any, dpi int, format string) ([]byte, error) {
	if err := checkArgs(e, dpi, format); err != nil {
		return nil, err
	}

	body, err := readFile(ctx, files, path)
	if err != nil {
		return nil, err
	}

	funcs := map[string]any{
		"dpi":    func() int { return dpi },
		"format": func() string { return format },
		"json":   toJSON,
		"default": func(def, v any) any {
			if v == nil || v == "" {
				return def
			}
			return v
		},
	}

	var buf bytes.Buffer
	switch format {
	case "html":
		tmpl, err := htmltemplate.New(path).Funcs(htmltemplate.FuncMap(funcs)).Parse(string(body))
		if err != nil {
			return nil, fmt.Errorf("engine: parse template %s: %w", path, err)
		}
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("engine: execute template %s: %w", path, err)
		}
	default:
		tmpl, err := texttemplate.New(path).Funcs(texttemplate.FuncMap(funcs)).Parse(string(body))
		if err != nil {
			return nil, fmt.Errorf("engine: parse template %s: %w", path, err)
		}
		if err := tmpl.Execute(&buf, data); err != nil {
			return nil, fmt.Errorf("engine: execute template %s: %w", path, err)
		}
	}
	return buf.Bytes(), nil
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
