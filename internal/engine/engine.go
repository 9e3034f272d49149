// Package engine turns a report template plus a data mapping into rendered
// output bytes. The set of engines is closed; a report selects one by name.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// Engine choices accepted in Report.EngineChoice.
const (
	ChoiceSpreadsheet = "xlsx"
	ChoiceTemplate    = "template"
)

// MaxDPI is the upper bound every engine accepts for the resolution argument.
const MaxDPI = 2400

var (
	// ErrUnsupportedFormat is returned when an engine cannot produce the requested format.
	ErrUnsupportedFormat = errors.New("unsupported output format")
	// ErrInvalidDPI is returned for a resolution outside 1..MaxDPI.
	ErrInvalidDPI = errors.New("invalid dpi")
)

var choices = mapset.NewSet(ChoiceSpreadsheet, ChoiceTemplate)

// UnknownEngineError reports an engine choice outside the recognized set.
type UnknownEngineError struct {
	Choice string
}

func (e *UnknownEngineError) Error() string {
	return fmt.Sprintf("engine: unknown engine %q (valid: %v)", e.Choice, Choices())
}

// FileSource opens template files by storage key.
type FileSource interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// Engine renders a template file with data into the requested format.
type Engine interface {
	Name() string
	Formats() []string
	Supports(format string) bool
	Render(ctx context.Context, files FileSource, path string, data map[string]any, dpi int, format string) ([]byte, error)
}

// New returns the engine implementation for choice.
func New(choice string) (Engine, error) {
	switch choice {
	case ChoiceSpreadsheet:
		return newSpreadsheet(), nil
	case ChoiceTemplate:
		return newTemplate(), nil
	default:
		return nil, &UnknownEngineError{Choice: choice}
	}
}

// Valid reports whether choice names a known engine.
func Valid(choice string) bool {
	return choices.Contains(choice)
}

// Choices returns the recognized engine names, sorted.
func Choices() []string {
	out := choices.ToSlice()
	sort.Strings(out)
	return out
}

// ContentType returns the MIME type for an output format.
func ContentType(format string) string {
	switch format {
	case "xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case "csv":
		return "text/csv; charset=utf-8"
	case "html":
		return "text/html; charset=utf-8"
	case "txt":
		return "text/plain; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}

// formatSet backs Formats and Supports for the concrete engines.
type formatSet struct {
	set mapset.Set[string]
}

func newFormatSet(formats ...string) formatSet {
	return formatSet{set: mapset.NewSet(formats...)}
}

func (f formatSet) Formats() []string {
	out := f.set.ToSlice()
	sort.Strings(out)
	return out
}

func (f formatSet) Supports(format string) bool {
	return f.set.Contains(format)
}

// checkArgs validates the arguments common to every engine.
func checkArgs(e Engine, dpi int, format string) error {
	if dpi <= 0 || dpi > MaxDPI {
		return fmt.Errorf("%w: %d (must be 1..%d)", ErrInvalidDPI, dpi, MaxDPI)
	}
	if !e.Supports(format) {
		return fmt.Errorf("%w: %q for engine %s (supported: %v)", ErrUnsupportedFormat, format, e.Name(), e.Formats())
	}
	return nil
}

// readFile loads a template through files.
func readFile(ctx context.Context, files FileSource, path string) ([]byte, error) {
	if path == "" {
		return nil, fmt.Errorf("engine: empty template path")
	}
	rc, err := files.Get(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("engine: open template %s: %w", path, err)
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("engine: read template %s: %w", path, err)
	}
	return body, nil
}
