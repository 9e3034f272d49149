package engine

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

// spreadsheetEngine fills {{placeholders}} in an XLSX workbook.
//
// A cell holding exactly one placeholder receives the typed value, so numbers
// stay numbers. A row containing {{items[].field}} placeholders is repeated
// once per element of items and removed when items is empty.
type spreadsheetEngine struct {
	formatSet
}

func newSpreadsheet() *spreadsheetEngine {
	return &spreadsheetEngine{formatSet: newFormatSet("xlsx", "csv")}
}

func (e *spreadsheetEngine) Name() string { return ChoiceSpreadsheet }

// Render fills the workbook at path. Spreadsheets have no resolution, so dpi
// is only validated.
func (e *spreadsheetEngine) Render(ctx context.Context, files FileSource, path string, data map[string]any, dpi int, format string) ([]byte, error) {
	if err := checkArgs(e, dpi, format); err != nil {
		return nil, err
	}

	body, err := readFile(ctx, files, path)
	if err != nil {
		return nil, err
	}

	f, err := excelize.OpenReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("engine: open workbook %s: %w", path, err)
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := fillSheet(f, sheet, data); err != nil {
			return nil, fmt.Errorf("engine: fill sheet %s: %w", sheet, err)
		}
	}

	switch format {
	case "csv":
		return writeCSV(f)
	default:
		buf, err := f.WriteToBuffer()
		if err != nil {
			return nil, fmt.Errorf("engine: write workbook: %w", err)
		}
		return buf.Bytes(), nil
	}
}

// fillSheet walks rows bottom-up so that inserting or removing a row never
// shifts a row that is still to be processed.
func fillSheet(f *excelize.File, sheet string, data map[string]any) error {
	rows, err := f.GetRows(sheet)
	if err != nil {
		return err
	}

	for r := len(rows) - 1; r >= 0; r-- {
		row := rows[r]
		rowNum := r + 1

		listKey := rowListKey(row)
		if listKey == "" {
			if err := fillRow(f, sheet, row, rowNum, func(expr string) (any, bool) {
				return lookup(data, expr)
			}); err != nil {
				return err
			}
			continue
		}

		var items []any
		if v, ok := lookup(data, listKey); ok {
			items = asList(v)
		}
		if len(items) == 0 {
			if err := f.RemoveRow(sheet, rowNum); err != nil {
				return err
			}
			continue
		}

		for i := 1; i < len(items); i++ {
			if err := f.DuplicateRow(sheet, rowNum); err != nil {
				return err
			}
		}
		for i, item := range items {
			if err := fillRow(f, sheet, row, rowNum+i, itemResolver(data, listKey, item)); err != nil {
				return err
			}
		}
	}
	return nil
}

func rowListKey(row []string) string {
	for _, cell := range row {
		if m := listMarker.FindStringSubmatch(cell); m != nil {
			return m[1]
		}
	}
	return ""
}

func itemResolver(data map[string]any, listKey string, item any) func(string) (any, bool) {
	prefix := listKey + "[]"
	return func(expr string) (any, bool) {
		switch {
		case expr == prefix:
			return item, true
		case strings.HasPrefix(expr, prefix+"."):
			m, ok := asMap(item)
			if !ok {
				return nil, false
			}
			return lookup(m, strings.TrimPrefix(expr, prefix+"."))
		default:
			return lookup(data, expr)
		}
	}
}

func fillRow(f *excelize.File, sheet string, row []string, rowNum int, resolve func(string) (any, bool)) error {
	for c, text := range row {
		if !strings.Contains(text, "{{") {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(c+1, rowNum)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, substitute(text, resolve)); err != nil {
			return err
		}
	}
	return nil
}

// substitute returns the typed value when text is a single placeholder and
// the interpolated string otherwise. Unknown keys render as empty.
func substitute(text string, resolve func(string) (any, bool)) any {
	trimmed := strings.TrimSpace(text)
	if loc := placeholder.FindStringSubmatchIndex(trimmed); loc != nil && loc[0] == 0 && loc[1] == len(trimmed) {
		v, ok := resolve(trimmed[loc[2]:loc[3]])
		if !ok || v == nil {
			return ""
		}
		switch v.(type) {
		case string, bool, int, int32, int64, float32, float64:
			return v
		default:
			return stringify(v)
		}
	}

	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		expr := placeholder.FindStringSubmatch(m)[1]
		v, ok := resolve(expr)
		if !ok {
			return ""
		}
		return stringify(v)
	})
}

func writeCSV(f *excelize.File) ([]byte, error) {
	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("engine: read sheet %s: %w", sheet, err)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("engine: write csv: %w", err)
	}
	return buf.Bytes(), nil
}
