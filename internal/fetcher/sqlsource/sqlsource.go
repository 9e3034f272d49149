// Package sqlsource provides fetchers backed by read-only SQL queries.
package sqlsource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"report_render/internal/config"
	"report_render/internal/fetcher"
)

// ErrMissingParam is returned when a configured query parameter is absent.
var ErrMissingParam = errors.New("missing query parameter")

var (
	// forbidden matches statements that modify data or schema.
	forbidden = regexp.MustCompile(`(?i)\b(DROP|DELETE|UPDATE|INSERT|CREATE|ALTER|TRUNCATE|GRANT|REVOKE|MERGE)\b`)
	// replaceInto matches the REPLACE statement but not the replace() function.
	replaceInto = regexp.MustCompile(`(?i)\bREPLACE\s+INTO\b`)
	// literals matches string literals, quoted identifiers and comments.
	literals = regexp.MustCompile(`'(?:[^']|'')*'|"(?:[^"]|"")*"|--[^\n]*|(?s:/\*.*?\*/)`)
)

// Validate проверяет SQL-запрос на наличие запрещённых конструкций.
// Ключевые слова внутри строк, идентификаторов в кавычках и комментариев не учитываются.
func Validate(query string) error {
	if strings.TrimSpace(query) == "" {
		return errors.New("empty query")
	}
	code := literals.ReplaceAllString(query, " ")
	if m := forbidden.FindString(code); m != "" {
		return fmt.Errorf("forbidden operation: %s", strings.ToUpper(m))
	}
	if replaceInto.MatchString(code) {
		return errors.New("forbidden operation: REPLACE")
	}
	return nil
}

// Source runs one query and returns its rows.
type Source struct {
	db     *sql.DB
	query  string
	params []string
}

// New returns a Source for query. params names, in placeholder order, the
// request parameters bound as query arguments.
func New(db *sql.DB, query string, params []string) (*Source, error) {
	if err := Validate(query); err != nil {
		return nil, err
	}
	return &Source{db: db, query: query, params: params}, nil
}

// GetData executes the query and returns {"rows": [...], "count": n}.
func (s *Source) GetData(ctx context.Context, params fetcher.Params) (map[string]any, error) {
	args := make([]any, 0, len(s.params))
	for _, name := range s.params {
		v, ok := params[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingParam, name)
		}
		args = append(args, v)
	}

	rows, err := execute(ctx, s.db, s.query, args...)
	if err != nil {
		return nil, err
	}
	return map[string]any{"rows": rows, "count": len(rows)}, nil
}

// execute runs query and returns rows as a slice of maps.
func execute(ctx context.Context, db *sql.DB, query string, args ...any) ([]any, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := make([]any, 0)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range ptrs {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		rowMap := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := vals[i].([]byte); ok {
				rowMap[col] = string(b)
				continue
			}
			rowMap[col] = vals[i]
		}
		results = append(results, rowMap)
	}
	return results, rows.Err()
}

// Pool holds the connections opened by RegisterAll.
type Pool struct {
	dbs []*sql.DB
}

// Close closes every connection in the pool.
func (p *Pool) Close() error {
	var errs []error
	for _, db := range p.dbs {
		errs = append(errs, db.Close())
	}
	return errors.Join(errs...)
}

// RegisterAll registers a fetcher for every entry in reg. Entries sharing a
// driver and DSN share one *sql.DB.
func RegisterAll(reg *fetcher.Registry, entries []config.SQLFetcher) (*Pool, error) {
	pool := &Pool{}
	byDSN := make(map[string]*sql.DB)

	for _, e := range entries {
		if err := Validate(e.Query); err != nil {
			pool.Close()
			return nil, fmt.Errorf("fetcher %s: %w", e.Path, err)
		}

		key := e.Driver + "|" + e.DSN
		db, ok := byDSN[key]
		if !ok {
			var err error
			db, err = sql.Open(e.Driver, e.DSN)
			if err != nil {
				pool.Close()
				return nil, fmt.Errorf("fetcher %s: open %s: %w", e.Path, e.Driver, err)
			}
			byDSN[key] = db
			pool.dbs = append(pool.dbs, db)
		}

		query, params := e.Query, e.Params
		if err := reg.Register(e.Path, func() (fetcher.Fetcher, error) {
			return New(db, query, params)
		}); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return pool, nil
}
