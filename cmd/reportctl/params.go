package main

import (
	"fmt"
	"strings"

	"report_render/internal/fetcher"
)

// parseParams разбирает значения вида key=value. Повторяющийся ключ
// превращается в список значений.
func parseParams(raw []string) (fetcher.Params, error) {
	params := fetcher.Params{}
	for _, kv := range raw {
		key, value, ok := strings.Cut(kv, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("неверный параметр %q: ожидается key=value", kv)
		}

		switch prev := params[key].(type) {
		case nil:
			params[key] = value
		case []any:
			params[key] = append(prev, value)
		default:
			params[key] = []any{prev, value}
		}
	}
	return params, nil
}
