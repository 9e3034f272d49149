package fetcher

import "fmt"

// ResolutionError reports a dotted path with no registered fetcher.
type ResolutionError struct {
	Path string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("fetcher: cannot resolve %q: not registered", e.Path)
}

// ConstructionError reports a registered fetcher whose factory failed.
type ConstructionError struct {
	Path string
	Err  error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("fetcher: cannot construct %q: %v", e.Path, e.Err)
}

func (e *ConstructionError) Unwrap() error {
	return e.Err
}
