package gather

import (
	"errors"
	"fmt"
)

// ErrEmptyFetch is returned when the source has no observation at all for a
// requested range. The targets stay missing and are retried on the next sync.
var ErrEmptyFetch = errors.New("gather: source returned no observations")

// FetchError wraps a failed fetch for one symbol.
type FetchError struct {
	Symbol string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching %s: %v", e.Symbol, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// PersistError reports a store write that failed after a merge. The merge's
// in-memory changes have been rolled back when it is returned.
type PersistError struct {
	Symbol   string
	Location string
	Err      error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persisting %s to %s: %v", e.Symbol, e.Location, e.Err)
}

func (e *PersistError) Unwrap() error { return e.Err }
