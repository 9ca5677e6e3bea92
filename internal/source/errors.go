package source

import (
	"errors"
	"fmt"
	"strings"
)

// Per-reference resolution failures. All of these are non-fatal to a
// batch: they land in the reference's slot of the result map.
var (
	// ErrNotFound means the source has no addon for the reference.
	ErrNotFound = errors.New("addon not found")
	// ErrNoFiles means the addon exists but has nothing downloadable.
	ErrNoFiles = errors.New("no downloadable files")
	// ErrNoStrategyMatch means files exist but none satisfies the
	// reference's current strategies.
	ErrNoStrategyMatch = errors.New("no files match current strategies")
	// ErrSourceInvalid means the reference names an unknown source.
	ErrSourceInvalid = errors.New("source invalid")
	// ErrSourceDisabled means the source is configured off.
	ErrSourceDisabled = errors.New("source disabled")
)

// StrategiesUnsupportedError reports strategies a source does not
// declare. It is raised before any network call is made.
type StrategiesUnsupportedError struct {
	Source     string
	Strategies []string
}

func (e *StrategiesUnsupportedError) Error() string {
	return fmt.Sprintf("strategies not supported by %s: %s",
		e.Source, strings.Join(e.Strategies, ", "))
}

// Expected reports whether err belongs to the resolution taxonomy.
// Anything else, e.g. a raw transport failure, is an unexpected error
// the caller should treat as internal.
func Expected(err error) bool {
	var unsupported *StrategiesUnsupportedError
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrNoFiles) ||
		errors.Is(err, ErrNoStrategyMatch) ||
		errors.Is(err, ErrSourceInvalid) ||
		errors.Is(err, ErrSourceDisabled) ||
		errors.As(err, &unsupported)
}
