package pipeline

import (
	"PriceScraper/internal/models"
	"fmt"
	"strings"
)

// SourceFailure is a brand or seller that could not be collected in full.
type SourceFailure struct {
	Source models.Source
	Err    error
	// KeptItems counts items from pages fetched before the failure that stayed in the
	// run (only with Options.AcceptPartial).
	KeptItems int
}

func (f SourceFailure) Error() string {
	return fmt.Sprintf("source %d (%s): %v", f.Source.ID, f.Source.Name, f.Err)
}

func (f SourceFailure) Unwrap() error { return f.Err }

// AllIdentifiersFailedError is returned when no configured source produced any data.
// It is the only error that fails a run.
type AllIdentifiersFailedError struct {
	Failures []SourceFailure
}

func (e *AllIdentifiersFailedError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("all %d sources failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *AllIdentifiersFailedError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}
