package correlate

import (
	"fmt"
)

// ReplayError reports a replayed request that did not come back 2xx. It is
// always fatal; nothing is retried.
type ReplayError struct {
	Method string
	URL    string
	Status int
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("replay of %s %s returned status %d", e.Method, e.URL, e.Status)
}

// SchemaError reports a payload that is not valid JSON or lacks a required field.
type SchemaError struct {
	Source string
	Field  string
	Err    error
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("payload %s is malformed: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("payload %s is missing required field %s", e.Source, e.Field)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// CorrelationError reports a performance payload that cannot be tied to any creative record.
type CorrelationError struct {
	Index     int
	ArchiveID string
	Reason    string
}

func (e *CorrelationError) Error() string {
	if e.ArchiveID != "" {
		return fmt.Sprintf("performance payload %d (archive id %s): %s", e.Index+1, e.ArchiveID, e.Reason)
	}
	return fmt.Sprintf("performance payload %d: %s", e.Index+1, e.Reason)
}
