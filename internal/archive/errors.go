package archive

import "errors"

// ErrStructureNotFound means the page lacks an element the pipeline relies on:
// the content root, the fixed navigation bar or an ad container.
var ErrStructureNotFound = errors.New("archive: expected page structure not found")

// Outcome is how a run ended when it did not fail.
type Outcome string

const (
	OutcomeCompleted   Outcome = "completed"
	OutcomeLoginFailed Outcome = "login_failed"
	OutcomeNoResults   Outcome = "no_results"
)
