package collector

import (
	"errors"
	"fmt"
)

// ErrSelectorRequired is returned when Collect receives zero or both
// selectors.
var ErrSelectorRequired = errors.New("collector: must supply exactly one of subject id or free text")

// PatientNotFoundError marks a subject id that has no admissions in the
// store. It is a caller error, not a store failure, and does not trigger the
// degraded fallback.
type PatientNotFoundError struct {
	SubjectID int64
}

func (e *PatientNotFoundError) Error() string {
	return fmt.Sprintf("no admissions found for patient %d", e.SubjectID)
}
