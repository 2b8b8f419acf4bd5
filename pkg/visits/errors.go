package visits

import "errors"

var (
	// ErrNotFound covers records that are missing and records that exist
	// in another branch; the two are deliberately indistinguishable so
	// responses never leak cross-branch existence.
	ErrNotFound = errors.New("record not found")

	// ErrConflict signals a second visit targeting an appointment that
	// already has one.
	ErrConflict = errors.New("visit already exists for this appointment")

	// ErrValidation wraps caller mistakes (empty complaints, deleting a
	// visit that still has a prescription).
	ErrValidation = errors.New("invalid request")
)
