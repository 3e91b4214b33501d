package features

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientData is the sentinel matched by InsufficientDataError.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrSchemaMismatch means a feature vector could not be assembled in the
	// order a model was trained with. It signals artifact/schema drift.
	ErrSchemaMismatch = errors.New("feature schema mismatch")
)

// InsufficientDataError carries the observed and required sample counts.
type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: %d < %d required samples (need %d more)", e.Have, e.Need, e.Need-e.Have)
}

// Is makes errors.Is(err, ErrInsufficientData) match.
func (e *InsufficientDataError) Is(target error) bool {
	return target == ErrInsufficientData
}

// RequireSamples returns an InsufficientDataError when have < need.
func RequireSamples(have, need int) error {
	if have < need {
		return &InsufficientDataError{Have: have, Need: need}
	}
	return nil
}
