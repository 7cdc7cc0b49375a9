package consensus

import (
	"errors"
	"fmt"
)

var (
	// ErrNoEligibleModels is returned when no contributor survives filtering.
	ErrNoEligibleModels = errors.New("no eligible models")
	ErrShapeMismatch    = errors.New("prediction shape mismatch")
	ErrInvalidTruth     = errors.New("invalid true value")
)

// ShapeMismatchError reports an eligible vote whose dimensionality differs
// from the first eligible vote of the round.
type ShapeMismatchError struct {
	ModelID string
	Want    int
	Got     int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("prediction shape mismatch: model %s returned %d values, expected %d", e.ModelID, e.Got, e.Want)
}

func (e *ShapeMismatchError) Is(target error) bool {
	return target == ErrShapeMismatch
}
