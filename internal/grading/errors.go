package grading

import (
	"errors"
)

// ErrScoringUnavailable marks scoring failures caused by grading
// infrastructure (embedding or generative backend) being unreachable.
// Callers must keep the submission retryable and must not record a zero
// score: "wrong answer" and "grading service down" are different outcomes.
var ErrScoringUnavailable = errors.New("scoring unavailable")
