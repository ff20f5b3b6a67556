package repository

import (
	"errors"
	"fmt"

	"github.com/lyzr/seed-improver/cmd/seed-improver/models"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")

	// ErrRunNotRunning is returned when a terminal transition is attempted on a run
	// that already left the running state
	ErrRunNotRunning = errors.New("run is not running")

	// ErrAlreadyJudged is returned when a verdict is written twice
	ErrAlreadyJudged = errors.New("change already judged")

	// ErrImplementationNotAllowed is returned when implementation fields are written for a
	// change that is not approved or already carries an outcome
	ErrImplementationNotAllowed = errors.New("implementation not allowed for change")

	// ErrInvalidChange is a data-contract violation caught at insert time
	ErrInvalidChange = errors.New("invalid change")
)

// validateChange enforces the mandatory free-text fields of a recommendation
func validateChange(c *models.Change) error {
	if c.RiskAssessment == "" {
		return fmt.Errorf("%w: risk assessment is required", ErrInvalidChange)
	}
	if c.ExpectedImpact == "" {
		return fmt.Errorf("%w: expected impact is required", ErrInvalidChange)
	}
	if c.Hypothesis == "" {
		return fmt.Errorf("%w: hypothesis is required", ErrInvalidChange)
	}
	switch c.Priority {
	case models.PriorityLow, models.PriorityMedium, models.PriorityHigh, models.PriorityCritical:
	default:
		return fmt.Errorf("%w: unknown priority %q", ErrInvalidChange, c.Priority)
	}
	return nil
}

// appendNote joins a compatibility annotation with a new line of detail
func appendNote(existing, note string) string {
	if existing == "" {
		return note
	}
	if note == "" {
		return existing
	}
	return existing + "\n" + note
}
