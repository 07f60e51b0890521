package shared

import (
	"errors"
	"fmt"
)

// Fiscal period lifecycle statuses reused across modules.
const (
	PeriodStatusDraft  = "DRAFT"
	PeriodStatusActive = "ACTIVE"
	PeriodStatusClosed = "CLOSED"
)

// ErrInvalidPeriodTransition indicates status change not allowed.
var ErrInvalidPeriodTransition = errors.New("period transition invalid")

// ValidatePeriodTransition checks lifecycle transitions. The lifecycle is
// monotonic: draft -> active -> closed, and closed is terminal.
func ValidatePeriodTransition(current, target string) error {
	if current == target {
		return nil
	}
	switch current {
	case PeriodStatusDraft:
		if target == PeriodStatusActive {
			return nil
		}
	case PeriodStatusActive:
		if target == PeriodStatusClosed {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidPeriodTransition, current, target)
}
