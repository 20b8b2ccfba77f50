package verification

import (
	"errors"
	"fmt"

	"github.com/gridtrust/device-trust-server/internal/models"
)

// Common errors
var (
	ErrNotFound          = errors.New("device not found")
	ErrInvalidSubmission = errors.New("invalid submission")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// TransitionError describes a lifecycle operation requested from a
// state that does not permit it. It unwraps to ErrInvalidTransition.
type TransitionError struct {
	DeviceID  string
	Current   models.VerificationStatus
	Requested models.VerificationStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("device %s: cannot transition from %s to %s",
		e.DeviceID, e.Current, e.Requested)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
