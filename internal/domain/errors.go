package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Callers classify failures with errors.Is against these.
var (
	ErrValidation     = errors.New("validation error")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
	ErrState          = errors.New("invalid state")
	ErrTransientStore = errors.New("store unavailable")
)

var (
	ErrTooManyDates     = fmt.Errorf("%w: too many dates in batch request", ErrValidation)
	ErrBarberNotFound   = fmt.Errorf("%w: barber", ErrNotFound)
	ErrEntryNotFound    = fmt.Errorf("%w: waitlist entry", ErrNotFound)
	ErrBookingNotFound  = fmt.Errorf("%w: booking", ErrNotFound)
	ErrCustomerNotFound = fmt.Errorf("%w: customer", ErrNotFound)
	ErrBookingCancelled = fmt.Errorf("%w: booking already cancelled", ErrState)
	ErrAlreadyWaiting   = fmt.Errorf("%w: customer already on the waitlist", ErrConflict)
	ErrSlotTaken        = fmt.Errorf("%w: slot is no longer free", ErrConflict)
	ErrOfferExpired     = fmt.Errorf("%w: offer is no longer valid", ErrState)
	ErrEntryNotWaiting  = fmt.Errorf("%w: waitlist entry is not waiting", ErrState)
	ErrLockNotAcquired  = fmt.Errorf("%w: key is locked", ErrTransientStore)
	ErrUnknownResponse  = fmt.Errorf("%w: unknown response", ErrValidation)
)

// Validationf builds a validation error with a formatted detail.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Transient wraps a persistence failure so callers can tell it from domain errors.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrTransientStore, op, err)
}
