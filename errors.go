package ferry

import (
	"errors"
	"fmt"
)

var (
	// ErrParameterContract is returned when a job payload is absent or does
	// not match the shape its definition expects.
	ErrParameterContract = errors.New("ferry: parameter contract violation")

	// ErrEngineUnavailable is returned when the backing store cannot be
	// reached. Callers receive it synchronously; it is never retried.
	ErrEngineUnavailable = errors.New("ferry: engine unavailable")

	// ErrInvalidSchedule is returned for a malformed cron expression, a
	// zero instant, or a negative delay.
	ErrInvalidSchedule = errors.New("ferry: invalid schedule")

	// Store errors.
	ErrNoStore         = errors.New("ferry: no store configured")
	ErrStoreClosed     = errors.New("ferry: store closed")
	ErrMigrationFailed = errors.New("ferry: migration failed")
	ErrUnknownDriver   = errors.New("ferry: unknown store driver")

	// Not found errors.
	ErrJobNotFound       = errors.New("ferry: job not found")
	ErrRecurringNotFound = errors.New("ferry: recurring definition not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("ferry: job already exists")

	// Engine errors.
	ErrJobNotRegistered = errors.New("ferry: job not registered")
	ErrInvalidConfig    = errors.New("ferry: invalid config")

	// ErrEngineStopped is returned by every call made after Stop. It wraps
	// ErrEngineUnavailable.
	ErrEngineStopped = fmt.Errorf("%w: stopped", ErrEngineUnavailable)
)

// IsUnavailable reports whether err means the store could not be reached.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrEngineUnavailable) || errors.Is(err, ErrStoreClosed)
}
