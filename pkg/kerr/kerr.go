// Package kerr holds the error kinds shared by the kernel read/write packages.
//
// Every kind is fatal to a session: callers wrap one of these sentinels with
// context and the session (or CLI) stops at the first one it sees.
package kerr

import (
	"github.com/pkg/errors"
)

var (
	// ErrUnsupportedVersion means the running build matches no profile row.
	ErrUnsupportedVersion = errors.New("unsupported kernel version")
	// ErrResourceExhaustion means a host resource (e.g. file descriptors) could not be obtained.
	ErrResourceExhaustion = errors.New("resource exhaustion")
	// ErrAddressResolution means a seed address was zero or a chained read failed.
	ErrAddressResolution = errors.New("address resolution failed")
	// ErrValidation means an expected kernel-side invariant did not hold.
	ErrValidation = errors.New("validation failed")
)

// Validationf returns an ErrValidation wrapped with a formatted message.
func Validationf(format string, args ...any) error {
	return errors.Wrapf(ErrValidation, format, args...)
}

// Resolutionf returns an ErrAddressResolution wrapped with a formatted message.
func Resolutionf(format string, args ...any) error {
	return errors.Wrapf(ErrAddressResolution, format, args...)
}

type kindError struct {
	kind error
	err  error
}

func (e *kindError) Error() string   { return e.kind.Error() + ": " + e.err.Error() }
func (e *kindError) Unwrap() []error { return []error{e.kind, e.err} }

// Resolution marks err as an ErrAddressResolution. Both stay reachable with Is.
func Resolution(err error) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: ErrAddressResolution, err: err}
}

// Is reports whether any error in err's chain is target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
