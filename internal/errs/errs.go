// Package errs defines the error taxonomy shared by the dashboard core.
// Packages wrap these sentinels with fmt.Errorf("%w: ...") so callers can
// classify failures with errors.Is.
package errs

import "errors"

var (
	ErrValidation  = errors.New("validation failed")
	ErrForbidden   = errors.New("access denied")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("storage unavailable")
)

// Unavailable wraps a persistence failure. Nil stays nil, and errors that
// already carry a taxonomy sentinel are returned untouched.
func Unavailable(err error) error {
	if err == nil || Classified(err) {
		return err
	}
	return errors.Join(ErrUnavailable, err)
}

// Classified reports whether err already carries one of the sentinels.
func Classified(err error) bool {
	for _, target := range []error{ErrValidation, ErrForbidden, ErrNotFound, ErrConflict, ErrUnavailable} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
