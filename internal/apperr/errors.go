// Package apperr defines the error taxonomy shared across the application.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals a missing session, code list, or identity.
	ErrNotFound = errors.New("not found")
	// ErrCatalogUnavailable signals that the remote catalog could not be
	// reached or refused the request. A search that hits this condition is
	// aborted; it must never be reported as "zero matches".
	ErrCatalogUnavailable = errors.New("catalog unavailable")
)

// InvalidCodeError reports a user-supplied code that cannot be used for
// matching. Recoverable: the code is skipped and reported.
type InvalidCodeError struct {
	Code   string
	Reason string
}

func (e *InvalidCodeError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("invalid code: %s", e.Reason)
	}
	return fmt.Sprintf("invalid code %q: %s", e.Code, e.Reason)
}

// TooManySelectedError is returned when an export plan exceeds the batch
// limit. User-correctable: deselect Excess items and retry.
type TooManySelectedError struct {
	Selected int
	Limit    int
}

func (e *TooManySelectedError) Error() string {
	return fmt.Sprintf("too many assets selected: %d selected, limit is %d, deselect %d and retry",
		e.Selected, e.Limit, e.Excess())
}

// Excess returns how many selections must be removed.
func (e *TooManySelectedError) Excess() int {
	return e.Selected - e.Limit
}

// AssetFetchError reports a single asset that could not be downloaded while
// building an archive. Per-item: the archive omits the asset and continues.
type AssetFetchError struct {
	Filename string
	URL      string
	Err      error
}

func (e *AssetFetchError) Error() string {
	return fmt.Sprintf("fetch asset %q: %v", e.Filename, e.Err)
}

func (e *AssetFetchError) Unwrap() error { return e.Err }
