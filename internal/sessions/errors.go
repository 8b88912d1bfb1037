package sessions

import (
	"errors"
	"fmt"
)

// Errors returned by the store and the components built on it. Callers
// should match them with errors.Is, since most are wrapped with context.
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrReservedName      = errors.New("reserved file name")
	ErrQuotaExceeded     = errors.New("quota exceeded")
	ErrNotFound          = errors.New("session not found")
	ErrForbidden         = errors.New("invalid owner token")
	ErrMissingCredential = errors.New("missing credential")
	ErrAlreadyExists     = errors.New("session already exists")
	ErrIO                = errors.New("storage error")
)

// Refinements of the errors above; each still matches its parent.
var (
	ErrMissingExpiration = fmt.Errorf("%w: missing expiration", ErrInvalidInput)
	ErrBadExpiration     = fmt.Errorf("%w: expiration must be a non-negative integer", ErrInvalidInput)
	ErrTooManyFiles      = fmt.Errorf("%w: too many files", ErrQuotaExceeded)
	ErrFileTooLarge      = fmt.Errorf("%w: file too large", ErrQuotaExceeded)
)
