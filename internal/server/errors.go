package server

import (
	"errors"
	"net/http"

	"ephemeral-drop/internal/sessions"
)

// Response bodies for the owner-facing endpoints.
const (
	msgMissingSession = "Key not found, session"
	msgMissingToken   = "Key not found, token"
	msgBadCredential  = "Invalid auth token or non existent session"
	msgNoSession      = "Non existent session"
	msgNoFile         = "Non existent session or file within session"
)

// statusFor maps session engine errors to an HTTP status and a short body.
// Internal paths and wrapped details never reach the client.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, sessions.ErrReservedName):
		return http.StatusBadRequest, "Got filename with reserved name (.token or .expiration)"
	case errors.Is(err, sessions.ErrQuotaExceeded):
		return http.StatusBadRequest, quotaMessage(err)
	case errors.Is(err, sessions.ErrMissingExpiration):
		return http.StatusBadRequest, "Key not found, expiration"
	case errors.Is(err, sessions.ErrBadExpiration):
		return http.StatusBadRequest, "Key is not a non-negative integer, expiration"
	case errors.Is(err, sessions.ErrInvalidInput):
		return http.StatusBadRequest, "Invalid upload"
	case errors.Is(err, sessions.ErrMissingCredential):
		return http.StatusBadRequest, msgMissingToken
	case errors.Is(err, sessions.ErrForbidden):
		return http.StatusForbidden, msgBadCredential
	case errors.Is(err, sessions.ErrNotFound):
		return http.StatusNotFound, msgNoSession
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func quotaMessage(err error) string {
	if errors.Is(err, sessions.ErrTooManyFiles) {
		return "Too many files"
	}
	return "File too large"
}

// writeError translates err with statusFor.
func writeError(w http.ResponseWriter, err error) {
	code, msg := statusFor(err)
	http.Error(w, msg, code)
}
