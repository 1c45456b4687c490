// Package httpx holds the JSON response helpers behind the portal's API
// endpoints. Errors go out as RFC 7807 problem documents.
package httpx

import (
	"errors"
	"net/http"

	"github.com/campus-sis/campus-sis/internal/authapi"
	"github.com/campus-sis/campus-sis/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var apiErr *authapi.Error
	switch {
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, authapi.ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", "")
	case errors.Is(err, shared.ErrSessionResolving):
		Problem(w, http.StatusServiceUnavailable, "Session Refreshing", "profile refresh in progress")
	case errors.As(err, &apiErr):
		Problem(w, http.StatusBadGateway, "Directory Unavailable", apiErr.Message)
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
