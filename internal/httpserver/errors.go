package httpserver

import (
	"errors"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/Sternrassler/studio-engine/pkg/apierror"
	"github.com/Sternrassler/studio-engine/pkg/batch"
	"github.com/Sternrassler/studio-engine/pkg/credential"
	"github.com/Sternrassler/studio-engine/pkg/session"
	"github.com/Sternrassler/studio-engine/pkg/studio"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var validation *studio.ValidationError
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.Is(err, credential.ErrNotFound),
		errors.Is(err, batch.ErrOutputNotFound),
		errors.Is(err, session.ErrNoDocument),
		errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, credential.ErrSystemCredential),
		errors.Is(err, session.ErrInvalidName),
		errors.Is(err, session.ErrUnsupportedVersion),
		errors.Is(err, batch.ErrInvalidCount),
		errors.Is(err, batch.ErrInvalidDataURL),
		errors.Is(err, studio.ErrUnsupportedImage),
		errors.Is(err, studio.ErrEmptyText),
		errors.Is(err, studio.ErrNoFrontReference):
		return http.StatusBadRequest
	case errors.Is(err, batch.ErrBusy),
		errors.Is(err, session.ErrLocked):
		return http.StatusConflict
	}

	switch credential.KindOf(err) {
	case credential.KindAllFailed, credential.KindPrimaryUnusable, credential.KindQuota, credential.KindCancelled:
		return http.StatusServiceUnavailable
	case credential.KindSafety:
		return http.StatusUnprocessableEntity
	case credential.KindAuth, credential.KindTransient:
		return http.StatusBadGateway
	}
	if apierror.ClassOf(err) != "" {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// codeFor returns a machine readable error code, "" when none applies.
func codeFor(err error) string {
	if k := credential.KindOf(err); k != "" {
		return string(k)
	}
	return string(apierror.ClassOf(err))
}

// respondError aborts the request with the status derived from err.
func respondError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusFor(err), ErrorResponse{Error: err.Error(), Code: codeFor(err)})
}

// respondBadRequest aborts the request with a 400 and message.
func respondBadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: message})
}
