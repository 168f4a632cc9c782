// Package api holds the JSON envelope shared by every HTTP handler.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/cloo-solutions/docintel/internal/domain"
	"github.com/cloo-solutions/docintel/internal/telemetry"
)

// SuccessResponse is the {"data": ...} envelope.
type SuccessResponse struct {
	Data any `json:"data"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// JSON writes v with the given status. A nil v writes headers only.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: failed to encode response: %v", err)
	}
}

func Success(w http.ResponseWriter, status int, data any) {
	JSON(w, status, SuccessResponse{Data: data})
}

func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, ErrorResponse{Error: message})
}

var statusByCode = map[string]int{
	domain.ErrCodeValidation:        http.StatusBadRequest,
	domain.ErrCodeEmptyInput:        http.StatusBadRequest,
	domain.ErrCodeNotFound:          http.StatusNotFound,
	domain.ErrCodeAlreadyExists:     http.StatusConflict,
	domain.ErrCodeInvalidOperation:  http.StatusConflict,
	domain.ErrCodeModelUnavailable:  http.StatusServiceUnavailable,
	domain.ErrCodeCacheUnavailable:  http.StatusServiceUnavailable,
	domain.ErrCodeDimensionMismatch: http.StatusInternalServerError,
}

// DomainErrorToHTTP maps a domain error code to its HTTP status. Anything
// outside the domain taxonomy is a 500.
func DomainErrorToHTTP(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var de *domain.DomainError
	if !errors.As(err, &de) {
		return http.StatusInternalServerError
	}
	if status, ok := statusByCode[de.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// HandleError writes err as an ErrorResponse. Errors outside the domain
// taxonomy are reported to Sentry and answered with a generic message.
func HandleError(w http.ResponseWriter, r *http.Request, err error) {
	status := DomainErrorToHTTP(err)

	var de *domain.DomainError
	if !errors.As(err, &de) {
		log.Printf("api: %s %s: unhandled error: %v", r.Method, r.URL.Path, err)
		telemetry.CaptureError(r.Context(), err)
		Error(w, status, "internal server error")
		return
	}
	JSON(w, status, ErrorResponse{Error: err.Error(), Code: de.Code})
}

// DecodeJSON decodes the request body into dst. On failure it writes the
// response itself (413 for a body over the MaxBodyBytes limit, 400
// otherwise) and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}

	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		Error(w, http.StatusRequestEntityTooLarge, "request body too large")
	case errors.Is(err, io.EOF):
		Error(w, http.StatusBadRequest, "request body is empty")
	default:
		Error(w, http.StatusBadRequest, "invalid request body")
	}
	return false
}
