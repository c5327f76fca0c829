// Package httpx normalizes handler outcomes into the wire envelope:
// success responses carry the handler payload as-is, failures carry a
// machine-readable error id plus a human-readable message.
package httpx

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
)

// Error taxonomy ids. The id names the failure class for machines;
// the message stays free-form for humans.
const (
	IDInvalidRequest      = "invalidRequest"
	IDUnauthorizedRequest = "unauthorizedRequest"
	IDForbiddenRequest    = "forbiddenRequest"
	IDNotFound            = "NotFound"
	IDInternalError       = "internalError"
)

// Error is a structured failure a handler or pipeline stage produces.
// Status is explicit: domain errors choose their own status code rather
// than having one inferred.
type Error struct {
	Status  int
	ID      string
	Message string
}

func (e *Error) Error() string { return e.Message }

func Invalid(message string) *Error {
	return &Error{Status: http.StatusBadRequest, ID: IDInvalidRequest, Message: message}
}

func Unauthorized(message string) *Error {
	return &Error{Status: http.StatusUnauthorized, ID: IDUnauthorizedRequest, Message: message}
}

func Forbidden(message string) *Error {
	return &Error{Status: http.StatusForbidden, ID: IDForbiddenRequest, Message: message}
}

func NotFound(message string) *Error {
	return &Error{Status: http.StatusNotFound, ID: IDNotFound, Message: message}
}

func Internal(message string) *Error {
	return &Error{Status: http.StatusInternalServerError, ID: IDInternalError, Message: message}
}

func NewRequestID() string { return "req_" + uuid.NewString() }

// WriteData writes a success envelope: the payload itself, under the
// handler-chosen status.
func WriteData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, data)
}

// WriteError writes a failure envelope. A request id rides along for
// log correlation.
func WriteError(w http.ResponseWriter, e *Error) {
	writeJSON(w, e.Status, map[string]any{
		"request_id": NewRequestID(),
		"error": map[string]any{
			"id": e.ID, "message": e.Message,
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ReadJSON decodes a request body into dst, rejecting unknown fields.
func ReadJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
