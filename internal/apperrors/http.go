package apperrors

import (
	"errors"
	"net/http"
)

// Machine-readable codes returned in API error bodies.
const (
	CodeInvalidRequest = "invalid_request"
	CodeNotFound       = "not_found"
	CodeConflict       = "conflict"
	CodeLimit          = "too_many_jobs"
	CodeUpstream       = "runner_unavailable"
	CodeUnavailable    = "unavailable"
	CodeInternal       = "internal"
)

type class struct {
	sentinel error
	status   int
	code     string
}

var classes = []class{
	{ErrValidation, http.StatusBadRequest, CodeInvalidRequest},
	{ErrNotFound, http.StatusNotFound, CodeNotFound},
	{ErrConflict, http.StatusConflict, CodeConflict},
	{ErrLimit, http.StatusTooManyRequests, CodeLimit},
	{ErrUpstream, http.StatusBadGateway, CodeUpstream},
	{ErrUnavailable, http.StatusServiceUnavailable, CodeUnavailable},
}

// classify uses the class of the outermost *Error, so a cause carrying
// its own class does not leak through.
func classify(err error) class {
	var e *Error
	if errors.As(err, &e) {
		err = e.Class
	}
	for _, c := range classes {
		if errors.Is(err, c.sentinel) {
			return c
		}
	}
	return class{ErrInternal, http.StatusInternalServerError, CodeInternal}
}

// HTTPStatus maps an error to the appropriate HTTP status code.
func HTTPStatus(err error) int {
	return classify(err).status
}

// Code maps an error to its API error code.
func Code(err error) string {
	return classify(err).code
}

// Body is the JSON error body written by the API.
type Body struct {
	Error  string `json:"error"`
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
	Field  string `json:"field,omitempty"`
}

// BodyOf builds the error body for err. Internal errors keep their
// message out of the body; it is logged instead.
func BodyOf(err error) Body {
	c := classify(err)
	body := Body{Code: c.code}
	if c.code == CodeInternal {
		body.Error = "internal server error"
		return body
	}

	body.Error = err.Error()
	var appErr *Error
	if errors.As(err, &appErr) {
		body.Reason = appErr.Reason
		body.Field = appErr.Field
	}
	return body
}
