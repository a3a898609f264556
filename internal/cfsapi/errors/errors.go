// Package errors centralizes HTTP problem-document translation for every
// CFS error kind named in spec.md §7, adapted from the teacher's
// internal/api/errors package. Core packages return typed Go errors; only
// this package and the handlers that call FromErr know about HTTP status
// codes.
package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/hpcfleet/cfs/internal/kvstore"
	"github.com/hpcfleet/cfs/internal/sourceresolver"
	"github.com/hpcfleet/cfs/internal/tenancy"
)

// Code is a CFS API error code.
type Code string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConflict          Code = "CONFLICT"
	CodeForbidden         Code = "FORBIDDEN"
	CodeInUse             Code = "IN_USE"
	CodeUpstreamFailure   Code = "UPSTREAM_FAILURE"
	CodeStoreUnreachable  Code = "STORE_UNREACHABLE"
	CodeStoreBusy         Code = "STORE_BUSY"
	CodeInternal          Code = "INTERNAL_ERROR"
)

var statusByCode = map[Code]int{
	CodeValidation:       http.StatusBadRequest,
	CodeNotFound:         http.StatusNotFound,
	CodeConflict:         http.StatusConflict,
	CodeForbidden:        http.StatusForbidden,
	CodeInUse:            http.StatusBadRequest,
	CodeUpstreamFailure:  http.StatusBadRequest,
	CodeStoreUnreachable: http.StatusServiceUnavailable,
	CodeStoreBusy:        http.StatusServiceUnavailable,
	CodeInternal:         http.StatusInternalServerError,
}

// APIError is the problem document returned to clients.
type APIError struct {
	Code      Code   `json:"code"`
	Title     string `json:"title"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// StatusCode returns the HTTP status for this error's code.
func (e *APIError) StatusCode() int {
	if s, ok := statusByCode[e.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// New builds an APIError.
func New(code Code, title, detail string) *APIError {
	return &APIError{Code: code, Title: title, Detail: detail, Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

// Sentinel domain errors returned by internal/* core packages. Handlers
// compare against these with errors.Is via FromErr.
var (
	ErrValidation = errors.New("cfs: validation error")
	ErrConflict   = errors.New("cfs: name already in use")
	ErrForbidden  = errors.New("cfs: forbidden")
	ErrInUse      = errors.New("cfs: in use")
	ErrNotFound   = errors.New("cfs: not found")
)

// FromErr maps any error returned by a core package into an APIError,
// keeping all HTTP-status knowledge out of internal/*, per spec.md §7's
// propagation policy.
func FromErr(err error) *APIError {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, kvstore.ErrNoEntry), errors.Is(err, ErrNotFound):
		return New(CodeNotFound, "Not Found", err.Error())
	case errors.Is(err, kvstore.ErrTooBusy):
		return New(CodeStoreBusy, "Store Busy", err.Error())
	case errors.Is(err, kvstore.ErrUnreachable):
		return New(CodeStoreUnreachable, "Store Unreachable", err.Error())
	case errors.Is(err, tenancy.ErrForbidden), errors.Is(err, ErrForbidden):
		return New(CodeForbidden, "Forbidden", err.Error())
	case errors.Is(err, tenancy.ErrUnknownTenant), errors.Is(err, ErrValidation):
		return New(CodeValidation, "Validation Error", err.Error())
	case errors.Is(err, ErrConflict):
		return New(CodeConflict, "Conflict", err.Error())
	case errors.Is(err, ErrInUse):
		return New(CodeInUse, "In Use", err.Error())
	default:
		var bce *sourceresolver.BranchConversionError
		if errors.As(err, &bce) {
			return New(CodeUpstreamFailure, "Upstream Failure", err.Error())
		}
		return New(CodeInternal, "Internal Error", err.Error())
	}
}

// Write writes the APIError as a JSON problem document with its status code.
func Write(w http.ResponseWriter, requestID string, err error) {
	apiErr := FromErr(err)
	apiErr.RequestID = requestID
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.StatusCode())
	_ = json.NewEncoder(w).Encode(apiErr)
}
