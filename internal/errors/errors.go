package errors

import (
	"net/http"

	"github.com/go-chi/render"
)

// Source points at the part of a request an error refers to, mirroring the
// JSON:API error source object the upstream licensing service emits.
type Source struct {
	Pointer string `json:"pointer,omitempty"`
}

// APIError is the uniform error record returned by every remote operation.
// It is always returned as data, never raised across component boundaries.
type APIError struct {
	Title  string  `json:"title"`
	Detail string  `json:"detail"`
	Code   string  `json:"code,omitempty"`
	Source *Source `json:"source,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Detail != "" {
		return e.Title + ": " + e.Detail
	}
	return e.Title
}

// List is the `{errors: [...]}` response body shared by all relay endpoints.
type List struct {
	Errors     []APIError `json:"errors"`
	StatusCode int        `json:"-"`
}

// Render implements the render.Renderer interface for chi/render
func (l *List) Render(w http.ResponseWriter, r *http.Request) error {
	status := l.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	render.Status(r, status)
	return nil
}

// NewList wraps errors into a renderable list with the given HTTP status
func NewList(status int, errs ...APIError) *List {
	return &List{Errors: errs, StatusCode: status}
}

// Error titles the gateway and store branch on. Matching is by title because
// the upstream service does not attach codes to relay-level failures.
const (
	TitleLicenseCheckError = "License check error"
	TitleLicenseNotFound   = "License not found"
	TitleMachineNotFound   = "Machine not found"
	TitleNoLicenses        = "No licenses"
	TitleServerError       = "Server Error"
	TitleNotAllowed        = "Not allowed"
)

// CodeMachineLimitExceeded is the upstream seat-limit validation code.
const CodeMachineLimitExceeded = "MACHINE_LIMIT_EXCEEDED"

// LicenseCheckError reports a failed upstream call during the ownership walk
func LicenseCheckError() APIError {
	return APIError{
		Title:  TitleLicenseCheckError,
		Detail: "There was an issue checking the machine id.",
	}
}

// LicenseNotFound reports a key absent from the calling user's licenses
func LicenseNotFound() APIError {
	return APIError{
		Title:  TitleLicenseNotFound,
		Detail: "The provided license key does not belong to the current user or does not exist.",
	}
}

// MachineNotFound reports a valid key that has no activated machines yet.
// Phase one of validation treats this as continuable, not fatal.
func MachineNotFound() APIError {
	return APIError{
		Title:  TitleMachineNotFound,
		Detail: "No machines found associated with the provided license key.",
	}
}

// NoLicenses reports an exhausted license collection with zero entries
func NoLicenses() APIError {
	return APIError{
		Title:  TitleNoLicenses,
		Detail: "No licenses are associated with the current user.",
	}
}

// ServerError wraps an unexpected fault, carrying its message as detail
func ServerError(detail string) APIError {
	return APIError{
		Title:  TitleServerError,
		Detail: detail,
	}
}

// NotAllowed is the origin guard's rejection
func NotAllowed() APIError {
	return APIError{
		Title:  TitleNotAllowed,
		Detail: "Request origin is not allowed.",
	}
}

// HasTitle reports whether any error in the slice carries the given title
func HasTitle(errs []APIError, title string) bool {
	for _, e := range errs {
		if e.Title == title {
			return true
		}
	}
	return false
}

// HasCode reports whether any error in the slice carries the given code
func HasCode(errs []APIError, code string) bool {
	for _, e := range errs {
		if e.Code == code {
			return true
		}
	}
	return false
}
