package serializer

import (
	"errors"
	"net/http"
)

// AppError is the application level error, it implements the error interface.
type AppError struct {
	Code     int
	Msg      string
	RawError error
}

// NewError constructs a new AppError with the given code and message.
func NewError(code int, msg string, err error) AppError {
	return AppError{
		Code:     code,
		Msg:      msg,
		RawError: err,
	}
}

// WithError attaches a raw error to the AppError.
func (err *AppError) WithError(raw error) AppError {
	err.RawError = raw
	return *err
}

// Error returns the readable error message.
func (err AppError) Error() string {
	return err.Msg
}

// Unwrap exposes the raw error for errors.Is/As chains.
func (err AppError) Unwrap() error {
	return err.RawError
}

// Error codes used by the DAV engine. Request level failures are surfaced
// to the transport as the corresponding HTTP status; property level failures
// are embedded inside 207 bodies and never abort the whole request.
const (
	// CodeBadRequest malformed body or headers
	CodeBadRequest = http.StatusBadRequest
	// CodeForbidden operation rejected by policy
	CodeForbidden = http.StatusForbidden
	// CodeNotFound target path does not exist
	CodeNotFound = http.StatusNotFound
	// CodeConflict target exists but has an incompatible type
	CodeConflict = http.StatusConflict
	// CodePreconditionFailed a request precondition did not hold
	CodePreconditionFailed = http.StatusPreconditionFailed
	// CodeUnsupportedMediaType request body carries a content type the
	// server cannot process for this method
	CodeUnsupportedMediaType = http.StatusUnsupportedMediaType
	// CodeRangeNotSatisfiable no valid byte range survives validation
	CodeRangeNotSatisfiable = http.StatusRequestedRangeNotSatisfiable
	// CodeReportNotSupported no registered extension recognizes the
	// REPORT body root element
	CodeReportNotSupported = http.StatusUnsupportedMediaType
	// CodeInternalError unclassified server side failure
	CodeInternalError = http.StatusInternalServerError
)

// Convenience constructors for the engine's error taxonomy.

func NewBadRequest(msg string, raw error) AppError {
	return NewError(CodeBadRequest, msg, raw)
}

func NewForbidden(msg string, raw error) AppError {
	return NewError(CodeForbidden, msg, raw)
}

func NewConflict(msg string, raw error) AppError {
	return NewError(CodeConflict, msg, raw)
}

func NewRangeNotSatisfiable(msg string, raw error) AppError {
	return NewError(CodeRangeNotSatisfiable, msg, raw)
}

func NewUnsupportedMediaType(msg string, raw error) AppError {
	return NewError(CodeUnsupportedMediaType, msg, raw)
}

// StatusCodeFromError maps an error to the HTTP status written to the wire.
// Unrecognized errors map to 500.
func StatusCodeFromError(err error) int {
	var appErr AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return http.StatusInternalServerError
}
