package dav

import (
	"net/http"

	"github.com/quilldav/quill/pkg/serializer"
	"github.com/quilldav/quill/pkg/tree"
)

// http://www.webdav.org/specs/rfc4918.html#status.code.extensions.to.http11
const (
	StatusMulti               = 207
	StatusUnprocessableEntity = 422
	StatusLocked              = 423
	StatusFailedDependency    = 424
	StatusInsufficientStorage = 507
)

// StatusText returns a text for the HTTP status code, including the
// WebDAV extension codes.
func StatusText(code int) string {
	switch code {
	case StatusMulti:
		return "Multi-Status"
	case StatusUnprocessableEntity:
		return "Unprocessable Entity"
	case StatusLocked:
		return "Locked"
	case StatusFailedDependency:
		return "Failed Dependency"
	case StatusInsufficientStorage:
		return "Insufficient Storage"
	}
	return http.StatusText(code)
}

// The engine's error taxonomy. Each sentinel carries its wire status as
// a serializer code so dispatch paths derive the status from the error.
var (
	errContentRangeOnPut       = serializer.NewBadRequest("dav: PUT with Content-Range is not allowed", nil)
	errCrossHostDestination    = serializer.NewError(http.StatusBadGateway, "dav: destination is on another host", nil)
	errDestinationEqualsSource = serializer.NewForbidden("dav: destination equals source", nil)
	errDestinationExists       = serializer.NewError(serializer.CodePreconditionFailed, "dav: destination exists and overwrite is forbidden", tree.ErrExists)
	errEmptyUpload             = serializer.NewForbidden("dav: nonzero expected length but no readable bytes", nil)
	errInvalidDepth            = serializer.NewBadRequest("dav: invalid depth", nil)
	errInvalidDestination      = serializer.NewBadRequest("dav: invalid destination", nil)
	errMethodNotAllowed        = serializer.NewError(http.StatusMethodNotAllowed, "dav: method not allowed on target", nil)
	errNonXMLMkcolBody         = serializer.NewUnsupportedMediaType("dav: mkcol body is not XML", nil)
	errNotFileCapable          = serializer.NewConflict("dav: target is not file capable", nil)
	errPrefixMismatch          = serializer.NewError(serializer.CodeNotFound, "dav: prefix mismatch", nil)
	errRangeNotSeekable        = serializer.NewRangeNotSatisfiable("dav: multiple ranges need a seekable source", nil)
	errReportNotSupported      = serializer.NewError(serializer.CodeReportNotSupported, "dav: report not supported", nil)
	errTooManyDisorder         = serializer.NewRangeNotSatisfiable("dav: too many disordered ranges", nil)
	errTooManyOverlaps         = serializer.NewRangeNotSatisfiable("dav: too many overlapping ranges", nil)
	errTooManyRanges           = serializer.NewRangeNotSatisfiable("dav: too many ranges", nil)
	errUnsatisfiableRange      = serializer.NewRangeNotSatisfiable("dav: no satisfiable range", nil)
	errUnsupportedMethod       = serializer.NewError(http.StatusMethodNotAllowed, "dav: unsupported method", nil)
)

// fail maps a taxonomy error to the status the dispatcher writes.
func fail(err error) (int, error) {
	return serializer.StatusCodeFromError(err), err
}
