package dav

import (
	"encoding/xml"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/quilldav/quill/pkg/dav/davxml"
	"github.com/quilldav/quill/pkg/tree"
)

// Extension contributes optional behavior to the engine: extra
// compliance tokens for the DAV header and handlers for REPORT bodies.
type Extension interface {
	// Features returns the compliance tokens the extension adds to the
	// DAV header in OPTIONS responses.
	Features() []string

	// Reports returns the root element names of REPORT bodies the
	// extension understands. They are also advertised through the
	// supported-report-set property.
	Reports() []xml.Name

	// HandleReport runs a REPORT whose body root element matched one of
	// Reports. The body reader re-delivers the full request body. A
	// returned status of 0 means the extension wrote the response
	// itself.
	HandleReport(c *gin.Context, path string, root xml.Name, body io.Reader) (int, error)
}

// PropertyProducer is an optional interface for extensions that answer
// PROPFIND names from their own state. It runs after the live property
// producers and before the node's stored properties, so an extension
// value shadows a stale stored one.
type PropertyProducer interface {
	FindProperty(path string, node tree.Node, name xml.Name) (davxml.Property, bool)
}
