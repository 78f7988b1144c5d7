// Package tree defines the abstract resource tree consumed by the DAV
// engine. Implementations must provide their own concurrency safety; the
// engine treats them as arbitrary synchronous dependencies.
package tree

import (
	"encoding/xml"
	"errors"
	"io"
	"time"

	"github.com/quilldav/quill/pkg/dav/davxml"
)

var (
	// ErrNotFound is returned when a path does not resolve to a node.
	ErrNotFound = errors.New("tree: node not found")
	// ErrExists is returned when a creation target already exists.
	ErrExists = errors.New("tree: node already exists")
	// ErrNotCollection is returned when a collection operation targets a
	// non-collection node.
	ErrNotCollection = errors.New("tree: not a collection")
)

// Node is a single resource in the tree, identified by a slash-delimited
// path. Capabilities beyond name and modification time are expressed by
// the File, Collection, PropertyStore and Quota interfaces; the engine
// checks them explicitly per operation.
type Node interface {
	Name() string
	ModTime() time.Time
}

// File is a node with readable content.
type File interface {
	Node

	// Open returns a reader over the file content. The reader may or may
	// not implement io.Seeker; the engine degrades to single-range
	// skip-reads when it does not.
	Open() (io.ReadCloser, error)
	Size() int64
	ContentType() string
	ETag() string
}

// Collection is a node containing child nodes.
type Collection interface {
	Node

	// Children returns the names of the direct children.
	Children() []string
}

// PropertyStore is a node holding its own (dead) properties.
type PropertyStore interface {
	// GetProperties returns the stored properties for the given names in
	// one batched call. A nil name list requests all stored properties.
	GetProperties(names []xml.Name) (map[xml.Name]davxml.Property, error)

	// ApplyPropertyPatch lets the node accept or reject the still
	// pending mutations of a PROPPATCH. Names the node does not claim
	// keep their default result.
	ApplyPropertyPatch(patch *PropPatch) error
}

// Quota is a node reporting storage usage.
type Quota interface {
	// QuotaInfo returns used and available bytes.
	QuotaInfo() (used, available int64, err error)
}

// Tree is the storage backend boundary of the engine.
type Tree interface {
	Exists(path string) bool
	Get(path string) (Node, error)
	Delete(path string) error
	Move(src, dst string) error
	Copy(src, dst string) error

	// CreateFile and UpdateFile stream content into the backend. A false
	// handled flag is a signal, not an error: the backend took over the
	// response and the engine must not write a further status.
	CreateFile(path string, body io.Reader) (etag string, handled bool, err error)
	UpdateFile(path string, body io.Reader) (etag string, handled bool, err error)

	// CreateCollection creates a collection with the requested resource
	// type and extra properties. A nil failure map means success; a
	// non-nil map carries one status code per rejected property.
	CreateCollection(path string, resourceType []xml.Name, props []davxml.Property) (map[xml.Name]int, error)
}

// PropPatch carries the ordered mutations of one PROPPATCH request and
// their per-property status codes. Mutations whose status is already set
// are excluded from further handling.
type PropPatch struct {
	mutations []davxml.Proppatch
	order     []xml.Name
	result    map[xml.Name]int
}

// NewPropPatch builds a pending patch from parsed mutation instructions.
func NewPropPatch(mutations []davxml.Proppatch) *PropPatch {
	pp := &PropPatch{
		mutations: mutations,
		result:    make(map[xml.Name]int),
	}
	for _, m := range mutations {
		for _, p := range m.Props {
			pp.order = append(pp.order, p.XMLName)
		}
	}
	return pp
}

// Remaining returns the mutations that no stage has claimed yet, in
// request order.
func (pp *PropPatch) Remaining() []davxml.Proppatch {
	var out []davxml.Proppatch
	for _, m := range pp.mutations {
		keep := davxml.Proppatch{Remove: m.Remove}
		for _, p := range m.Props {
			if _, done := pp.result[p.XMLName]; !done {
				keep.Props = append(keep.Props, p)
			}
		}
		if len(keep.Props) > 0 {
			out = append(out, keep)
		}
	}
	return out
}

// SetResult records a status code for one property name, claiming it.
func (pp *PropPatch) SetResult(name xml.Name, status int) {
	pp.result[name] = status
}

// Result returns the final per-property status codes in request order.
// Properties neither explicitly failed nor explicitly handled default to
// 200.
func (pp *PropPatch) Result() ([]xml.Name, map[xml.Name]int) {
	res := make(map[xml.Name]int, len(pp.order))
	for _, name := range pp.order {
		if status, ok := pp.result[name]; ok {
			res[name] = status
		} else {
			res[name] = 200
		}
	}
	return pp.order, res
}
