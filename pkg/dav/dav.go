// Package dav implements the WebDAV request handling engine: method
// routing, byte range delivery, the write orchestrator with its
// lifecycle events, and the property pipeline of RFC 4918.
package dav

import (
	"encoding/xml"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/quilldav/quill/pkg/conf"
	"github.com/quilldav/quill/pkg/dav/davxml"
	"github.com/quilldav/quill/pkg/events"
	"github.com/quilldav/quill/pkg/logging"
	"github.com/quilldav/quill/pkg/tree"
	"github.com/quilldav/quill/pkg/util"
	"github.com/samber/lo"
)

// supportedMethods lists every method the engine dispatches, used for
// the Allow header and the supported-method-set property.
var supportedMethods = []string{
	"OPTIONS", "GET", "HEAD", "PUT", "DELETE", "MKCOL",
	"COPY", "MOVE", "PROPFIND", "PROPPATCH", "REPORT",
}

// builtinFeatures are the compliance tokens always advertised in the
// DAV header.
var builtinFeatures = []string{"1", "3", "extended-mkcol"}

// Handler serves WebDAV requests against a resource tree. One Handler
// is shared by all requests; per request state lives on the stack.
type Handler struct {
	tree       tree.Tree
	bus        *events.Bus
	conf       conf.ConfigProvider
	l          logging.Logger
	extensions []Extension

	prefix    string
	protected map[xml.Name]struct{}
	reports   map[xml.Name]Extension
}

// New builds a Handler from its dependencies. Protected property names
// come from configuration in Clark notation.
func New(t tree.Tree, bus *events.Bus, cp conf.ConfigProvider, l logging.Logger, exts ...Extension) (*Handler, error) {
	h := &Handler{
		tree:       t,
		bus:        bus,
		conf:       cp,
		l:          l,
		extensions: exts,
		prefix:     strings.TrimSuffix(cp.DAV().Prefix, "/"),
		protected:  make(map[xml.Name]struct{}),
		reports:    make(map[xml.Name]Extension),
	}
	for _, clark := range cp.DAV().ProtectedProps {
		name, err := davxml.ParseClarkName(clark)
		if err != nil {
			return nil, err
		}
		h.protected[name] = struct{}{}
	}
	for _, ext := range exts {
		for _, name := range ext.Reports() {
			h.reports[name] = ext
		}
	}
	return h, nil
}

// Bus exposes the lifecycle event bus so extensions can subscribe.
func (h *Handler) Bus() *events.Bus {
	return h.bus
}

// Tree exposes the resource tree backing the handler.
func (h *Handler) Tree() tree.Tree {
	return h.tree
}

// ServeHTTP dispatches one DAV request. Handlers return a non-zero
// status for the dispatcher to write; 0 means the handler finished the
// response itself.
func (h *Handler) ServeHTTP(c *gin.Context) {
	status, err := fail(errUnsupportedMethod)

	switch c.Request.Method {
	case "OPTIONS":
		status, err = h.handleOptions(c)
	case "GET", "HEAD":
		status, err = h.handleGetHead(c)
	case "DELETE":
		status, err = h.dispatch(c, h.handleDelete)
	case "PUT":
		status, err = h.dispatch(c, h.handlePut)
	case "MKCOL":
		status, err = h.dispatch(c, h.handleMkcol)
	case "MOVE":
		status, err = h.dispatch(c, h.handleMove)
	case "COPY":
		status, err = h.dispatch(c, h.handleCopy)
	case "PROPFIND":
		status, err = h.handlePropfind(c)
	case "PROPPATCH":
		status, err = h.handleProppatch(c)
	case "REPORT":
		status, err = h.handleReport(c)
	}
	if status != 0 {
		c.Writer.WriteHeader(status)
		if status != http.StatusNoContent {
			c.Writer.Write([]byte(StatusText(status)))
		}
	}

	h.logOutcome(c, status, err)
}

func (h *Handler) dispatch(c *gin.Context, fn func(*gin.Context, string) (int, error)) (int, error) {
	reqPath, status, err := h.stripPrefix(c.Request.URL.Path)
	if err != nil {
		return status, err
	}
	return fn(c, reqPath)
}

// stripPrefix removes the configured mount prefix from a request path.
// Paths outside the prefix do not belong to the engine.
func (h *Handler) stripPrefix(p string) (string, int, error) {
	if h.prefix == "" {
		return util.SlashClean(p), 0, nil
	}
	if r := strings.TrimPrefix(p, h.prefix); len(r) < len(p) {
		if r == "" {
			r = "/"
		}
		return util.SlashClean(r), 0, nil
	}
	return p, errPrefixMismatch.Code, errPrefixMismatch
}

// href maps an engine path back to its wire path under the prefix.
func (h *Handler) href(p string) string {
	return h.prefix + p
}

// davFeatures joins the built-in compliance tokens with the configured
// and extension-contributed ones.
func (h *Handler) davFeatures() string {
	features := append([]string(nil), builtinFeatures...)
	features = append(features, h.conf.DAV().Features...)
	for _, ext := range h.extensions {
		features = append(features, ext.Features()...)
	}
	return strings.Join(lo.Uniq(features), ", ")
}

func (h *Handler) handleOptions(c *gin.Context) (int, error) {
	reqPath, status, err := h.stripPrefix(c.Request.URL.Path)
	if err != nil {
		return status, err
	}
	allow := "OPTIONS, MKCOL, PUT"
	if node, err := h.tree.Get(reqPath); err == nil {
		if _, ok := node.(tree.Collection); ok {
			allow = "OPTIONS, DELETE, PROPPATCH, COPY, MOVE, PROPFIND, REPORT, MKCOL"
		} else {
			allow = "OPTIONS, DELETE, PROPPATCH, COPY, MOVE, PROPFIND, REPORT, GET, HEAD, PUT"
		}
	}
	c.Writer.Header().Set("Allow", allow)
	c.Writer.Header().Set("Accept-Ranges", "bytes")
	c.Writer.Header().Set("DAV", h.davFeatures())
	// http://msdn.microsoft.com/en-au/library/cc250217.aspx
	c.Writer.Header().Set("MS-Author-Via", "DAV")
	return 0, nil
}

func (h *Handler) handleGetHead(c *gin.Context) (int, error) {
	reqPath, status, err := h.stripPrefix(c.Request.URL.Path)
	if err != nil {
		return status, err
	}
	node, err := h.tree.Get(reqPath)
	if err != nil {
		if errors.Is(err, tree.ErrNotFound) {
			return http.StatusNotFound, err
		}
		return http.StatusInternalServerError, err
	}
	f, ok := node.(tree.File)
	if !ok {
		return fail(errMethodNotAllowed)
	}
	return serveContent(c.Writer, c.Request, f, h.conf.RangePolicy(), h.conf.DAV().SpeedLimit)
}

const (
	infiniteDepth = -1
	invalidDepth  = -2
)

// parseDepth maps the strings "0", "1" and "infinity" to 0, 1 and
// infiniteDepth. Parsing any other string returns invalidDepth.
func parseDepth(s string) int {
	switch s {
	case "0":
		return 0
	case "1":
		return 1
	case "infinity":
		return infiniteDepth
	}
	return invalidDepth
}

func (h *Handler) handlePropfind(c *gin.Context) (int, error) {
	reqPath, status, err := h.stripPrefix(c.Request.URL.Path)
	if err != nil {
		return status, err
	}
	node, err := h.tree.Get(reqPath)
	if err != nil {
		if errors.Is(err, tree.ErrNotFound) {
			return http.StatusNotFound, err
		}
		return http.StatusInternalServerError, err
	}

	depth := infiniteDepth
	if hdr := c.Request.Header.Get("Depth"); hdr != "" {
		depth = parseDepth(hdr)
		if depth == invalidDepth {
			return fail(errInvalidDepth)
		}
	}
	if depth != 0 && !h.conf.DAV().AllowDepthInfinity {
		// Unbounded traversal of a large tree is a denial of service
		// vector, so deep requests collapse to a single level.
		depth = 1
	}

	pf, status, err := davxml.ReadPropfind(c.Request.Body)
	if err != nil {
		return status, err
	}

	// Windows clients probe compliance through PROPFIND as well as
	// OPTIONS, so the multistatus response advertises the same tokens.
	c.Writer.Header().Set("DAV", h.davFeatures())
	mw := davxml.MultistatusWriter{W: c.Writer}
	walkErr := h.walk(depth, reqPath, node, func(p string, n tree.Node) error {
		href := h.href(p)
		if _, ok := n.(tree.Collection); ok && !strings.HasSuffix(href, "/") {
			href += "/"
		}
		return mw.Write(makePropstatResponse(href, h.propfind(&pf, p, n)))
	})
	closeErr := mw.Close()
	if walkErr != nil {
		return http.StatusInternalServerError, walkErr
	}
	if closeErr != nil {
		return http.StatusInternalServerError, closeErr
	}
	return 0, nil
}

// walk visits node and, depth permitting, its descendants.
func (h *Handler) walk(depth int, p string, node tree.Node, fn func(string, tree.Node) error) error {
	if err := fn(p, node); err != nil {
		return err
	}
	if depth == 0 {
		return nil
	}
	col, ok := node.(tree.Collection)
	if !ok {
		return nil
	}
	if depth == 1 {
		depth = 0
	}
	for _, name := range col.Children() {
		childPath := path.Join(p, name)
		child, err := h.tree.Get(childPath)
		if err != nil {
			continue
		}
		if err := h.walk(depth, childPath, child, fn); err != nil {
			return err
		}
	}
	return nil
}

// wantsMinimal reports whether the client asked for a minimal success
// response, through either the Prefer or the legacy Brief header.
func wantsMinimal(r *http.Request) bool {
	if strings.Contains(strings.ToLower(r.Header.Get("Prefer")), "return=minimal") {
		return true
	}
	return strings.EqualFold(r.Header.Get("Brief"), "t")
}

func (h *Handler) handleProppatch(c *gin.Context) (int, error) {
	reqPath, status, err := h.stripPrefix(c.Request.URL.Path)
	if err != nil {
		return status, err
	}
	node, err := h.tree.Get(reqPath)
	if err != nil {
		if errors.Is(err, tree.ErrNotFound) {
			return http.StatusNotFound, err
		}
		return http.StatusInternalServerError, err
	}

	patches, status, err := davxml.ReadProppatch(c.Request.Body)
	if err != nil {
		return status, err
	}
	pp, err := h.patchProps(node, patches)
	if err != nil {
		return http.StatusInternalServerError, err
	}

	c.Writer.Header().Set("Vary", "Brief,Prefer")
	order, results := pp.Result()
	if wantsMinimal(c.Request) && lo.EveryBy(lo.Values(results), func(code int) bool { return code <= 299 }) {
		return http.StatusNoContent, nil
	}

	byCode := make(map[int][]xml.Name)
	var codes []int
	for _, name := range lo.Uniq(order) {
		code := results[name]
		if _, seen := byCode[code]; !seen {
			codes = append(codes, code)
		}
		byCode[code] = append(byCode[code], name)
	}
	var pstats []davxml.Propstat
	for _, code := range codes {
		pstat := davxml.Propstat{Status: davxml.StatusLine(code)}
		for _, name := range byCode[code] {
			pstat.Prop = append(pstat.Prop, davxml.Property{XMLName: name})
		}
		pstats = append(pstats, pstat)
	}

	mw := davxml.MultistatusWriter{W: c.Writer}
	writeErr := mw.Write(makePropstatResponse(h.href(reqPath), pstats))
	closeErr := mw.Close()
	if writeErr != nil {
		return http.StatusInternalServerError, writeErr
	}
	if closeErr != nil {
		return http.StatusInternalServerError, closeErr
	}
	return 0, nil
}

func (h *Handler) handleReport(c *gin.Context) (int, error) {
	reqPath, status, err := h.stripPrefix(c.Request.URL.Path)
	if err != nil {
		return status, err
	}
	root, body, status, err := davxml.ReadReportRoot(c.Request.Body)
	if err != nil {
		return status, err
	}
	ext, ok := h.reports[root]
	if !ok {
		return fail(errReportNotSupported)
	}
	return ext.HandleReport(c, reqPath, root, body)
}

// logOutcome logs a failed request with severity derived from the
// status class: client errors are informational, server errors are
// errors, anything unclassifiable is escalated.
func (h *Handler) logOutcome(c *gin.Context, status int, err error) {
	if err == nil {
		return
	}
	l := logging.FromContext(c.Request.Context())
	switch {
	case status >= 400 && status < 500:
		l.Info("%s %q failed with status %d: %s", c.Request.Method, c.Request.URL.Path, status, err)
	case status >= 500:
		l.Error("%s %q failed with status %d: %s", c.Request.Method, c.Request.URL.Path, status, err)
	default:
		l.Error("%s %q failed after response was written: %s", c.Request.Method, c.Request.URL.Path, err)
	}
}
