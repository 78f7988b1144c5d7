package dav

import (
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/quilldav/quill/pkg/dav/davxml"
	"github.com/quilldav/quill/pkg/tree"
	"github.com/samber/lo"
)

var (
	resourceTypeName   = xml.Name{Space: "DAV:", Local: "resourcetype"}
	syncTokenName      = xml.Name{Space: "DAV:", Local: "sync-token"}
	quillSyncTokenName = xml.Name{Space: "urn:quilldav:ns", Local: "sync-token"}
	ctagName           = xml.Name{Space: "http://calendarserver.org/ns/", Local: "getctag"}
)

// syncTokenLinkPrefix wraps sync tokens stored as links. The ctag is
// the bare token with the prefix stripped.
const syncTokenLinkPrefix = "urn:quilldav:sync/"

// propContext is the per-call state of one property resolution. The
// quota lookup is memoized so that quota-used-bytes and
// quota-available-bytes trigger a single backend call.
type propContext struct {
	path string
	node tree.Node

	quotaDone  bool
	quotaUsed  int64
	quotaAvail int64
	quotaErr   error
}

func (pc *propContext) quota() (used, available int64, err error) {
	if !pc.quotaDone {
		pc.quotaDone = true
		if q, ok := pc.node.(tree.Quota); ok {
			pc.quotaUsed, pc.quotaAvail, pc.quotaErr = q.QuotaInfo()
		}
	}
	return pc.quotaUsed, pc.quotaAvail, pc.quotaErr
}

// propClaim is one resolved property. A false found applies the
// default policy and the name reports 404.
type propClaim struct {
	prop  davxml.Property
	found bool
}

// propResults accumulates claimed property values for the requested
// name set. A name is claimed at most once; later stages cannot
// overwrite an earlier claim.
type propResults struct {
	order   []xml.Name
	claimed map[xml.Name]propClaim
}

func newPropResults(names []xml.Name) *propResults {
	r := &propResults{claimed: make(map[xml.Name]propClaim)}
	r.order = lo.Uniq(names)
	return r
}

func (r *propResults) claim(name xml.Name, prop davxml.Property, found bool) {
	if _, dup := r.claimed[name]; dup {
		return
	}
	r.claimed[name] = propClaim{prop: prop, found: found}
}

func (r *propResults) value(name xml.Name) (davxml.Property, bool) {
	c, ok := r.claimed[name]
	return c.prop, ok && c.found
}

func (r *propResults) pending() []xml.Name {
	return lo.Filter(r.order, func(n xml.Name, _ int) bool {
		_, done := r.claimed[n]
		return !done
	})
}

func (r *propResults) isPending(name xml.Name) bool {
	if _, done := r.claimed[name]; done {
		return false
	}
	return lo.Contains(r.order, name)
}

// propStage is one producer in the resolution chain. Stages run in
// ascending priority order over the shared result set.
type propStage struct {
	priority int
	run      func(h *Handler, pc *propContext, res *propResults)
}

var propStages = []propStage{
	{priority: 10, run: liveStage},
	{priority: 30, run: extensionStage},
	{priority: 50, run: storedStage},
	{priority: 90, run: ctagStage},
}

func init() {
	sort.SliceStable(propStages, func(i, j int) bool {
		return propStages[i].priority < propStages[j].priority
	})
}

// liveProp resolves a server-computed property. applies gates the name
// on node capability; findFn may still decline with a false ok, which
// falls through to later stages.
type liveProp struct {
	applies func(n tree.Node) bool
	findFn  func(h *Handler, pc *propContext) (string, bool)
}

var liveProps = map[xml.Name]liveProp{
	{Space: "DAV:", Local: "getlastmodified"}:       {anyNode, findLastModified},
	{Space: "DAV:", Local: "getcontentlength"}:      {fileNode, findContentLength},
	{Space: "DAV:", Local: "getcontenttype"}:        {fileNode, findContentType},
	{Space: "DAV:", Local: "getetag"}:               {fileNode, findETag},
	{Space: "DAV:", Local: "resourcetype"}:          {anyNode, findResourceType},
	{Space: "DAV:", Local: "quota-used-bytes"}:      {quotaNode, findQuotaUsed},
	{Space: "DAV:", Local: "quota-available-bytes"}: {quotaNode, findQuotaAvailable},
	{Space: "DAV:", Local: "supported-report-set"}:  {anyNode, findSupportedReportSet},
	{Space: "DAV:", Local: "supported-method-set"}:  {anyNode, findSupportedMethodSet},
}

func anyNode(tree.Node) bool { return true }

func fileNode(n tree.Node) bool {
	_, ok := n.(tree.File)
	return ok
}

func quotaNode(n tree.Node) bool {
	_, ok := n.(tree.Quota)
	return ok
}

func liveStage(h *Handler, pc *propContext, res *propResults) {
	for _, name := range res.pending() {
		lp, ok := liveProps[name]
		if !ok || !lp.applies(pc.node) {
			continue
		}
		if value, ok := lp.findFn(h, pc); ok {
			res.claim(name, davxml.Property{XMLName: name, InnerXML: []byte(value)}, true)
		}
	}
}

// extensionStage offers still-pending names to every extension that
// produces properties, in registration order.
func extensionStage(h *Handler, pc *propContext, res *propResults) {
	for _, ext := range h.extensions {
		producer, ok := ext.(PropertyProducer)
		if !ok {
			continue
		}
		for _, name := range res.pending() {
			if prop, ok := producer.FindProperty(pc.path, pc.node, name); ok {
				res.claim(name, prop, true)
			}
		}
	}
}

// storedStage asks the node's own property store for everything the
// live producers left unresolved, in one batched call.
func storedStage(h *Handler, pc *propContext, res *propResults) {
	ps, ok := pc.node.(tree.PropertyStore)
	if !ok {
		return
	}
	pending := res.pending()
	if len(pending) == 0 {
		return
	}
	stored, err := ps.GetProperties(pending)
	if err != nil {
		return
	}
	for name, prop := range stored {
		res.claim(name, prop, true)
	}
}

// ctagStage resolves the collection tag last so it can reuse a sync
// token already claimed in this call. Failing that it resolves the two
// sync-token spellings itself and unwraps a link-typed value.
func ctagStage(h *Handler, pc *propContext, res *propResults) {
	if !res.isPending(ctagName) {
		return
	}
	var raw string
	if token, ok := res.value(syncTokenName); ok {
		raw = string(token.InnerXML)
	} else {
		raw = lookupSyncToken(h, pc)
	}
	if raw == "" {
		return
	}
	raw = strings.TrimPrefix(raw, syncTokenLinkPrefix)
	res.claim(ctagName, davxml.Property{XMLName: ctagName, InnerXML: []byte(raw)}, true)
}

// lookupSyncToken finds a sync token when the result set holds none:
// property-producing extensions are the authority, the node's own store
// is the fallback, each tried with both token spellings.
func lookupSyncToken(h *Handler, pc *propContext) string {
	names := []xml.Name{syncTokenName, quillSyncTokenName}
	for _, ext := range h.extensions {
		producer, ok := ext.(PropertyProducer)
		if !ok {
			continue
		}
		for _, name := range names {
			if p, ok := producer.FindProperty(pc.path, pc.node, name); ok {
				return string(p.InnerXML)
			}
		}
	}
	if ps, ok := pc.node.(tree.PropertyStore); ok {
		if stored, err := ps.GetProperties(names); err == nil {
			for _, name := range names {
				if p, ok := stored[name]; ok {
					return string(p.InnerXML)
				}
			}
		}
	}
	return ""
}

func findLastModified(h *Handler, pc *propContext) (string, bool) {
	return pc.node.ModTime().UTC().Format(http.TimeFormat), true
}

func findContentLength(h *Handler, pc *propContext) (string, bool) {
	f, ok := pc.node.(tree.File)
	if !ok {
		return "", false
	}
	return strconv.FormatInt(f.Size(), 10), true
}

func findContentType(h *Handler, pc *propContext) (string, bool) {
	f, ok := pc.node.(tree.File)
	if !ok || f.ContentType() == "" {
		return "", false
	}
	return davxml.Escape(f.ContentType()), true
}

func findETag(h *Handler, pc *propContext) (string, bool) {
	f, ok := pc.node.(tree.File)
	if !ok || f.ETag() == "" {
		return "", false
	}
	return davxml.Escape(f.ETag()), true
}

func findResourceType(h *Handler, pc *propContext) (string, bool) {
	if _, ok := pc.node.(tree.Collection); ok {
		return `<D:collection xmlns:D="DAV:"/>`, true
	}
	return "", true
}

func findQuotaUsed(h *Handler, pc *propContext) (string, bool) {
	used, _, err := pc.quota()
	if err != nil {
		return "", false
	}
	return strconv.FormatInt(used, 10), true
}

func findQuotaAvailable(h *Handler, pc *propContext) (string, bool) {
	_, available, err := pc.quota()
	if err != nil {
		return "", false
	}
	return strconv.FormatInt(available, 10), true
}

func findSupportedReportSet(h *Handler, pc *propContext) (string, bool) {
	var sb strings.Builder
	for _, ext := range h.extensions {
		for _, report := range ext.Reports() {
			fmt.Fprintf(&sb, `<D:supported-report><D:report><%s xmlns="%s"/></D:report></D:supported-report>`,
				report.Local, davxml.Escape(report.Space))
		}
	}
	return sb.String(), true
}

func findSupportedMethodSet(h *Handler, pc *propContext) (string, bool) {
	var sb strings.Builder
	for _, m := range supportedMethods {
		fmt.Fprintf(&sb, `<D:supported-method name="%s"/>`, m)
	}
	return sb.String(), true
}

// propfind resolves one parsed PROPFIND body against one node and
// returns the propstats for its response element. Depth expansion is
// the caller's concern.
func (h *Handler) propfind(pf *davxml.Propfind, path string, node tree.Node) []davxml.Propstat {
	switch {
	case pf.Propname != nil:
		pstat := davxml.Propstat{Status: davxml.StatusLine(http.StatusOK)}
		for _, name := range h.propnames(node) {
			pstat.Prop = append(pstat.Prop, davxml.Property{XMLName: name})
		}
		return []davxml.Propstat{pstat}
	case pf.Allprop != nil:
		names := lo.Union(h.propnames(node), pf.IncludeNames())
		return h.resolveProps(path, node, names)
	default:
		return h.resolveProps(path, node, pf.Names())
	}
}

// resolveProps runs the producer chain for the requested names and
// groups the outcome by status. Request order is preserved inside each
// group.
func (h *Handler) resolveProps(path string, node tree.Node, names []xml.Name) []davxml.Propstat {
	pc := &propContext{path: path, node: node}
	res := newPropResults(names)
	for _, stage := range propStages {
		stage.run(h, pc, res)
	}

	found := davxml.Propstat{Status: davxml.StatusLine(http.StatusOK)}
	notFound := davxml.Propstat{Status: davxml.StatusLine(http.StatusNotFound)}
	for _, name := range res.order {
		if c, ok := res.claimed[name]; ok && c.found {
			found.Prop = append(found.Prop, c.prop)
		} else {
			notFound.Prop = append(notFound.Prop, davxml.Property{XMLName: name})
		}
	}

	var out []davxml.Propstat
	for _, pstat := range []davxml.Propstat{found, notFound} {
		if len(pstat.Prop) > 0 {
			out = append(out, pstat)
		}
	}
	if len(out) == 0 {
		out = append(out, found)
	}
	return out
}

// propnames returns every name the node can answer: the applicable
// live properties plus whatever its own store holds.
func (h *Handler) propnames(node tree.Node) []xml.Name {
	var names []xml.Name
	for name, lp := range liveProps {
		if lp.applies(node) {
			names = append(names, name)
		}
	}
	if ps, ok := node.(tree.PropertyStore); ok {
		if stored, err := ps.GetProperties(nil); err == nil {
			for name := range stored {
				names = append(names, name)
			}
		}
	}
	sort.Slice(names, func(i, j int) bool {
		if names[i].Space != names[j].Space {
			return names[i].Space < names[j].Space
		}
		return names[i].Local < names[j].Local
	})
	return names
}

// patchProps applies one PROPPATCH to a node. Protected names fail at
// 403 before any delegation; the node's own store then rules on what
// is left, and untouched names default to 200.
func (h *Handler) patchProps(node tree.Node, patches []davxml.Proppatch) (*tree.PropPatch, error) {
	pp := tree.NewPropPatch(patches)
	for _, m := range patches {
		for _, p := range m.Props {
			if _, protected := h.protected[p.XMLName]; protected {
				pp.SetResult(p.XMLName, http.StatusForbidden)
			}
		}
	}
	if ps, ok := node.(tree.PropertyStore); ok {
		if err := ps.ApplyPropertyPatch(pp); err != nil {
			return nil, err
		}
	}
	return pp, nil
}

func makePropstatResponse(href string, pstats []davxml.Propstat) *davxml.Response {
	resp := davxml.Response{
		Href:     []string{(&url.URL{Path: href}).EscapedPath()},
		Propstat: pstats,
	}
	return &resp
}
