package dav

import (
	"encoding/xml"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/quilldav/quill/pkg/dav/davxml"
	"github.com/quilldav/quill/pkg/tree"
	"github.com/stretchr/testify/assert"
)

type fakeNode struct {
	name    string
	modTime time.Time
}

func (n *fakeNode) Name() string       { return n.name }
func (n *fakeNode) ModTime() time.Time { return n.modTime }

type fakeQuotaNode struct {
	fakeNode
	used, available int64
	calls           int
}

func (n *fakeQuotaNode) QuotaInfo() (int64, int64, error) {
	n.calls++
	return n.used, n.available, nil
}

type fakeStoreNode struct {
	fakeNode
	props map[xml.Name]davxml.Property

	getCalls [][]xml.Name
	patches  []*tree.PropPatch
}

func (n *fakeStoreNode) GetProperties(names []xml.Name) (map[xml.Name]davxml.Property, error) {
	n.getCalls = append(n.getCalls, names)
	if names == nil {
		return n.props, nil
	}
	out := make(map[xml.Name]davxml.Property)
	for _, name := range names {
		if p, ok := n.props[name]; ok {
			out[name] = p
		}
	}
	return out, nil
}

func (n *fakeStoreNode) ApplyPropertyPatch(patch *tree.PropPatch) error {
	n.patches = append(n.patches, patch)
	return nil
}

func findProp(pstats []davxml.Propstat, status string, name xml.Name) (davxml.Property, bool) {
	for _, pstat := range pstats {
		if !strings.Contains(pstat.Status, status) {
			continue
		}
		for _, p := range pstat.Prop {
			if p.XMLName == name {
				return p, true
			}
		}
	}
	return davxml.Property{}, false
}

func TestResolveProps_LiveBeforeStored(t *testing.T) {
	asserts := assert.New(t)
	h := newTestHandler(t, newStubConf())

	modTime := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	lastMod := xml.Name{Space: "DAV:", Local: "getlastmodified"}
	node := &fakeStoreNode{
		fakeNode: fakeNode{name: "n", modTime: modTime},
		props: map[xml.Name]davxml.Property{
			lastMod: {XMLName: lastMod, InnerXML: []byte("stale stored value")},
		},
	}

	pstats := h.resolveProps("/n", node, []xml.Name{lastMod})
	p, ok := findProp(pstats, "200", lastMod)
	asserts.True(ok)
	asserts.Equal(modTime.Format(http.TimeFormat), string(p.InnerXML))

	// The live producer claimed the name, so the store was never asked
	asserts.Empty(node.getCalls)
}

func TestResolveProps_QuotaBatched(t *testing.T) {
	asserts := assert.New(t)
	h := newTestHandler(t, newStubConf())

	node := &fakeQuotaNode{used: 300, available: 700}
	used := xml.Name{Space: "DAV:", Local: "quota-used-bytes"}
	avail := xml.Name{Space: "DAV:", Local: "quota-available-bytes"}

	pstats := h.resolveProps("/n", node, []xml.Name{used, avail})

	p, ok := findProp(pstats, "200", used)
	asserts.True(ok)
	asserts.Equal("300", string(p.InnerXML))
	p, ok = findProp(pstats, "200", avail)
	asserts.True(ok)
	asserts.Equal("700", string(p.InnerXML))

	// Both names resolve through one backend lookup
	asserts.Equal(1, node.calls)
}

func TestResolveProps_UnknownName(t *testing.T) {
	asserts := assert.New(t)
	h := newTestHandler(t, newStubConf())

	bogus := xml.Name{Space: "urn:example", Local: "bogus"}
	pstats := h.resolveProps("/n", &fakeNode{name: "n"}, []xml.Name{bogus})

	_, ok := findProp(pstats, "404", bogus)
	asserts.True(ok)
}

func TestResolveProps_CtagReusesSyncToken(t *testing.T) {
	asserts := assert.New(t)
	h := newTestHandler(t, newStubConf())

	// When the sync token was requested alongside, the ctag unwraps the
	// already claimed value instead of asking the store again
	{
		node := &fakeStoreNode{
			props: map[xml.Name]davxml.Property{
				syncTokenName: {XMLName: syncTokenName, InnerXML: []byte("urn:quilldav:sync/42")},
			},
		}
		pstats := h.resolveProps("/n", node, []xml.Name{syncTokenName, ctagName})

		p, ok := findProp(pstats, "200", syncTokenName)
		asserts.True(ok)
		asserts.Equal("urn:quilldav:sync/42", string(p.InnerXML))
		p, ok = findProp(pstats, "200", ctagName)
		asserts.True(ok)
		asserts.Equal("42", string(p.InnerXML))
		asserts.Len(node.getCalls, 1)
	}

	// Without a claimed token the ctag falls back to a dedicated lookup
	// covering both token spellings
	{
		node := &fakeStoreNode{
			props: map[xml.Name]davxml.Property{
				quillSyncTokenName: {XMLName: quillSyncTokenName, InnerXML: []byte("urn:quilldav:sync/7")},
			},
		}
		pstats := h.resolveProps("/n", node, []xml.Name{ctagName})

		p, ok := findProp(pstats, "200", ctagName)
		asserts.True(ok)
		asserts.Equal("7", string(p.InnerXML))
		asserts.Len(node.getCalls, 2)
		asserts.Equal([]xml.Name{syncTokenName, quillSyncTokenName}, node.getCalls[1])
	}
}

func TestPatchProps_Protected(t *testing.T) {
	asserts := assert.New(t)
	cp := newStubConf()
	cp.dav.ProtectedProps = []string{"{DAV:}getetag"}
	h := newTestHandler(t, cp)

	etagName := xml.Name{Space: "DAV:", Local: "getetag"}
	displayName := xml.Name{Space: "DAV:", Local: "displayname"}
	node := &fakeStoreNode{}

	pp, err := h.patchProps(node, []davxml.Proppatch{{
		Props: []davxml.Property{
			{XMLName: etagName, InnerXML: []byte("forged")},
			{XMLName: displayName, InnerXML: []byte("ok")},
		},
	}})
	asserts.NoError(err)

	_, results := pp.Result()
	asserts.Equal(403, results[etagName])
	asserts.Equal(200, results[displayName])

	// The protected name never reached the store
	asserts.Len(node.patches, 1)
	remaining := node.patches[0].Remaining()
	asserts.Len(remaining, 1)
	asserts.Len(remaining[0].Props, 1)
	asserts.Equal(displayName, remaining[0].Props[0].XMLName)
}

func TestHandler_ProppatchMinimal(t *testing.T) {
	asserts := assert.New(t)
	h := newTestHandler(t, newStubConf())
	mustPutFile(t, h, "http://example.com/dav/a.txt", "content")

	body := `<?xml version="1.0"?><D:propertyupdate xmlns:D="DAV:"><D:set><D:prop>` +
		`<D:displayname>renamed</D:displayname></D:prop></D:set></D:propertyupdate>`

	// All-success with return=minimal collapses to 204
	{
		w := serveDAV(h, "PROPPATCH", "http://example.com/dav/a.txt",
			strings.NewReader(body), map[string]string{"Prefer": "return=minimal"})
		asserts.Equal(204, w.Code)
		asserts.Equal(0, w.Body.Len())
		asserts.Equal("Brief,Prefer", w.Header().Get("Vary"))
	}

	// The legacy Brief header behaves the same
	{
		w := serveDAV(h, "PROPPATCH", "http://example.com/dav/a.txt",
			strings.NewReader(body), map[string]string{"Brief": "t"})
		asserts.Equal(204, w.Code)
	}

	// Without the preference the outcome is a full multistatus
	{
		w := serveDAV(h, "PROPPATCH", "http://example.com/dav/a.txt",
			strings.NewReader(body), nil)
		asserts.Equal(StatusMulti, w.Code)
		asserts.Contains(w.Body.String(), "displayname")
		asserts.Contains(w.Body.String(), "200 OK")
	}

	// A protected target keeps the 403 even under the preference
	{
		cp := newStubConf()
		cp.dav.ProtectedProps = []string{"{DAV:}displayname"}
		guarded := newTestHandler(t, cp)
		mustPutFile(t, guarded, "http://example.com/dav/a.txt", "content")

		w := serveDAV(guarded, "PROPPATCH", "http://example.com/dav/a.txt",
			strings.NewReader(body), map[string]string{"Prefer": "return=minimal"})
		asserts.Equal(StatusMulti, w.Code)
		asserts.Contains(w.Body.String(), "403")
	}
}

func TestHandler_PropfindBodies(t *testing.T) {
	asserts := assert.New(t)
	h := newTestHandler(t, newStubConf())
	mustPutFile(t, h, "http://example.com/dav/a.txt", "hello")

	// Named props split into found and missing groups
	{
		body := `<?xml version="1.0"?><D:propfind xmlns:D="DAV:"><D:prop>` +
			`<D:getcontentlength/><D:nope/></D:prop></D:propfind>`
		w := serveDAV(h, "PROPFIND", "http://example.com/dav/a.txt",
			strings.NewReader(body), map[string]string{"Depth": "0"})
		asserts.Equal(StatusMulti, w.Code)
		asserts.Contains(w.Body.String(), ">5</")
		asserts.Contains(w.Body.String(), "404")
		asserts.Contains(w.Header().Get("DAV"), "1, 3, extended-mkcol")
	}

	// An empty body means allprop
	{
		w := serveDAV(h, "PROPFIND", "http://example.com/dav/a.txt", nil,
			map[string]string{"Depth": "0"})
		asserts.Equal(StatusMulti, w.Code)
		asserts.Contains(w.Body.String(), "getlastmodified")
		asserts.Contains(w.Body.String(), "getetag")
	}

	// propname lists names without values
	{
		body := `<?xml version="1.0"?><D:propfind xmlns:D="DAV:"><D:propname/></D:propfind>`
		w := serveDAV(h, "PROPFIND", "http://example.com/dav/a.txt",
			strings.NewReader(body), map[string]string{"Depth": "0"})
		asserts.Equal(StatusMulti, w.Code)
		asserts.Contains(w.Body.String(), "getcontentlength")
		asserts.NotContains(w.Body.String(), ">5</")
	}
}
