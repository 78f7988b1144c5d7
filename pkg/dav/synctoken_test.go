package dav

import (
	"strings"
	"testing"

	"github.com/quilldav/quill/pkg/cache"
	"github.com/stretchr/testify/assert"
)

func newSyncedHandler(t *testing.T) (*Handler, *SyncExtension) {
	t.Helper()
	cp := newStubConf()
	store := cache.NewMemoStore()
	h := newTestHandler(t, cp)
	// Build the extension against the handler's own tree and bus, then
	// register its report the way New would have.
	ext := NewSyncExtension(h.Tree(), store, h.Bus())
	h.extensions = append(h.extensions, ext)
	for _, name := range ext.Reports() {
		h.reports[name] = ext
	}
	return h, ext
}

func syncReportBody(token string) *strings.Reader {
	body := `<?xml version="1.0"?><D:sync-collection xmlns:D="DAV:">` +
		`<D:sync-token>` + token + `</D:sync-token>` +
		`<D:prop><D:getetag/></D:prop></D:sync-collection>`
	return strings.NewReader(body)
}

func TestSyncExtension_TokenAdvances(t *testing.T) {
	asserts := assert.New(t)
	h, ext := newSyncedHandler(t)
	mustMkcol(t, h, "http://example.com/dav/cal")
	mustPutFile(t, h, "http://example.com/dav/cal/a.ics", "BEGIN:VCALENDAR")
	mustPutFile(t, h, "http://example.com/dav/cal/b.ics", "BEGIN:VCALENDAR")

	before := ext.token("/cal")
	asserts.True(strings.HasPrefix(before, "urn:quilldav:sync/"))

	w := serveDAV(h, "DELETE", "http://example.com/dav/cal/a.ics", nil, nil)
	asserts.Equal(204, w.Code)
	afterDelete := ext.token("/cal")
	asserts.NotEqual(before, afterDelete)

	w = serveDAV(h, "COPY", "http://example.com/dav/cal/b.ics", nil,
		map[string]string{"Destination": "http://example.com/dav/cal/c.ics"})
	asserts.Equal(201, w.Code)
	asserts.NotEqual(afterDelete, ext.token("/cal"))
}

func TestSyncExtension_MoveBumpsBothSides(t *testing.T) {
	asserts := assert.New(t)
	h, ext := newSyncedHandler(t)
	mustMkcol(t, h, "http://example.com/dav/a")
	mustMkcol(t, h, "http://example.com/dav/b")
	mustPutFile(t, h, "http://example.com/dav/a/x.txt", "payload")

	srcBefore := ext.token("/a")
	dstBefore := ext.token("/b")

	w := serveDAV(h, "MOVE", "http://example.com/dav/a/x.txt", nil,
		map[string]string{"Destination": "http://example.com/dav/b/x.txt"})
	asserts.Equal(201, w.Code)

	asserts.NotEqual(srcBefore, ext.token("/a"))
	asserts.NotEqual(dstBefore, ext.token("/b"))
}

func TestSyncExtension_Report(t *testing.T) {
	asserts := assert.New(t)
	h, _ := newSyncedHandler(t)
	mustMkcol(t, h, "http://example.com/dav/cal")
	mustPutFile(t, h, "http://example.com/dav/cal/a.ics", "BEGIN:VCALENDAR")
	mustMkcol(t, h, "http://example.com/dav/cal/sub")

	// An initial report without a token lists the full membership
	var issued string
	{
		w := serveDAV(h, "REPORT", "http://example.com/dav/cal", syncReportBody(""), nil)
		asserts.Equal(StatusMulti, w.Code)
		out := w.Body.String()
		asserts.Contains(out, "/dav/cal/a.ics")
		asserts.Contains(out, "/dav/cal/sub")
		asserts.Contains(out, "getetag")

		start := strings.Index(out, "<D:sync-token>")
		end := strings.Index(out, "</D:sync-token>")
		asserts.Greater(start, -1)
		issued = out[start+len("<D:sync-token>") : end]
		asserts.True(strings.HasPrefix(issued, "urn:quilldav:sync/"))
	}

	// Replaying the issued token reports no changes
	{
		w := serveDAV(h, "REPORT", "http://example.com/dav/cal", syncReportBody(issued), nil)
		asserts.Equal(StatusMulti, w.Code)
		asserts.NotContains(w.Body.String(), "a.ics")
		asserts.Contains(w.Body.String(), issued)
	}

	// After a change the same token is stale again
	{
		w := serveDAV(h, "DELETE", "http://example.com/dav/cal/sub", nil, nil)
		asserts.Equal(204, w.Code)
		w = serveDAV(h, "REPORT", "http://example.com/dav/cal", syncReportBody(issued), nil)
		asserts.Equal(StatusMulti, w.Code)
		asserts.Contains(w.Body.String(), "a.ics")
		asserts.NotContains(w.Body.String(), "/dav/cal/sub")
	}

	// Reporting against a file is a conflict
	{
		w := serveDAV(h, "REPORT", "http://example.com/dav/cal/a.ics", syncReportBody(""), nil)
		asserts.Equal(409, w.Code)
	}

	// Missing collection
	{
		w := serveDAV(h, "REPORT", "http://example.com/dav/none", syncReportBody(""), nil)
		asserts.Equal(404, w.Code)
	}
}

func TestSyncExtension_PropfindToken(t *testing.T) {
	asserts := assert.New(t)
	h, ext := newSyncedHandler(t)
	mustMkcol(t, h, "http://example.com/dav/cal")
	mustPutFile(t, h, "http://example.com/dav/cal/a.ics", "BEGIN:VCALENDAR")

	propBody := func(props string) *strings.Reader {
		return strings.NewReader(`<?xml version="1.0"?>` +
			`<D:propfind xmlns:D="DAV:" xmlns:CS="http://calendarserver.org/ns/">` +
			`<D:prop>` + props + `</D:prop></D:propfind>`)
	}

	// The collection answers both the token and the derived ctag from
	// the extension's live counters
	{
		w := serveDAV(h, "PROPFIND", "http://example.com/dav/cal",
			propBody(`<D:sync-token/><CS:getctag/>`), map[string]string{"Depth": "0"})
		asserts.Equal(StatusMulti, w.Code)
		asserts.Contains(w.Header().Get("DAV"), "sync-collection")
		asserts.NotContains(w.Body.String(), "404")
		asserts.Contains(w.Body.String(), ext.token("/cal"))
	}

	// The ctag alone resolves through the same extension lookup
	{
		w := serveDAV(h, "DELETE", "http://example.com/dav/cal/a.ics", nil, nil)
		asserts.Equal(204, w.Code)

		w = serveDAV(h, "PROPFIND", "http://example.com/dav/cal",
			propBody(`<CS:getctag/>`), map[string]string{"Depth": "0"})
		asserts.Equal(StatusMulti, w.Code)
		asserts.NotContains(w.Body.String(), "404")
		bare := strings.TrimPrefix(ext.token("/cal"), "urn:quilldav:sync/")
		asserts.Contains(w.Body.String(), ">"+bare+"<")
	}

	// Files carry no token
	{
		mustPutFile(t, h, "http://example.com/dav/cal/b.ics", "BEGIN:VCALENDAR")
		w := serveDAV(h, "PROPFIND", "http://example.com/dav/cal/b.ics",
			propBody(`<D:sync-token/>`), map[string]string{"Depth": "0"})
		asserts.Equal(StatusMulti, w.Code)
		asserts.Contains(w.Body.String(), "404")
	}
}

func TestSyncExtension_Features(t *testing.T) {
	asserts := assert.New(t)
	h, _ := newSyncedHandler(t)

	w := serveDAV(h, "OPTIONS", "http://example.com/dav/", nil, nil)
	asserts.Contains(w.Header().Get("DAV"), "sync-collection")
}
