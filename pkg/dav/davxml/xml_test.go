package davxml

import (
	"encoding/xml"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReadPropfind(t *testing.T) {
	asserts := assert.New(t)

	// Named props
	{
		body := `<?xml version="1.0"?><D:propfind xmlns:D="DAV:"><D:prop>` +
			`<D:getetag/><D:getcontentlength/></D:prop></D:propfind>`
		pf, status, err := ReadPropfind(strings.NewReader(body))
		asserts.NoError(err)
		asserts.Equal(0, status)
		asserts.Equal([]xml.Name{
			{Space: "DAV:", Local: "getetag"},
			{Space: "DAV:", Local: "getcontentlength"},
		}, pf.Names())
	}

	// An empty body means allprop
	{
		pf, status, err := ReadPropfind(strings.NewReader(""))
		asserts.NoError(err)
		asserts.Equal(0, status)
		asserts.NotNil(pf.Allprop)
	}

	// allprop with include
	{
		body := `<?xml version="1.0"?><D:propfind xmlns:D="DAV:"><D:allprop/>` +
			`<D:include><D:supported-report-set/></D:include></D:propfind>`
		pf, status, err := ReadPropfind(strings.NewReader(body))
		asserts.NoError(err)
		asserts.Equal(0, status)
		asserts.NotNil(pf.Allprop)
		asserts.Equal([]xml.Name{{Space: "DAV:", Local: "supported-report-set"}}, pf.IncludeNames())
	}

	// propname
	{
		body := `<?xml version="1.0"?><D:propfind xmlns:D="DAV:"><D:propname/></D:propfind>`
		pf, status, err := ReadPropfind(strings.NewReader(body))
		asserts.NoError(err)
		asserts.Equal(0, status)
		asserts.NotNil(pf.Propname)
	}

	// Invalid combinations
	{
		for _, body := range []string{
			// include without allprop
			`<D:propfind xmlns:D="DAV:"><D:prop><D:getetag/></D:prop>` +
				`<D:include><D:x/></D:include></D:propfind>`,
			// allprop next to prop
			`<D:propfind xmlns:D="DAV:"><D:allprop/><D:prop><D:getetag/></D:prop></D:propfind>`,
			// prop next to propname
			`<D:propfind xmlns:D="DAV:"><D:propname/><D:prop><D:getetag/></D:prop></D:propfind>`,
			// empty prop
			`<D:propfind xmlns:D="DAV:"><D:prop></D:prop></D:propfind>`,
			// truncated document
			`<D:propfind xmlns:D="DAV:">`,
			// not XML at all
			`hello`,
		} {
			_, status, err := ReadPropfind(strings.NewReader(body))
			asserts.Error(err, "body: %s", body)
			asserts.Equal(400, status, "body: %s", body)
		}
	}
}

func TestReadProppatch(t *testing.T) {
	asserts := assert.New(t)

	// Mixed set and remove keep request order
	{
		body := `<?xml version="1.0"?><D:propertyupdate xmlns:D="DAV:">` +
			`<D:set><D:prop><Z:color xmlns:Z="urn:example">red</Z:color></D:prop></D:set>` +
			`<D:remove><D:prop><Z:shape xmlns:Z="urn:example"/></D:prop></D:remove>` +
			`</D:propertyupdate>`
		patches, status, err := ReadProppatch(strings.NewReader(body))
		asserts.NoError(err)
		asserts.Equal(0, status)
		asserts.Len(patches, 2)

		asserts.False(patches[0].Remove)
		asserts.Equal(xml.Name{Space: "urn:example", Local: "color"}, patches[0].Props[0].XMLName)
		asserts.Equal("red", string(patches[0].Props[0].InnerXML))

		asserts.True(patches[1].Remove)
		asserts.Equal(xml.Name{Space: "urn:example", Local: "shape"}, patches[1].Props[0].XMLName)
	}

	// A remove carrying a value is invalid
	{
		body := `<D:propertyupdate xmlns:D="DAV:"><D:remove><D:prop>` +
			`<Z:shape xmlns:Z="urn:example">round</Z:shape></D:prop></D:remove></D:propertyupdate>`
		_, status, err := ReadProppatch(strings.NewReader(body))
		asserts.Error(err)
		asserts.Equal(400, status)
	}

	// Unknown instruction elements are invalid
	{
		body := `<D:propertyupdate xmlns:D="DAV:"><D:replace><D:prop>` +
			`<Z:shape xmlns:Z="urn:example"/></D:prop></D:replace></D:propertyupdate>`
		_, status, err := ReadProppatch(strings.NewReader(body))
		asserts.Error(err)
		asserts.Equal(400, status)
	}
}

func TestReadMkcol(t *testing.T) {
	asserts := assert.New(t)

	// Resource type plus extra creation properties
	{
		body := `<?xml version="1.0"?><D:mkcol xmlns:D="DAV:"><D:set><D:prop>` +
			`<D:resourcetype><D:collection/></D:resourcetype>` +
			`<D:displayname>Lists</D:displayname>` +
			`</D:prop></D:set></D:mkcol>`
		mk, status, err := ReadMkcol(strings.NewReader(body))
		asserts.NoError(err)
		asserts.Equal(0, status)
		asserts.Equal([]xml.Name{{Space: "DAV:", Local: "collection"}}, mk.ResourceType)
		asserts.Len(mk.Props, 1)
		asserts.Equal("displayname", mk.Props[0].XMLName.Local)
		asserts.Equal("Lists", string(mk.Props[0].InnerXML))
	}

	// A body without resourcetype is invalid
	{
		body := `<D:mkcol xmlns:D="DAV:"><D:set><D:prop>` +
			`<D:displayname>Lists</D:displayname></D:prop></D:set></D:mkcol>`
		_, status, err := ReadMkcol(strings.NewReader(body))
		asserts.Error(err)
		asserts.Equal(400, status)
	}
}

func TestReadReportRoot(t *testing.T) {
	asserts := assert.New(t)

	// The sniffed body replays in full for the claiming extension
	{
		body := `<?xml version="1.0"?><D:sync-collection xmlns:D="DAV:">` +
			`<D:sync-token>tok</D:sync-token></D:sync-collection>`
		root, replay, status, err := ReadReportRoot(strings.NewReader(body))
		asserts.NoError(err)
		asserts.Equal(0, status)
		asserts.Equal(xml.Name{Space: "DAV:", Local: "sync-collection"}, root)

		var report struct {
			XMLName   xml.Name `xml:"DAV: sync-collection"`
			SyncToken string   `xml:"sync-token"`
		}
		asserts.NoError(xml.NewDecoder(replay).Decode(&report))
		asserts.Equal("tok", report.SyncToken)
	}

	// An empty body has no root element
	{
		_, _, status, err := ReadReportRoot(strings.NewReader(""))
		asserts.Equal(io.EOF, err)
		asserts.Equal(400, status)
	}
}

func TestClarkNames(t *testing.T) {
	asserts := assert.New(t)

	// Round trip
	{
		name, err := ParseClarkName("{DAV:}getetag")
		asserts.NoError(err)
		asserts.Equal(xml.Name{Space: "DAV:", Local: "getetag"}, name)
		asserts.Equal("{DAV:}getetag", ClarkName(name))
	}

	// No namespace
	{
		name, err := ParseClarkName("plain")
		asserts.NoError(err)
		asserts.Equal(xml.Name{Local: "plain"}, name)
		asserts.Equal("plain", ClarkName(name))
	}

	// Malformed notation
	{
		_, err := ParseClarkName("{DAV:getetag")
		asserts.Error(err)
		_, err = ParseClarkName("{DAV:}")
		asserts.Error(err)
	}
}

func TestEscape(t *testing.T) {
	asserts := assert.New(t)

	asserts.Equal("plain", Escape("plain"))
	asserts.Equal("a&amp;b", Escape("a&b"))
	asserts.Equal("&lt;tag&gt;", Escape("<tag>"))
}
