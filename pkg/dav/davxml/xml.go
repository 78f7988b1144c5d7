// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package davxml implements the XML request and response boundary of the
// DAV engine, covered by RFC 4918 Section 14.
// http://www.webdav.org/specs/rfc4918.html#xml.element.definitions
package davxml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	errInvalidPropfind  = errors.New("davxml: invalid propfind")
	errInvalidProppatch = errors.New("davxml: invalid proppatch")
	errInvalidMkcol     = errors.New("davxml: invalid mkcol")
	errInvalidResponse  = errors.New("davxml: invalid response")
)

// Property represents a single DAV resource property as defined in RFC 4918.
// See http://www.webdav.org/specs/rfc4918.html#data.model.for.resource.properties
type Property struct {
	// XMLName is the fully qualified name that identifies this property.
	XMLName xml.Name

	// Lang is an optional xml:lang attribute.
	Lang string `xml:"xml:lang,attr,omitempty"`

	// InnerXML contains the XML representation of the property value.
	// See http://www.webdav.org/specs/rfc4918.html#property_values
	//
	// Property values of complex type or mixed-content must be
	// self-contained with according XML namespace declarations. They must
	// not rely on any XML namespace declarations within the scope of the
	// XML document, even including the DAV: namespace.
	InnerXML []byte `xml:",innerxml"`
}

// Proppatch describes a property update instruction as defined in RFC 4918.
// See http://www.webdav.org/specs/rfc4918.html#METHOD_PROPPATCH
type Proppatch struct {
	// Remove specifies whether this patch removes properties. If it does
	// not remove them, it sets them.
	Remove bool
	// Props contains the properties to be set or removed.
	Props []Property
}

// ParseClarkName parses a property name in Clark notation, e.g.
// "{DAV:}getetag", into an xml.Name. Names without braces are taken to be
// in the empty namespace.
func ParseClarkName(s string) (xml.Name, error) {
	if !strings.HasPrefix(s, "{") {
		return xml.Name{Local: s}, nil
	}
	end := strings.Index(s, "}")
	if end < 0 || end == len(s)-1 {
		return xml.Name{}, fmt.Errorf("davxml: malformed clark notation %q", s)
	}
	return xml.Name{Space: s[1:end], Local: s[end+1:]}, nil
}

// ClarkName formats an xml.Name in Clark notation.
func ClarkName(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return "{" + n.Space + "}" + n.Local
}

// next returns the next token, if any, in the XML stream of d.
// RFC 4918 requires to ignore comments, processing instructions
// and directives.
// http://www.webdav.org/specs/rfc4918.html#property_values
func next(d *xml.Decoder) (xml.Token, error) {
	for {
		t, err := d.Token()
		if err != nil {
			return t, err
		}
		switch t.(type) {
		case xml.Comment, xml.Directive, xml.ProcInst:
			continue
		default:
			return t, nil
		}
	}
}

// http://www.webdav.org/specs/rfc4918.html#ELEMENT_prop (for propfind)
type propfindProps []xml.Name

// UnmarshalXML appends the property names enclosed within start to pn.
//
// It returns an error if start does not contain any properties or if
// properties contain values. Character data between properties is ignored.
func (pn *propfindProps) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for {
		t, err := next(d)
		if err != nil {
			return err
		}
		switch t.(type) {
		case xml.EndElement:
			if len(*pn) == 0 {
				return fmt.Errorf("%s must not be empty", start.Name.Local)
			}
			return nil
		case xml.StartElement:
			name := t.(xml.StartElement).Name
			t, err = next(d)
			if err != nil {
				return err
			}
			if _, ok := t.(xml.EndElement); !ok {
				return fmt.Errorf("unexpected token %T", t)
			}
			*pn = append(*pn, name)
		}
	}
}

// Propfind is a parsed PROPFIND request body.
// http://www.webdav.org/specs/rfc4918.html#ELEMENT_propfind
type Propfind struct {
	XMLName  xml.Name      `xml:"DAV: propfind"`
	Allprop  *struct{}     `xml:"DAV: allprop"`
	Propname *struct{}     `xml:"DAV: propname"`
	Prop     propfindProps `xml:"DAV: prop"`
	Include  propfindProps `xml:"DAV: include"`
}

// Names returns the explicitly requested property names.
func (pf *Propfind) Names() []xml.Name {
	return append([]xml.Name(nil), pf.Prop...)
}

// IncludeNames returns the names listed in an allprop include element.
func (pf *Propfind) IncludeNames() []xml.Name {
	return append([]xml.Name(nil), pf.Include...)
}

type countingReader struct {
	n int
	r io.Reader
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

// ReadPropfind parses a PROPFIND request body. An empty body means to
// propfind allprop.
// http://www.webdav.org/specs/rfc4918.html#METHOD_PROPFIND
func ReadPropfind(r io.Reader) (pf Propfind, status int, err error) {
	c := countingReader{r: r}
	if err = xml.NewDecoder(&c).Decode(&pf); err != nil {
		if err == io.EOF {
			if c.n == 0 {
				return Propfind{Allprop: new(struct{})}, 0, nil
			}
			err = errInvalidPropfind
		}
		return Propfind{}, http.StatusBadRequest, err
	}

	if pf.Allprop == nil && pf.Include != nil {
		return Propfind{}, http.StatusBadRequest, errInvalidPropfind
	}
	if pf.Allprop != nil && (pf.Prop != nil || pf.Propname != nil) {
		return Propfind{}, http.StatusBadRequest, errInvalidPropfind
	}
	if pf.Prop != nil && pf.Propname != nil {
		return Propfind{}, http.StatusBadRequest, errInvalidPropfind
	}
	if pf.Propname == nil && pf.Allprop == nil && pf.Prop == nil {
		return Propfind{}, http.StatusBadRequest, errInvalidPropfind
	}
	return pf, 0, nil
}

// http://www.webdav.org/specs/rfc4918.html#ELEMENT_prop (for proppatch)
type proppatchProps []Property

var xmlLangName = xml.Name{Space: "http://www.w3.org/XML/1998/namespace", Local: "lang"}

func xmlLang(s xml.StartElement, d string) string {
	for _, attr := range s.Attr {
		if attr.Name == xmlLangName {
			return attr.Value
		}
	}
	return d
}

type xmlValue []byte

func (v *xmlValue) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	// The XML value of a property can be arbitrary, mixed-content XML.
	// To make sure that the unmarshalled value contains all required
	// namespaces, we encode all the property value XML tokens into a
	// buffer. This forces the encoder to redeclare any used namespaces.
	var b bytes.Buffer
	e := xml.NewEncoder(&b)
	for {
		t, err := next(d)
		if err != nil {
			return err
		}
		if e, ok := t.(xml.EndElement); ok && e.Name == start.Name {
			break
		}
		if err = e.EncodeToken(t); err != nil {
			return err
		}
	}
	err := e.Flush()
	if err != nil {
		return err
	}
	*v = b.Bytes()
	return nil
}

// UnmarshalXML appends the property names and values enclosed within start
// to ps.
//
// An xml:lang attribute that is defined either on the DAV:prop or property
// name XML element is propagated to the property's Lang field.
func (ps *proppatchProps) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	lang := xmlLang(start, "")
	for {
		t, err := next(d)
		if err != nil {
			return err
		}
		switch elem := t.(type) {
		case xml.EndElement:
			if len(*ps) == 0 {
				return fmt.Errorf("%s must not be empty", start.Name.Local)
			}
			return nil
		case xml.StartElement:
			p := Property{
				XMLName: elem.Name,
				Lang:    xmlLang(elem, lang),
			}
			err = d.DecodeElement(((*xmlValue)(&p.InnerXML)), &elem)
			if err != nil {
				return err
			}
			*ps = append(*ps, p)
		}
	}
}

// http://www.webdav.org/specs/rfc4918.html#ELEMENT_set
// http://www.webdav.org/specs/rfc4918.html#ELEMENT_remove
type setRemove struct {
	XMLName xml.Name
	Lang    string         `xml:"xml:lang,attr,omitempty"`
	Prop    proppatchProps `xml:"DAV: prop"`
}

// http://www.webdav.org/specs/rfc4918.html#ELEMENT_propertyupdate
type propertyupdate struct {
	XMLName   xml.Name    `xml:"DAV: propertyupdate"`
	Lang      string      `xml:"xml:lang,attr,omitempty"`
	SetRemove []setRemove `xml:",any"`
}

// ReadProppatch parses a PROPPATCH request body into an ordered list of
// property update instructions.
func ReadProppatch(r io.Reader) (patches []Proppatch, status int, err error) {
	var pu propertyupdate
	if err = xml.NewDecoder(r).Decode(&pu); err != nil {
		return nil, http.StatusBadRequest, err
	}
	for _, op := range pu.SetRemove {
		remove := false
		switch op.XMLName {
		case xml.Name{Space: "DAV:", Local: "set"}:
			// No-op.
		case xml.Name{Space: "DAV:", Local: "remove"}:
			for _, p := range op.Prop {
				if len(p.InnerXML) > 0 {
					return nil, http.StatusBadRequest, errInvalidProppatch
				}
			}
			remove = true
		default:
			return nil, http.StatusBadRequest, errInvalidProppatch
		}
		patches = append(patches, Proppatch{Remove: remove, Props: op.Prop})
	}
	return patches, 0, nil
}

// Mkcol is a parsed extended MKCOL request body as defined in RFC 5689.
type Mkcol struct {
	// ResourceType lists the requested resource type element names.
	ResourceType []xml.Name
	// Props contains the extra properties to apply on creation, with the
	// resourcetype property removed.
	Props []Property
}

var resourcetypeName = xml.Name{Space: "DAV:", Local: "resourcetype"}

// http://www.webdav.org/specs/rfc5689.html#ELEMENT_mkcol
type mkcolBody struct {
	XMLName xml.Name       `xml:"DAV: mkcol"`
	Prop    proppatchProps `xml:"set>prop"`
}

// ReadMkcol parses an extended MKCOL body. The body must carry a
// resourcetype property; callers handle absent bodies before calling.
func ReadMkcol(r io.Reader) (mk *Mkcol, status int, err error) {
	var body mkcolBody
	if err := xml.NewDecoder(r).Decode(&body); err != nil {
		return nil, http.StatusBadRequest, err
	}

	mk = &Mkcol{}
	for _, p := range body.Prop {
		if p.XMLName == resourcetypeName {
			types, err := parseResourceType(p.InnerXML)
			if err != nil {
				return nil, http.StatusBadRequest, err
			}
			mk.ResourceType = types
			continue
		}
		mk.Props = append(mk.Props, p)
	}
	if mk.ResourceType == nil {
		return nil, http.StatusBadRequest, errInvalidMkcol
	}
	return mk, 0, nil
}

// parseResourceType collects the child element names of a resourcetype
// property value.
func parseResourceType(innerXML []byte) ([]xml.Name, error) {
	d := xml.NewDecoder(bytes.NewReader(innerXML))
	types := []xml.Name{}
	for {
		t, err := next(d)
		if err == io.EOF {
			return types, nil
		}
		if err != nil {
			return nil, err
		}
		if se, ok := t.(xml.StartElement); ok {
			types = append(types, se.Name)
			if err := d.Skip(); err != nil {
				return nil, err
			}
		}
	}
}

// ReadReportRoot sniffs the root element name of a REPORT body and returns
// it along with a reader replaying the full body for the extension that
// claims the report.
func ReadReportRoot(r io.Reader) (xml.Name, io.Reader, int, error) {
	var buf bytes.Buffer
	tee := io.TeeReader(r, &buf)
	d := xml.NewDecoder(tee)
	for {
		t, err := next(d)
		if err != nil {
			return xml.Name{}, nil, http.StatusBadRequest, err
		}
		if se, ok := t.(xml.StartElement); ok {
			return se.Name, io.MultiReader(bytes.NewReader(buf.Bytes()), r), 0, nil
		}
	}
}

// Escape escapes a string for embedding in XML character data.
func Escape(s string) string {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"', '&', '\'', '<', '>':
			b := bytes.NewBuffer(nil)
			xml.EscapeText(b, []byte(s))
			return b.String()
		}
	}
	return s
}
