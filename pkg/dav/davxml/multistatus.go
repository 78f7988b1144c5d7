// Copyright 2014 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package davxml

import (
	"encoding/xml"
	"fmt"
	"net/http"
)

// StatusMulti is the Multi-Status code defined by RFC 4918.
const StatusMulti = 207

// http://www.webdav.org/specs/rfc4918.html#ELEMENT_error
// See MultistatusWriter for the "D:" namespace prefix.
type XMLError struct {
	XMLName  xml.Name `xml:"D:error"`
	InnerXML []byte   `xml:",innerxml"`
}

// Propstat describes a XML propstat element as defined in RFC 4918.
// See http://www.webdav.org/specs/rfc4918.html#ELEMENT_propstat
type Propstat struct {
	Prop                []Property `xml:"D:prop>_ignored_"`
	Status              string     `xml:"D:status"`
	Error               *XMLError  `xml:"D:error"`
	ResponseDescription string     `xml:"D:responsedescription,omitempty"`
}

// MarshalXML prepends the "D:" namespace prefix on properties in the DAV:
// namespace before encoding. See MultistatusWriter.
func (ps Propstat) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	for k, prop := range ps.Prop {
		if prop.XMLName.Space == "DAV:" {
			prop.XMLName = xml.Name{Space: "", Local: "D:" + prop.XMLName.Local}
			ps.Prop[k] = prop
		}
	}
	// Distinct type to avoid infinite recursion of MarshalXML.
	type newpropstat Propstat
	return e.EncodeElement(newpropstat(ps), start)
}

// Response describes a XML response element as defined in RFC 4918.
// http://www.webdav.org/specs/rfc4918.html#ELEMENT_response
type Response struct {
	XMLName             xml.Name   `xml:"D:response"`
	Href                []string   `xml:"D:href"`
	Propstat            []Propstat `xml:"D:propstat"`
	Status              string     `xml:"D:status,omitempty"`
	Error               *XMLError  `xml:"D:error"`
	ResponseDescription string     `xml:"D:responsedescription,omitempty"`
}

// StatusLine formats a code as the HTTP status line carried in status
// elements.
func StatusLine(code int) string {
	text := http.StatusText(code)
	if text == "" {
		text = "Error"
	}
	return fmt.Sprintf("HTTP/1.1 %d %s", code, text)
}

// MultistatusWriter marshals one or more Responses into a XML multistatus
// response element.
// See http://www.webdav.org/specs/rfc4918.html#ELEMENT_multistatus
//
// The "D:" namespace prefix, defined as "DAV:" on the multistatus element,
// is prepended on the nested responses and all their nested elements. Some
// versions of Mini-Redirector (on Windows 7) ignore elements with a default
// namespace (no prefixed namespace).
type MultistatusWriter struct {
	// ResponseDescription contains the optional responsedescription of
	// the multistatus XML element. Only the latest content before close
	// will be emitted.
	ResponseDescription string

	W   http.ResponseWriter
	enc *xml.Encoder
}

// Write validates and emits a DAV response as part of a multistatus
// response element. It sets the HTTP status code of its underlying
// http.ResponseWriter to 207 on the first write. Callers must call Close
// after the last response has been written.
func (w *MultistatusWriter) Write(r *Response) error {
	switch len(r.Href) {
	case 0:
		return errInvalidResponse
	case 1:
		if len(r.Propstat) > 0 != (r.Status == "") {
			return errInvalidResponse
		}
	default:
		if len(r.Propstat) > 0 || r.Status == "" {
			return errInvalidResponse
		}
	}
	err := w.writeHeader()
	if err != nil {
		return err
	}
	return w.enc.Encode(r)
}

// writeHeader writes the multistatus start element on w's underlying
// http.ResponseWriter. After the first write attempt, writeHeader becomes
// a no-op.
func (w *MultistatusWriter) writeHeader() error {
	if w.enc != nil {
		return nil
	}
	w.W.Header().Add("Content-Type", "application/xml; charset=utf-8")
	w.W.WriteHeader(StatusMulti)
	_, err := fmt.Fprintf(w.W, `<?xml version="1.0" encoding="UTF-8"?>`+"\n"+
		`<D:multistatus xmlns:D="DAV:">`)
	if err != nil {
		return err
	}
	w.enc = xml.NewEncoder(w.W)
	return nil
}

// Close completes the marshalling of the multistatus response. If both the
// return value and field enc of w are nil, then no multistatus response
// has been written.
func (w *MultistatusWriter) Close() error {
	if w.enc == nil {
		return nil
	}
	if err := w.enc.Flush(); err != nil {
		return err
	}
	if w.ResponseDescription != "" {
		_, err := fmt.Fprintf(w.W, "<D:responsedescription>%s</D:responsedescription>",
			Escape(w.ResponseDescription))
		if err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w.W, "</D:multistatus>")
	return err
}
