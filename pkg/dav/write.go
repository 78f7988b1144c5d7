package dav

import (
	"bytes"
	"encoding/xml"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/quilldav/quill/pkg/dav/davxml"
	"github.com/quilldav/quill/pkg/events"
	"github.com/quilldav/quill/pkg/tree"
	"github.com/samber/lo"
)

var expectedLengthHeaders = []string{
	"Content-Length",
	"X-Expected-Entity-Length", // DavFS on MacOS
}

// sniffExpectedLength returns the entity length the client declared,
// or 0 when none was declared or it cannot be parsed.
func sniffExpectedLength(r *http.Request) int64 {
	for _, header := range expectedLengthHeaders {
		if v := r.Header.Get(header); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil {
				return n
			}
		}
	}
	return 0
}

func (h *Handler) handleDelete(c *gin.Context, reqPath string) (int, error) {
	if !h.bus.Emit(events.BeforeUnbind, reqPath) {
		return 0, nil
	}
	if err := h.tree.Delete(reqPath); err != nil {
		if errors.Is(err, tree.ErrNotFound) {
			return http.StatusNotFound, err
		}
		return http.StatusInternalServerError, err
	}
	h.bus.Emit(events.AfterUnbind, reqPath)
	return http.StatusNoContent, nil
}

func (h *Handler) handlePut(c *gin.Context, reqPath string) (int, error) {
	r := c.Request
	if r.Header.Get("Content-Range") != "" {
		// RFC 7231 disallows partial PUT; accepting one would corrupt
		// the entity by treating a fragment as full content.
		return fail(errContentRangeOnPut)
	}

	body := io.Reader(r.Body)
	if sniffExpectedLength(r) > 0 {
		// DavFS on MacOS declares the upcoming length and then probes
		// with an empty body. Read one byte to tell a real upload from
		// the probe, and push it back onto the stream.
		probe := make([]byte, 1)
		if n, rerr := io.ReadFull(r.Body, probe); n == 0 {
			e := errEmptyUpload
			return fail(e.WithError(rerr))
		}
		body = io.MultiReader(bytes.NewReader(probe), r.Body)
	}

	if h.tree.Exists(reqPath) {
		node, err := h.tree.Get(reqPath)
		if err != nil {
			return http.StatusInternalServerError, err
		}
		if _, ok := node.(tree.File); !ok {
			return fail(errNotFileCapable)
		}
		etag, handled, err := h.tree.UpdateFile(reqPath, body)
		if err != nil {
			return http.StatusInternalServerError, err
		}
		if !handled {
			return 0, nil
		}
		if etag != "" {
			c.Writer.Header().Set("ETag", etag)
		}
		return http.StatusNoContent, nil
	}

	etag, handled, err := h.tree.CreateFile(reqPath, body)
	if err != nil {
		if errors.Is(err, tree.ErrNotFound) || errors.Is(err, tree.ErrNotCollection) {
			return http.StatusConflict, err
		}
		return http.StatusInternalServerError, err
	}
	if !handled {
		return 0, nil
	}
	if etag != "" {
		c.Writer.Header().Set("ETag", etag)
	}
	return http.StatusCreated, nil
}

func (h *Handler) handleMkcol(c *gin.Context, reqPath string) (int, error) {
	r := c.Request

	resourceType := []xml.Name{{Space: "DAV:", Local: "collection"}}
	var props []davxml.Property
	if r.ContentLength != 0 {
		ct, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || (ct != "application/xml" && ct != "text/xml") {
			return fail(errNonXMLMkcolBody)
		}
		mk, status, err := davxml.ReadMkcol(r.Body)
		if err != nil {
			return status, err
		}
		resourceType = mk.ResourceType
		props = mk.Props
	}

	failed, err := h.tree.CreateCollection(reqPath, resourceType, props)
	if err != nil {
		switch {
		case errors.Is(err, tree.ErrExists):
			return http.StatusMethodNotAllowed, err
		case errors.Is(err, tree.ErrNotFound), errors.Is(err, tree.ErrNotCollection):
			return http.StatusConflict, err
		}
		return http.StatusInternalServerError, err
	}
	if len(failed) == 0 {
		return http.StatusCreated, nil
	}

	byCode := make(map[int][]xml.Name)
	for name, code := range failed {
		byCode[code] = append(byCode[code], name)
	}
	codes := lo.Keys(byCode)
	sort.Ints(codes)

	var pstats []davxml.Propstat
	for _, code := range codes {
		names := byCode[code]
		sort.Slice(names, func(i, j int) bool {
			if names[i].Space != names[j].Space {
				return names[i].Space < names[j].Space
			}
			return names[i].Local < names[j].Local
		})
		pstat := davxml.Propstat{Status: davxml.StatusLine(code)}
		for _, name := range names {
			pstat.Prop = append(pstat.Prop, davxml.Property{XMLName: name})
		}
		pstats = append(pstats, pstat)
	}

	mw := davxml.MultistatusWriter{W: c.Writer}
	if err := mw.Write(makePropstatResponse(h.href(reqPath), pstats)); err != nil {
		return http.StatusInternalServerError, err
	}
	return 0, mw.Close()
}

// parseDestination resolves the Destination header into an engine
// path. Cross-host destinations are refused, matching the gateway
// semantics of RFC 4918 section 9.8.3.
func (h *Handler) parseDestination(r *http.Request) (string, int, error) {
	hdr := r.Header.Get("Destination")
	if hdr == "" {
		return "", errInvalidDestination.Code, errInvalidDestination
	}
	u, err := url.Parse(hdr)
	if err != nil {
		return "", errInvalidDestination.Code, errInvalidDestination
	}
	if u.Host != "" && u.Host != r.Host {
		return "", errCrossHostDestination.Code, errCrossHostDestination
	}
	dst, status, err := h.stripPrefix(u.Path)
	if err != nil {
		return "", status, err
	}
	return dst, 0, nil
}

func (h *Handler) handleMove(c *gin.Context, src string) (int, error) {
	r := c.Request
	dst, status, err := h.parseDestination(r)
	if err != nil {
		return status, err
	}
	if dst == src {
		return fail(errDestinationEqualsSource)
	}

	dstExists := h.tree.Exists(dst)
	if dstExists && r.Header.Get("Overwrite") == "F" {
		return fail(errDestinationExists)
	}

	if dstExists && !h.bus.Emit(events.BeforeUnbind, dst) {
		return 0, nil
	}
	if !h.bus.Emit(events.BeforeUnbind, src) {
		return 0, nil
	}
	if !h.bus.Emit(events.BeforeBind, dst) {
		return 0, nil
	}
	if !h.bus.Emit(events.BeforeMove, src, dst) {
		return 0, nil
	}

	if dstExists {
		if err := h.tree.Delete(dst); err != nil {
			return http.StatusInternalServerError, err
		}
		h.bus.Emit(events.AfterUnbind, dst)
	}
	if err := h.tree.Move(src, dst); err != nil {
		if errors.Is(err, tree.ErrNotFound) {
			return http.StatusNotFound, err
		}
		return http.StatusInternalServerError, err
	}

	// afterMove must precede afterUnbind so per-path observers migrate
	// their state before any cleanup keyed on the source path runs.
	h.bus.Emit(events.AfterMove, src, dst)
	h.bus.Emit(events.AfterUnbind, src)
	h.bus.Emit(events.AfterBind, dst)

	if dstExists {
		return http.StatusNoContent, nil
	}
	return http.StatusCreated, nil
}

func (h *Handler) handleCopy(c *gin.Context, src string) (int, error) {
	r := c.Request
	dst, status, err := h.parseDestination(r)
	if err != nil {
		return status, err
	}
	if dst == src {
		return fail(errDestinationEqualsSource)
	}

	dstExists := h.tree.Exists(dst)
	if dstExists && r.Header.Get("Overwrite") == "F" {
		return fail(errDestinationExists)
	}

	if !h.bus.Emit(events.BeforeBind, dst) {
		return 0, nil
	}
	if !h.bus.Emit(events.BeforeCopy, src, dst) {
		return 0, nil
	}
	if dstExists {
		if !h.bus.Emit(events.BeforeUnbind, dst) {
			return 0, nil
		}
		if err := h.tree.Delete(dst); err != nil {
			return http.StatusInternalServerError, err
		}
	}

	if err := h.tree.Copy(src, dst); err != nil {
		if errors.Is(err, tree.ErrNotFound) {
			return http.StatusNotFound, err
		}
		return http.StatusInternalServerError, err
	}

	h.bus.Emit(events.AfterCopy, src, dst)
	h.bus.Emit(events.AfterBind, dst)

	if dstExists {
		return http.StatusNoContent, nil
	}
	return http.StatusCreated, nil
}
