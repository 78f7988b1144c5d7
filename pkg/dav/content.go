// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dav

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"

	"github.com/gofrs/uuid"
	"github.com/juju/ratelimit"
	"github.com/quilldav/quill/pkg/conf"
	"github.com/quilldav/quill/pkg/tree"
)

// skipChunkSize is the discard granularity used to reach a range start
// on a source that cannot seek.
const skipChunkSize = 8 * 1024

// serveContent delivers the entity held by f onto w, honoring request
// preconditions and byte ranges. On success it finishes the response
// itself and returns 0; a non-zero status means the caller completes
// the response.
func serveContent(w http.ResponseWriter, r *http.Request, f tree.File, policy *conf.RangePolicy, speedLimit int64) (int, error) {
	size := f.Size()
	ctype := f.ContentType()
	etag := f.ETag()
	modTime := f.ModTime()

	h := w.Header()
	if etag != "" {
		h.Set("ETag", etag)
	}
	if !isZeroTime(modTime) {
		h.Set("Last-Modified", modTime.UTC().Format(http.TimeFormat))
	}
	h.Set("Accept-Ranges", "bytes")
	if ctype != "" {
		h.Set("Content-Type", ctype)
	}

	done, rangeHeader := checkPreconditions(w, r, modTime, etag)
	if done {
		return 0, nil
	}

	rangeReq, err := ParseRange(rangeHeader, size, policy)
	if err != nil {
		h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		return fail(err)
	}
	var ranges []ResolvedRange
	if rangeReq != nil {
		ranges = rangeReq.Ranges
	}
	if sumRangesSize(ranges) > size {
		// The total number of bytes in all the ranges is larger than the
		// size of the file by itself, so this is probably an attack, or a
		// dumb client. Ignore the range request.
		ranges = nil
	}

	src, err := f.Open()
	if err != nil {
		return http.StatusInternalServerError, err
	}
	defer src.Close()

	code := http.StatusOK
	sendSize := size
	var sendContent io.Reader = src

	switch {
	case len(ranges) == 1:
		// RFC 7233, Section 4.1: a server MUST NOT generate a multipart
		// response to a request for a single range.
		ra := ranges[0]
		if err := skipTo(src, ra.Start); err != nil {
			h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			return fail(err)
		}
		sendSize = ra.Length()
		code = http.StatusPartialContent
		h.Set("Content-Range", ra.ContentRange(size))
	case len(ranges) > 1:
		seeker, ok := src.(io.Seeker)
		if !ok {
			// Later ranges may start before earlier ones, so a multipart
			// body cannot be assembled from a single pass.
			h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			return fail(errRangeNotSeekable)
		}
		code = http.StatusPartialContent

		boundary := uuid.Must(uuid.NewV4()).String()
		sendSize = rangesMIMESize(ranges, boundary, ctype, size)

		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)
		if err := mw.SetBoundary(boundary); err != nil {
			return http.StatusInternalServerError, err
		}
		h.Set("Content-Type", "multipart/byteranges; boundary="+mw.Boundary())
		sendContent = pr
		defer pr.Close() // cause writing goroutine to fail and exit if CopyN doesn't finish.
		go func() {
			for _, ra := range ranges {
				part, err := mw.CreatePart(ra.mimeHeader(ctype, size))
				if err != nil {
					pw.CloseWithError(err)
					return
				}
				if _, err := seeker.Seek(ra.Start, io.SeekStart); err != nil {
					pw.CloseWithError(err)
					return
				}
				if _, err := io.CopyN(part, src, ra.Length()); err != nil {
					pw.CloseWithError(err)
					return
				}
			}
			mw.Close()
			pw.Close()
		}()
	}

	if speedLimit > 0 {
		bucket := ratelimit.NewBucketWithRate(float64(speedLimit), speedLimit)
		sendContent = ratelimit.Reader(sendContent, bucket)
	}

	if h.Get("Content-Encoding") == "" {
		h.Set("Content-Length", strconv.FormatInt(sendSize, 10))
	}
	w.WriteHeader(code)

	if r.Method != "HEAD" {
		io.CopyN(w, sendContent, sendSize)
	}
	return 0, nil
}

// skipTo positions src at offset, seeking when the source supports it
// and otherwise discarding bytes in fixed chunks. A source that runs
// out before the offset yields errUnsatisfiableRange.
func skipTo(src io.Reader, offset int64) error {
	if offset == 0 {
		return nil
	}
	if s, ok := src.(io.Seeker); ok {
		_, err := s.Seek(offset, io.SeekStart)
		return err
	}
	remain := offset
	for remain > 0 {
		chunk := int64(skipChunkSize)
		if chunk > remain {
			chunk = remain
		}
		n, err := io.CopyN(io.Discard, src, chunk)
		remain -= n
		if err == io.EOF {
			return errUnsatisfiableRange
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (r ResolvedRange) mimeHeader(contentType string, size int64) textproto.MIMEHeader {
	return textproto.MIMEHeader{
		"Content-Range": {r.ContentRange(size)},
		"Content-Type":  {contentType},
	}
}

func sumRangesSize(ranges []ResolvedRange) (size int64) {
	for _, ra := range ranges {
		size += ra.Length()
	}
	return
}

// countingWriter counts how many bytes have been written to it.
type countingWriter int64

func (w *countingWriter) Write(p []byte) (n int, err error) {
	*w += countingWriter(len(p))
	return len(p), nil
}

// rangesMIMESize returns the number of bytes it takes to encode the
// provided ranges as a multipart response with the given boundary.
func rangesMIMESize(ranges []ResolvedRange, boundary, contentType string, contentSize int64) (encSize int64) {
	var w countingWriter
	mw := multipart.NewWriter(&w)
	mw.SetBoundary(boundary)
	for _, ra := range ranges {
		mw.CreatePart(ra.mimeHeader(contentType, contentSize))
		encSize += ra.Length()
	}
	mw.Close()
	encSize += int64(w)
	return
}
