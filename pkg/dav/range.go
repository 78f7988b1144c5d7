// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package dav

import (
	"fmt"
	"net/http"
	"net/textproto"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/quilldav/quill/pkg/conf"
)

// ResolvedRange is a byte range resolved against a concrete entity
// size, satisfying 0 <= Start <= End <= size-1.
type ResolvedRange struct {
	Start, End int64
}

// Length returns the number of bytes covered by the range.
func (r ResolvedRange) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange formats the range as a Content-Range header value.
func (r ResolvedRange) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// RangeRequest is a validated Range header, kept in the order the
// client sent it. Boundary is max(end)-min(start) across the whole
// request, a rough measure of how far the source has to seek.
type RangeRequest struct {
	Ranges   []ResolvedRange
	Boundary int64
}

// ParseRange parses a Range header against the entity size and
// enforces the abuse caps in policy. Tokens the grammar cannot place
// are silently dropped; once nothing survives, or a cap trips, the
// whole request fails and the caller answers 416.
//
// Non-"bytes" units are treated as an absent header. A negative size
// means the entity size is unknown and disables ranging.
func ParseRange(header string, size int64, policy *conf.RangePolicy) (*RangeRequest, error) {
	if header == "" || size < 0 {
		return nil, nil
	}
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return nil, nil
	}

	var ranges []ResolvedRange
	for _, tok := range strings.Split(header[len(prefix):], ",") {
		parts := strings.Split(tok, "-")
		if len(parts) != 2 {
			continue
		}
		startText := textproto.TrimString(parts[0])
		endText := textproto.TrimString(parts[1])
		if startText == "" && endText == "" {
			continue
		}

		var ra ResolvedRange
		if startText == "" {
			// Suffix form "-N", the final N bytes.
			n, err := strconv.ParseInt(endText, 10, 64)
			if err != nil || n < 0 {
				continue
			}
			start := size - n
			if start < 0 {
				start = 0
			}
			ra = ResolvedRange{Start: start, End: size - 1}
		} else {
			start, err := strconv.ParseInt(startText, 10, 64)
			if err != nil || start < 0 || start > size {
				continue
			}
			end := size - 1
			if endText != "" {
				e, err := strconv.ParseInt(endText, 10, 64)
				if err != nil || e < 0 {
					continue
				}
				if e < end {
					end = e
				}
			}
			ra = ResolvedRange{Start: start, End: end}
		}
		if ra.Start > ra.End {
			continue
		}

		ranges = append(ranges, ra)
	}
	if len(ranges) == 0 {
		return nil, errUnsatisfiableRange
	}

	if len(ranges) > maxOr(policy.MaxRanges, conf.RangePolicyConfig.MaxRanges) {
		return nil, errTooManyRanges
	}

	sorted := make([]ResolvedRange, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	overlaps, maxEndSoFar := 0, int64(-1)
	for _, ra := range sorted {
		if ra.Start <= maxEndSoFar {
			overlaps++
		}
		if ra.End > maxEndSoFar {
			maxEndSoFar = ra.End
		}
	}
	if overlaps > maxOr(policy.MaxOverlaps, conf.RangePolicyConfig.MaxOverlaps) {
		return nil, errTooManyOverlaps
	}

	disorder := 0
	for i := 1; i < len(ranges); i++ {
		if ranges[i].Start < ranges[i-1].Start {
			disorder++
		}
	}
	if disorder > maxOr(policy.MaxDisorder, conf.RangePolicyConfig.MaxDisorder) {
		return nil, errTooManyDisorder
	}

	return &RangeRequest{
		Ranges:   ranges,
		Boundary: maxEndSoFar - sorted[0].Start,
	}, nil
}

func maxOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// evaluateIfRange reports whether the Range header should be honored
// given an If-Range precondition. See RFC 7233 section 3.2: a value
// that parses as an HTTP date validates against Last-Modified, any
// other value is an entity tag compared strongly.
func evaluateIfRange(r *http.Request, modTime time.Time, etag string) bool {
	ir := r.Header.Get("If-Range")
	if ir == "" {
		return true
	}
	if date, err := http.ParseTime(ir); err == nil {
		return !modTime.IsZero() && !modTime.After(date)
	}
	return etag != "" && etag == ir
}
