package http

import (
	"strings"
	"time"
)

// ByteRange is one syntactically valid range from a Range header, before
// it is checked against a resource length.
//
//	start-end  -> {Start: start, End: end}
//	start-     -> {Start: start, End: -1}
//	-n         -> {Start: -1, End: n}
type ByteRange struct {
	Start int64
	End   int64
}

// Span is a satisfiable range with an inclusive end.
type Span struct {
	Start int64
	End   int64
}

// Length is the number of bytes covered.
func (s Span) Length() int64 {
	return s.End - s.Start + 1
}

// RangeSpec is the resolver's result for a resource of Total bytes.
// No Spans means the whole resource is served with 200.
type RangeSpec struct {
	Spans []Span
	Total int64
}

// Partial reports whether the response is 206.
func (r RangeSpec) Partial() bool {
	return len(r.Spans) > 0
}

// Multipart reports whether the response needs multipart/byteranges.
func (r RangeSpec) Multipart() bool {
	return len(r.Spans) > 1
}

// ParseRangeHeader parses a "bytes=" Range header. ok is false when the
// header is unparsable, in which case it must be ignored.
func ParseRangeHeader(v string) ([]ByteRange, bool) {
	const unit = "bytes="
	if len(v) < len(unit) || !strings.EqualFold(v[:len(unit)], unit) {
		return nil, false
	}

	var out []ByteRange
	for part := range strings.SplitSeq(v[len(unit):], ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		first, last, found := strings.Cut(part, "-")
		if !found {
			return nil, false
		}
		first = strings.TrimSpace(first)
		last = strings.TrimSpace(last)

		var br ByteRange
		switch {
		case first == "" && last == "":
			return nil, false
		case first == "":
			n, ok := parseDigits([]byte(last))
			if !ok {
				return nil, false
			}
			br = ByteRange{Start: -1, End: n}
		default:
			s, ok := parseDigits([]byte(first))
			if !ok {
				return nil, false
			}
			br = ByteRange{Start: s, End: -1}
			if last != "" {
				e, ok := parseDigits([]byte(last))
				if !ok {
					return nil, false
				}
				br.End = e
			}
		}
		out = append(out, br)
	}

	if len(out) == 0 {
		return nil, false
	}
	return out, true
}

// ResolveRanges checks ranges against a resource of total bytes.
//
// Each range is validated on its own and satisfiable ones are kept in
// request order without merging. An explicit pair with start > end, or a
// start at or past the end of the resource, is unsatisfiable; an end past
// the resource is clamped, as is a suffix longer than the resource. When
// nothing is satisfiable the result is ErrUnsatisfiableRange.
func ResolveRanges(ranges []ByteRange, total int64) (RangeSpec, error) {
	spec := RangeSpec{Total: total}
	if len(ranges) == 0 {
		return spec, nil
	}

	for _, br := range ranges {
		switch {
		case br.Start < 0:
			if br.End == 0 || total == 0 {
				continue
			}
			n := min(br.End, total)
			spec.Spans = append(spec.Spans, Span{Start: total - n, End: total - 1})
		default:
			if br.Start >= total {
				continue
			}
			end := br.End
			if end >= 0 && br.Start > end {
				continue
			}
			if end < 0 || end >= total {
				end = total - 1
			}
			spec.Spans = append(spec.Spans, Span{Start: br.Start, End: end})
		}
	}

	if len(spec.Spans) == 0 {
		return RangeSpec{Total: total}, ErrUnsatisfiableRange
	}
	return spec, nil
}

// ResolveRange is ParseRangeHeader followed by ResolveRanges. An empty or
// unparsable header yields the whole resource.
func ResolveRange(header string, total int64) (RangeSpec, error) {
	if header == "" {
		return RangeSpec{Total: total}, nil
	}
	ranges, ok := ParseRangeHeader(header)
	if !ok {
		return RangeSpec{Total: total}, nil
	}
	return ResolveRanges(ranges, total)
}

// IfRangeMatches evaluates an If-Range precondition against the current
// validators. An entity tag must match strongly; a date must equal the
// modification time at second precision.
func IfRangeMatches(ifRange, etag string, modTime time.Time) bool {
	ifRange = strings.TrimSpace(ifRange)
	if ifRange == "" {
		return true
	}
	if strings.HasPrefix(ifRange, "W/") {
		return false
	}
	if ifRange[0] == '"' {
		return etag != "" && !strings.HasPrefix(etag, "W/") && ifRange == etag
	}
	t, err := time.Parse(TimeFormat, ifRange)
	if err != nil {
		return false
	}
	return modTime.UTC().Truncate(time.Second).Equal(t)
}
