package cache

import (
	"fmt"
	"strconv"
	"strings"
)

// Range is a single byte range from a Range request header. A suffix range
// ("bytes=-N") has only End set, holding N.
type Range struct {
	Start    int64
	End      int64
	HasStart bool
	HasEnd   bool
}

// RangeError reports a range that lies outside the entry.
type RangeError struct {
	Size int64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("range not satisfiable for size %d", e.Size)
}

// ParseRange parses "bytes=<start>-[<end>]" and "bytes=-<suffix>". Multiple
// ranges and malformed values report false so callers can serve the whole
// entry instead.
func ParseRange(header string) (*Range, bool) {
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok || strings.Contains(spec, ",") {
		return nil, false
	}
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return nil, false
	}
	var r Range
	if startStr != "" {
		v, err := parseOffset(startStr)
		if err != nil {
			return nil, false
		}
		r.Start, r.HasStart = v, true
	}
	if endStr != "" {
		v, err := parseOffset(endStr)
		if err != nil {
			return nil, false
		}
		r.End, r.HasEnd = v, true
	}
	if !r.HasStart && !r.HasEnd {
		return nil, false
	}
	if r.HasStart && r.HasEnd && r.End < r.Start {
		return nil, false
	}
	return &r, true
}

func parseOffset(s string) (int64, error) {
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid offset %q", s)
		}
	}
	return strconv.ParseInt(s, 10, 64)
}

// Resolve clamps the range to an entry of size bytes and returns the
// inclusive bounds.
func (r *Range) Resolve(size int64) (int64, int64, error) {
	if size <= 0 {
		return 0, 0, &RangeError{Size: size}
	}
	if !r.HasStart {
		if r.End == 0 {
			return 0, 0, &RangeError{Size: size}
		}
		start := size - r.End
		if start < 0 {
			start = 0
		}
		return start, size - 1, nil
	}
	if r.Start >= size {
		return 0, 0, &RangeError{Size: size}
	}
	end := size - 1
	if r.HasEnd && r.End < end {
		end = r.End
	}
	return r.Start, end, nil
}
