// Package rangereq turns an HTTP Range header into a serving decision.
//
// Only single byte ranges are honoured: "bytes=start-end", "bytes=start-" and
// "bytes=-suffix". An end past the file is clamped to the last byte rather than
// rejected. Anything else resolves to Unsatisfiable; resolution never fails.
package rangereq

import (
	"net/http"
	"strconv"
	"strings"

	"netprobe/internal/netprobe/domain"
)

type Kind int

const (
	// Full means no Range header: serve the whole file with 200.
	Full Kind = iota
	// Partial means a valid single range: serve it with 206.
	Partial
	// Unsatisfiable means the header cannot be served: 416 with no body.
	Unsatisfiable
)

func (k Kind) String() string {
	switch k {
	case Full:
		return "full"
	case Partial:
		return "partial"
	case Unsatisfiable:
		return "unsatisfiable"
	default:
		return "unknown"
	}
}

// Decision is the outcome of resolving a Range header against a file size.
// Range is only meaningful for Full and Partial.
type Decision struct {
	Kind   Kind
	Range  domain.ByteRange
	Reason string
}

// Status returns the HTTP status code for the decision
func (d Decision) Status() int {
	switch d.Kind {
	case Full:
		return http.StatusOK
	case Partial:
		return http.StatusPartialContent
	default:
		return http.StatusRequestedRangeNotSatisfiable
	}
}

const unitPrefix = "bytes="

// Resolve decides how to serve a file of totalSize bytes given the raw Range
// header value. present distinguishes an absent header from an empty one.
func Resolve(header string, present bool, totalSize int64) Decision {
	if totalSize <= 0 {
		return unsatisfiable("empty payload")
	}
	if !present {
		return Decision{Kind: Full, Range: domain.FullRange(totalSize)}
	}

	header = strings.TrimSpace(header)
	if len(header) < len(unitPrefix) || !strings.EqualFold(header[:len(unitPrefix)], unitPrefix) {
		return unsatisfiable("unsupported range unit")
	}

	spec := strings.TrimSpace(header[len(unitPrefix):])
	if strings.Contains(spec, ",") {
		return unsatisfiable("multiple ranges not supported")
	}

	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return unsatisfiable("missing '-' in range")
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	var start, end int64
	switch {
	case startStr == "" && endStr == "":
		return unsatisfiable("empty range")

	case startStr == "":
		suffix, ok := parseOffset(endStr)
		if !ok || suffix == 0 {
			return unsatisfiable("invalid suffix length")
		}
		if suffix > totalSize {
			suffix = totalSize
		}
		start, end = totalSize-suffix, totalSize-1

	default:
		var ok bool
		start, ok = parseOffset(startStr)
		if !ok {
			return unsatisfiable("invalid range start")
		}
		if endStr == "" {
			end = totalSize - 1
		} else {
			end, ok = parseOffset(endStr)
			if !ok {
				return unsatisfiable("invalid range end")
			}
			if end > totalSize-1 {
				end = totalSize - 1
			}
		}
	}

	if start > end {
		return unsatisfiable("range start beyond end")
	}

	r, err := domain.NewByteRange(start, end, totalSize)
	if err != nil {
		return unsatisfiable(err.Error())
	}
	return Decision{Kind: Partial, Range: r}
}

// parseOffset accepts only plain decimal digits; signs and spaces are rejected.
func parseOffset(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func unsatisfiable(reason string) Decision {
	return Decision{Kind: Unsatisfiable, Reason: reason}
}

// UnsatisfiedContentRange is the Content-Range value sent with a 416
func UnsatisfiedContentRange(totalSize int64) string {
	return "bytes */" + strconv.FormatInt(totalSize, 10)
}
