package domain

import "fmt"

// ByteRange is an inclusive [Start, End] span of a file of TotalSize bytes.
// Invariant: 0 <= Start <= End <= TotalSize-1.
type ByteRange struct {
	Start     int64
	End       int64
	TotalSize int64
}

// NewByteRange validates the invariant before constructing the range
func NewByteRange(start, end, total int64) (ByteRange, error) {
	if total <= 0 {
		return ByteRange{}, fmt.Errorf("invalid total size %d", total)
	}
	if start < 0 || start > end || end > total-1 {
		return ByteRange{}, fmt.Errorf("invalid range %d-%d of %d", start, end, total)
	}
	return ByteRange{Start: start, End: end, TotalSize: total}, nil
}

// FullRange covers the whole file
func FullRange(total int64) ByteRange {
	return ByteRange{Start: 0, End: total - 1, TotalSize: total}
}

func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange formats the Content-Range header value
func (r ByteRange) ContentRange() string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, r.TotalSize)
}

// IsFull reports whether the range covers the entire file
func (r ByteRange) IsFull() bool {
	return r.Start == 0 && r.End == r.TotalSize-1
}
