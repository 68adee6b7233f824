package buffer

import "errors"

var (
	// ErrInvalidSize indicates that the requested chunk size is not positive.
	ErrInvalidSize = errors.New("invalid buffer size")
)
