package buffer

import (
	"sync"
)

// Pool hands out fixed-size chunk buffers so that streaming a range or
// draining an upload keeps exactly one chunk in flight per connection.
type Pool struct {
	size int
	pool sync.Pool
}

// NewPool creates a pool of buffers of the given size
func NewPool(size int) (*Pool, error) {
	if size <= 0 {
		return nil, ErrInvalidSize
	}
	p := &Pool{size: size}
	p.pool.New = func() interface{} {
		b := make([]byte, size)
		return &b
	}
	return p, nil
}

// Get returns a buffer of exactly Size bytes
func (p *Pool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

// Put returns a buffer to the pool; foreign-sized buffers are dropped
func (p *Pool) Put(b *[]byte) {
	if b == nil || cap(*b) != p.size {
		return
	}
	*b = (*b)[:p.size]
	p.pool.Put(b)
}

// Size returns the chunk size handed out by the pool
func (p *Pool) Size() int {
	return p.size
}
