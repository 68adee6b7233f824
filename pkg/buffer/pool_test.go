package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPool_RejectsNonPositiveSize(t *testing.T) {
	_, err := NewPool(0)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestPool_GetReturnsFullSizedBuffers(t *testing.T) {
	p, err := NewPool(4096)
	require.NoError(t, err)
	assert.Equal(t, 4096, p.Size())

	b := p.Get()
	assert.Len(t, *b, 4096)

	*b = (*b)[:10]
	p.Put(b)

	again := p.Get()
	assert.Len(t, *again, 4096)
}

func TestPool_PutDropsForeignBuffers(t *testing.T) {
	p, err := NewPool(1024)
	require.NoError(t, err)

	foreign := make([]byte, 10)
	p.Put(&foreign)
	p.Put(nil)

	assert.Len(t, *p.Get(), 1024)
}
