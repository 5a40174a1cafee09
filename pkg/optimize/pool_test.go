package optimize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBytePool_GetPut(t *testing.T) {
	p := NewBytePool(1024)
	assert.Equal(t, 1024, p.Size())

	b := p.Get()
	assert.Len(t, *b, 1024)

	*b = (*b)[:10]
	p.Put(b)

	again := p.Get()
	assert.Len(t, *again, 1024)
}

func TestBytePool_RejectsSmallSlices(t *testing.T) {
	p := NewBytePool(1024)
	small := make([]byte, 8)
	p.Put(&small)
	p.Put(nil)

	assert.Len(t, *p.Get(), 1024)
}
