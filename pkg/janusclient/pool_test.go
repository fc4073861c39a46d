package janusclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPoolPutGetRemove(t *testing.T) {
	p := NewPool()
	c := NewClient("backend-1", "http://example.invalid")

	_, ok := p.Get("backend-1")
	assert.False(t, ok)

	p.Put("backend-1", c)
	got, ok := p.Get("backend-1")
	assert.True(t, ok)
	assert.Same(t, c, got)
	assert.Equal(t, 1, p.Len())

	p.Remove("backend-1")
	_, ok = p.Get("backend-1")
	assert.False(t, ok)
	assert.Equal(t, 0, p.Len())
}

func TestPoolAllSnapshot(t *testing.T) {
	p := NewPool()
	p.Put("b1", NewClient("b1", "http://example.invalid"))
	p.Put("b2", NewClient("b2", "http://example.invalid"))

	all := p.All()
	assert.Len(t, all, 2)
}
