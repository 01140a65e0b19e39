package ring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTriplePublishLoad(t *testing.T) {
	tb := NewTriple[int](0)
	assert.Equal(t, 0, tb.Load())

	tb.Publish(42)
	assert.Equal(t, 42, tb.Load())
	assert.Equal(t, 42, tb.Load(), "repeated loads return the same published value")

	tb.Publish(7)
	assert.Equal(t, 7, tb.Load())
}

func TestTripleStruct(t *testing.T) {
	type stats struct{ Count int }
	tb := NewTriple[stats](stats{})
	tb.Publish(stats{Count: 5})
	assert.Equal(t, 5, tb.Load().Count)
}
