package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatsSinkIDsUnique(t *testing.T) {
	a := NewStatsSink()
	b := NewStatsSink()
	assert.NotEmpty(t, a.ID())
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestStatsSinkDetachWithoutAttach(t *testing.T) {
	s := NewStatsSink()
	// nothing attached yet: both calls must be harmless
	s.Detach()
	s.Detach()
	assert.Zero(t, s.Packets())
	assert.Zero(t, s.Bytes())
}
