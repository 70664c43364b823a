package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewULID_Monotonic(t *testing.T) {
	prev := NewULID()
	for i := 0; i < 100; i++ {
		next := NewULID()
		assert.Len(t, next, 26)
		assert.Equal(t, strings.ToLower(next), next)
		assert.Less(t, prev, next)
		prev = next
	}
}
