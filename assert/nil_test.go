package assert

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type thing struct{}

func TestNotNil(t *testing.T) {
	var typed *thing

	assert.NotPanics(t, func() { NotNil(&thing{}, "thing") })
	assert.PanicsWithValue(t, "assertion failed: thing 1", func() { NotNil(nil, "thing %d", 1) })
	assert.Panics(t, func() { NotNil(typed, "typed nil") })
}

func TestIsNil(t *testing.T) {
	var typed *thing

	assert.NotPanics(t, func() { IsNil(nil, "nil") })
	assert.NotPanics(t, func() { IsNil(typed, "typed nil") })
	assert.Panics(t, func() { IsNil(1, "one") })
}
