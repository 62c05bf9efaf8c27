package errcount

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestCounter(t *testing.T) {
	c := New()
	assert.NoError(t, c.Err("none"))
	assert.Equal(t, 0, c.Count())

	c.Add(nil)
	assert.NoError(t, c.Err("none"))
	assert.Equal(t, 0, c.Count())

	e1 := errors.New("backend 0 unreachable")
	c.Add(e1)
	assert.Equal(t, 1, c.Count())

	err := c.Err("delete")
	assert.Equal(t, e1, errors.Cause(err))
	assert.Equal(t, "delete: backend 0 unreachable", err.Error())

	c.Add(errors.New("backend 2 unreachable"))
	assert.Equal(t, 2, c.Count())

	// the summary names the first error, not the loudest
	err = c.Err("delete")
	assert.Equal(t, e1, errors.Cause(err))
	assert.Equal(t, "delete: 2 errors, first: backend 0 unreachable", err.Error())
}

func TestCounterZeroValue(t *testing.T) {
	var c Counter
	c.Add(errors.New("boom"))
	assert.Error(t, c.Err("fanout"))
}
