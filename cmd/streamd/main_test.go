package main

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPath(t *testing.T) {
	still, err := newPath("still", 10, 0, 30)
	require.NoError(t, err)
	assert.Zero(t, still.ViewerAt(100))

	line, err := newPath("line", 30, 0, 30)
	require.NoError(t, err)
	assert.InDelta(t, 10.0, line.ViewerAt(10).X, 1e-9)

	circle, err := newPath("circle", 8, 100, 30)
	require.NoError(t, err)
	for _, tick := range []uint64{0, 17, 900} {
		p := circle.ViewerAt(tick)
		assert.InDelta(t, 100.0, math.Hypot(p.X, p.Y), 1e-9)
	}

	_, err = newPath("circle", 8, 0, 30)
	assert.Error(t, err)
	_, err = newPath("zigzag", 8, 1, 30)
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	l, err := newLogger("json", "debug")
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = newLogger("xml", "info")
	assert.Error(t, err)
	_, err = newLogger("text", "loud")
	assert.Error(t, err)
}
