package blog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNopDoesNotPanic(t *testing.T) {
	l := NewNop()
	require.NotNil(t, l)
	l.Info("hello")
	l.Warn("hello")
	l.Error("hello")
	l.Debug("hello")
	l.Bullets("things", []string{"a", "b"})
	require.NoError(t, l.Sync())
}

func TestWithReturnsChildLogger(t *testing.T) {
	l := NewNop()
	child := l.With()
	assert.NotNil(t, child)
	assert.NotSame(t, l, child)
}

func TestNewDevelopmentBuildsLogger(t *testing.T) {
	l, err := NewDevelopment()
	require.NoError(t, err)
	require.NotNil(t, l)
	l.Info("startup")
}
