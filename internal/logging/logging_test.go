package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFormatsMessages(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(buf, "info").With("component", "test")
	logger.Info("hello %s", "world")

	require.NotEmpty(t, buf.String())
	assert.Contains(t, buf.String(), "hello world")
	assert.Contains(t, buf.String(), `"component":"test"`)
}

func TestInfoSuppressedAtWarnLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := New(buf, "warn")
	logger.Info("should not appear")
	logger.Warn("should appear %d", 1)

	assert.NotContains(t, buf.String(), "should not appear")
	assert.Contains(t, buf.String(), "should appear 1")
}

func TestOrNopHandlesNil(t *testing.T) {
	var l Logger
	safe := OrNop(l)
	require.False(t, IsNil(safe))
	safe.Info("no panic")

	var typedNil *zlog
	l = typedNil
	assert.True(t, IsNil(l))
}
