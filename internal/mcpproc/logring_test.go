package mcpproc

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLogRingTailReturnsNewestLast(t *testing.T) {
	r := NewLogRing(0, 0)
	r.Push(StreamStdout, "one")
	r.Push(StreamStdout, "two")
	r.Push(StreamStderr, "three")

	tail := r.Tail(2)
	require := assert.New(t)
	require.Len(tail, 2)
	require.Equal("two", tail[0].Line)
	require.Equal("three", tail[1].Line)
}

func TestLogRingEvictsOldestOnLineCap(t *testing.T) {
	r := NewLogRing(3, 0)
	for i := 0; i < 5; i++ {
		r.Push(StreamStdout, strings.Repeat("x", i+1))
	}
	assert.Equal(t, 3, r.Len())
	tail := r.Tail(0)
	assert.Equal(t, "xxx", tail[0].Line)
	assert.Equal(t, "xxxxx", tail[2].Line)
}

func TestLogRingEvictsOnByteCap(t *testing.T) {
	r := NewLogRing(100, 10)
	r.Push(StreamStdout, "123456")
	r.Push(StreamStdout, "7890123")
	assert.LessOrEqual(t, r.Len(), 2)
	tail := r.Tail(0)
	assert.Equal(t, "7890123", tail[len(tail)-1].Line)
}

func TestLogRingTailZeroReturnsEmptyWhenNoRecords(t *testing.T) {
	r := NewLogRing(0, 0)
	assert.Empty(t, r.Tail(5))
}
