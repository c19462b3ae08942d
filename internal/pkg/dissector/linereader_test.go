package dissector

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(lr *LineReader) []string {
	var out []string
	for lr.Next() {
		out = append(out, lr.Text())
	}
	return out
}

func TestLineReader_Basic(t *testing.T) {
	lr := NewLineReader(strings.NewReader("a\nb\r\n\nc"), 0)
	assert.Equal(t, []string{"a", "b", "", "c"}, readAll(lr))
	assert.NoError(t, lr.Err())
	assert.Equal(t, uint64(4), lr.Lines())
}

func TestLineReader_Empty(t *testing.T) {
	lr := NewLineReader(strings.NewReader(""), 0)
	assert.False(t, lr.Next())
	assert.Equal(t, uint64(0), lr.Lines())
}

func TestLineReader_Oversize(t *testing.T) {
	long := strings.Repeat("x", 200*1024)
	input := "keep1\n" + long + "\nkeep2\n" + "exact\n" + long
	lr := NewLineReader(strings.NewReader(input), 100*1024)

	assert.Equal(t, []string{"keep1", "keep2", "exact"}, readAll(lr))
	assert.Equal(t, uint64(2), lr.Oversize())
	assert.NoError(t, lr.Err())
}

func TestLineReader_LimitBoundary(t *testing.T) {
	input := "12345\n123456\r\n1234567\n"
	lr := NewLineReader(strings.NewReader(input), 6)
	assert.Equal(t, []string{"12345", "123456"}, readAll(lr))
	assert.Equal(t, uint64(1), lr.Oversize())
}

func TestLineReader_LongLineWithinLimit(t *testing.T) {
	long := strings.Repeat("y", 3*readBufferSize)
	lr := NewLineReader(strings.NewReader(long+"\nshort\n"), 4*readBufferSize)
	got := readAll(lr)
	require.Len(t, got, 2)
	assert.Equal(t, long, got[0])
	assert.Equal(t, "short", got[1])
}

func TestLineReader_InvalidUTF8(t *testing.T) {
	lr := NewLineReader(strings.NewReader("ok\xff\xfe\nfine\n"), 0)
	assert.Equal(t, []string{"ok�", "fine"}, readAll(lr))
	assert.Equal(t, uint64(1), lr.Repaired())
}

func TestLineReader_ReadError(t *testing.T) {
	boom := errors.New("boom")
	lr := NewLineReader(io.MultiReader(strings.NewReader("one\ntwo\n"), iotest.ErrReader(boom)), 0)
	assert.Equal(t, []string{"one", "two"}, readAll(lr))
	assert.ErrorIs(t, lr.Err(), boom)
	assert.False(t, lr.Next())
}

func TestLineReader_SmallReads(t *testing.T) {
	lr := NewLineReader(iotest.OneByteReader(strings.NewReader("alpha\nbeta\n")), 0)
	assert.Equal(t, []string{"alpha", "beta"}, readAll(lr))
}
