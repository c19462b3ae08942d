package dissector

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"sync/atomic"
	"unicode/utf8"
)

const readBufferSize = 64 << 10

// LineReader splits dissector output into lines. Lines longer than the
// configured maximum are skipped and counted; invalid UTF-8 is replaced
// with U+FFFD.
type LineReader struct {
	r    *bufio.Reader
	max  int
	line []byte
	buf  []byte
	err  error

	lines    atomic.Uint64
	oversize atomic.Uint64
	repaired atomic.Uint64
}

// NewLineReader wraps r. maxLen <= 0 disables the length limit.
func NewLineReader(r io.Reader, maxLen int) *LineReader {
	return &LineReader{
		r:   bufio.NewReaderSize(r, readBufferSize),
		max: maxLen,
	}
}

// Next advances to the next line, returning false at EOF or on error.
// The bytes returned by Bytes are only valid until the following call.
func (lr *LineReader) Next() bool {
	if lr.err != nil {
		return false
	}
	for {
		line, skipped, err := lr.readLine()
		if err != nil && !errors.Is(err, io.EOF) {
			lr.err = err
			return false
		}
		if skipped {
			lr.oversize.Add(1)
			if err != nil {
				return false
			}
			continue
		}
		if err != nil && len(line) == 0 {
			return false
		}
		if !utf8.Valid(line) {
			line = bytes.ToValidUTF8(line, []byte("�"))
			lr.repaired.Add(1)
		}
		lr.line = line
		lr.lines.Add(1)
		return true
	}
}

// readLine returns one line including its terminator. skipped reports a
// line that exceeded the limit and was discarded.
func (lr *LineReader) readLine() (line []byte, skipped bool, err error) {
	chunk, err := lr.r.ReadSlice('\n')
	if !errors.Is(err, bufio.ErrBufferFull) {
		return chunk, lr.tooLong(chunk), err
	}

	lr.buf = append(lr.buf[:0], chunk...)
	for errors.Is(err, bufio.ErrBufferFull) {
		chunk, err = lr.r.ReadSlice('\n')
		if !skipped {
			if lr.max > 0 && len(lr.buf)+len(chunk) > lr.max+2 {
				skipped = true
				lr.buf = lr.buf[:0]
				continue
			}
			lr.buf = append(lr.buf, chunk...)
		}
	}
	if skipped {
		return nil, true, err
	}
	return lr.buf, lr.tooLong(lr.buf), err
}

func (lr *LineReader) tooLong(line []byte) bool {
	return lr.max > 0 && len(trimEOL(line)) > lr.max
}

// Bytes returns the current line without its line terminator.
func (lr *LineReader) Bytes() []byte {
	return trimEOL(lr.line)
}

// Text returns a copy of the current line.
func (lr *LineReader) Text() string {
	return string(lr.Bytes())
}

// Err returns the first non-EOF read error.
func (lr *LineReader) Err() error {
	return lr.err
}

// Lines is the number of lines returned so far.
func (lr *LineReader) Lines() uint64 {
	return lr.lines.Load()
}

// Oversize is the number of lines skipped for exceeding the limit.
func (lr *LineReader) Oversize() uint64 {
	return lr.oversize.Load()
}

// Repaired is the number of lines that had invalid UTF-8 replaced.
func (lr *LineReader) Repaired() uint64 {
	return lr.repaired.Load()
}

func trimEOL(b []byte) []byte {
	if n := len(b); n > 0 && b[n-1] == '\n' {
		b = b[:n-1]
		if n := len(b); n > 0 && b[n-1] == '\r' {
			b = b[:n-1]
		}
	}
	return b
}
