package ingest

import (
	"io"

	"github.com/endorses/wirecat/internal/pkg/dissector"
)

// Source yields dissector output one line at a time. Bytes is only valid
// until the next call to Next.
type Source interface {
	Next() bool
	Bytes() []byte
	Err() error
}

// Closer is implemented by sources that can be stopped early, typically by
// killing the process behind them.
type Closer interface {
	Close() error
}

// Waiter is implemented by sources with a final status to collect after
// the last line, such as a process exit code.
type Waiter interface {
	Wait() error
}

// oversizeCounter is implemented by sources that skip overlong lines.
type oversizeCounter interface {
	Oversize() uint64
}

// ProcessSource adapts a running dissector to Source.
type ProcessSource struct {
	*dissector.LineReader
	proc *dissector.Process
}

// FromProcess returns a source reading p's stdout. Closing it kills p and
// Wait reaps it.
func FromProcess(p *dissector.Process) *ProcessSource {
	return &ProcessSource{LineReader: p.Lines(), proc: p}
}

// Close kills the process.
func (s *ProcessSource) Close() error {
	return s.proc.Close()
}

// Wait reaps the process.
func (s *ProcessSource) Wait() error {
	return s.proc.Wait()
}

// ReaderSource reads lines from any reader, such as a saved dissector
// output file.
type ReaderSource struct {
	*dissector.LineReader
	c io.Closer
}

// FromReader wraps r. When r is also an io.Closer it is closed on
// cancellation.
func FromReader(r io.Reader, maxLineLength int) *ReaderSource {
	c, _ := r.(io.Closer)
	return &ReaderSource{
		LineReader: dissector.NewLineReader(r, maxLineLength),
		c:          c,
	}
}

// Close closes the underlying reader when it is closable.
func (s *ReaderSource) Close() error {
	if s.c == nil {
		return nil
	}
	return s.c.Close()
}
