// Package dissector builds argument vectors for the external packet
// dissector and runs it with its output exposed as a stream of lines.
//
// The dissector is never started through a shell. Every caller-supplied
// value (capture path, display filter, field names) is validated by the
// validate package and then placed into its own argv element, so no value
// can change the number or meaning of the other arguments.
package dissector

import (
	"errors"
	"fmt"

	"github.com/endorses/wirecat/internal/pkg/packet"
	"github.com/endorses/wirecat/internal/pkg/validate"
)

var (
	// ErrNoInput is returned by Build when no capture file was set.
	ErrNoInput = errors.New("no input file set")

	// ErrNoFields is returned by Build when fields output has no fields.
	ErrNoFields = errors.New("fields output selected without any fields")
)

// OutputMode selects the dissector's output format.
type OutputMode int

const (
	// OutputFields prints one tab-separated line per frame (-T fields).
	OutputFields OutputMode = iota
	// OutputText prints the default one-line summary per frame.
	OutputText
)

// Command accumulates validated arguments. Setter errors are deferred to
// Build so calls can be chained.
type Command struct {
	input      string
	filter     string
	fields     []string
	output     OutputMode
	occurrence byte
	err        error
}

// NewCommand returns an empty command in fields output mode.
func NewCommand() *Command {
	return &Command{output: OutputFields, occurrence: 'f'}
}

// Input sets the capture file. The path is validated and canonicalised.
func (c *Command) Input(path string) *Command {
	if c.err != nil {
		return c
	}
	abs, err := validate.FilePath(path)
	if err != nil {
		c.err = err
		return c
	}
	c.input = abs
	return c
}

// Filter sets the display filter; empty clears it.
func (c *Command) Filter(expr string) *Command {
	if c.err != nil {
		return c
	}
	f, err := validate.Filter(expr)
	if err != nil {
		c.err = err
		return c
	}
	c.filter = f
	return c
}

// Fields appends fields to extract, in order.
func (c *Command) Fields(names ...string) *Command {
	if c.err != nil {
		return c
	}
	if err := validate.Fields(names); err != nil {
		c.err = err
		return c
	}
	c.fields = append(c.fields, names...)
	return c
}

// Output selects the output mode.
func (c *Command) Output(mode OutputMode) *Command {
	c.output = mode
	return c
}

// Occurrence selects which occurrence of repeated fields is printed:
// 'f' first, 'l' last, 'a' all.
func (c *Command) Occurrence(o byte) *Command {
	if c.err != nil {
		return c
	}
	switch o {
	case 'f', 'l', 'a':
		c.occurrence = o
	default:
		c.err = fmt.Errorf("invalid occurrence %q", o)
	}
	return c
}

// Build returns the argument vector:
//
//	-r <path> [-Y <filter>] -T fields -e <f1> -e <f2> ... -E occurrence=f
func (c *Command) Build() ([]string, error) {
	if c.err != nil {
		return nil, c.err
	}
	if c.input == "" {
		return nil, ErrNoInput
	}
	if c.output == OutputFields && len(c.fields) == 0 {
		return nil, ErrNoFields
	}

	args := make([]string, 0, 6+2*len(c.fields))
	args = append(args, "-r", c.input)
	if c.filter != "" {
		args = append(args, "-Y", c.filter)
	}
	if c.output == OutputFields {
		args = append(args, "-T", "fields")
		for _, f := range c.fields {
			args = append(args, "-e", f)
		}
		args = append(args, "-E", "occurrence="+string(c.occurrence))
	}
	return args, nil
}

// CountCommand extracts only the frame number, the cheapest way to count frames.
func CountCommand(path, filter string) ([]string, error) {
	return NewCommand().Input(path).Filter(filter).Fields(packet.Layout[packet.FieldFrameNumber]).Build()
}

// AnalysisCommand extracts the full streaming analysis layout.
func AnalysisCommand(path, filter string) ([]string, error) {
	return NewCommand().Input(path).Filter(filter).Fields(packet.Fields()...).Build()
}

// FieldsCommand extracts caller-chosen fields. occurrence is 'f', 'l' or
// 'a'; zero keeps the first occurrence.
func FieldsCommand(path, filter string, occurrence byte, fields ...string) ([]string, error) {
	c := NewCommand().Input(path).Filter(filter).Fields(fields...)
	if occurrence != 0 {
		c = c.Occurrence(occurrence)
	}
	return c.Build()
}
