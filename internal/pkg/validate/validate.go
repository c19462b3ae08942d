// Package validate whitelists capture paths, display filters and field names
// before they are placed into a dissector argument vector.
//
// Every function is pure apart from logging. Nothing is ever corrected:
// input either passes unchanged (paths are canonicalised) or is rejected
// with a *ValidationError.
package validate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/endorses/wirecat/internal/pkg/logger"
)

const (
	// MaxPathLength is the longest capture path accepted.
	MaxPathLength = 4096

	// MaxFilterLength is the longest display filter accepted.
	MaxFilterLength = 1024

	// MaxFieldLength is the longest field name accepted.
	MaxFieldLength = 128
)

// shellMetachars are rejected anywhere in a path.
const shellMetachars = ";&|<>`$(){}[]\n\r"

// quoteChars are rejected anywhere in a path.
const quoteChars = "'\""

// ErrValidation is matched by errors.Is for every *ValidationError.
var ErrValidation = errors.New("validation failed")

// Kind identifies what was being validated.
type Kind string

const (
	KindPath   Kind = "path"
	KindFilter Kind = "filter"
	KindField  Kind = "field"
)

// ValidationError reports rejected input. Value is truncated for logging.
type ValidationError struct {
	Kind   Kind
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Kind, e.Value, e.Reason)
}

// Unwrap lets callers test with errors.Is(err, ErrValidation).
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

func reject(kind Kind, value, reason string) error {
	if len(value) > 80 {
		value = value[:80] + "..."
	}
	logger.Warn("Rejected input", "kind", string(kind), "reason", reason)
	return &ValidationError{Kind: kind, Value: value, Reason: reason}
}

// allowedExtensions are the capture container formats the dissector reads.
var allowedExtensions = []string{
	".pcap", ".pcapng", ".cap", ".dmp", ".erf", ".snoop",
	".pcap.gz", ".pcapng.gz",
}

// AllowedExtensions returns a copy of the capture extension allow-list.
func AllowedExtensions() []string {
	return append([]string(nil), allowedExtensions...)
}

func hasAllowedExtension(path string) bool {
	lower := strings.ToLower(path)
	for _, ext := range allowedExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// FilePath validates a capture file path and returns it as a clean absolute path.
func FilePath(path string) (string, error) {
	if path == "" {
		return "", reject(KindPath, path, "empty path")
	}
	if len(path) > MaxPathLength {
		return "", reject(KindPath, path, fmt.Sprintf("longer than %d characters", MaxPathLength))
	}
	if strings.ContainsAny(path, shellMetachars) {
		return "", reject(KindPath, path, "contains shell metacharacters")
	}
	if strings.ContainsAny(path, quoteChars) {
		return "", reject(KindPath, path, "contains quote characters")
	}
	if strings.Contains(path, "~") {
		return "", reject(KindPath, path, "contains tilde")
	}
	if !hasAllowedExtension(path) {
		return "", reject(KindPath, path, "extension is not a supported capture format")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", reject(KindPath, path, "cannot resolve absolute path")
	}
	abs = filepath.Clean(abs)

	info, err := os.Stat(abs)
	if err != nil {
		return "", reject(KindPath, path, "file does not exist")
	}
	if info.IsDir() {
		return "", reject(KindPath, path, "is a directory")
	}

	logger.Debug("Validated capture path", "path", abs)
	return abs, nil
}

// filterAllowed matches display filters built only from identifiers,
// numbers, dots, comparison/logical operators and grouping characters.
var filterAllowed = regexp.MustCompile(`^[A-Za-z0-9 ._:=!<>&|()\[\]/,\-]*$`)

// Filter validates a display filter expression. Empty filters pass.
func Filter(expr string) (string, error) {
	if expr == "" {
		return "", nil
	}
	if len(expr) > MaxFilterLength {
		return "", reject(KindFilter, expr, fmt.Sprintf("longer than %d characters", MaxFilterLength))
	}
	if !filterAllowed.MatchString(expr) {
		return "", reject(KindFilter, expr, "contains characters outside the filter allow-list")
	}
	return expr, nil
}

var fieldPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*(\.[a-z0-9_]+)*$`)

// Field validates a single dissector field name such as "ip.src" or "_ws.col.Protocol".
func Field(name string) error {
	if name == "" {
		return reject(KindField, name, "empty field name")
	}
	if len(name) > MaxFieldLength {
		return reject(KindField, name, fmt.Sprintf("longer than %d characters", MaxFieldLength))
	}
	if !fieldPattern.MatchString(columnFold(name)) {
		return reject(KindField, name, "does not follow the field naming convention")
	}
	return nil
}

// columnFold lowercases the segment after "_ws.col." since column fields
// ("_ws.col.Protocol") are the dissector's only mixed-case names.
func columnFold(name string) string {
	const col = "_ws.col."
	if strings.HasPrefix(name, col) {
		return col + strings.ToLower(name[len(col):])
	}
	return name
}

// Fields validates every name and returns the first failure.
func Fields(names []string) error {
	for _, n := range names {
		if err := Field(n); err != nil {
			return err
		}
	}
	return nil
}
