package packet

import "sync"

// DefaultInternCapacity bounds the number of distinct strings an Interner keeps.
const DefaultInternCapacity = 1 << 16

// Interner deduplicates low-cardinality strings (protocol stacks, labels,
// addresses) so millions of records share one copy of each. Once full it
// stops adding entries and falls back to plain copies.
type Interner struct {
	mu  sync.Mutex
	m   map[string]string
	max int
}

// NewInterner creates an interner holding at most capacity strings.
func NewInterner(capacity int) *Interner {
	if capacity <= 0 {
		capacity = DefaultInternCapacity
	}
	return &Interner{m: make(map[string]string, 256), max: capacity}
}

// Intern returns a string equal to b, reusing a previous copy when possible.
// A nil Interner just copies.
func (in *Interner) Intern(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if in == nil {
		return string(b)
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	// string(b) in a map index does not allocate.
	if s, ok := in.m[string(b)]; ok {
		return s
	}
	s := string(b)
	if len(in.m) < in.max {
		in.m[s] = s
	}
	return s
}

// Len returns the number of interned strings.
func (in *Interner) Len() int {
	if in == nil {
		return 0
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.m)
}

// Reset drops every interned string.
func (in *Interner) Reset() {
	if in == nil {
		return
	}
	in.mu.Lock()
	in.m = make(map[string]string, 256)
	in.mu.Unlock()
}
