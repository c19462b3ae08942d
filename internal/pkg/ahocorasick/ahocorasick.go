// Package ahocorasick matches many literal patterns against an input in a
// single pass, case-insensitively for ASCII.
//
// Matching runs in O(n + z) for an input of length n with z matches,
// independent of the number of patterns.
package ahocorasick

type state struct {
	next    map[byte]int
	failure int
	// output holds the pattern indexes ending here, including those
	// inherited through the failure chain.
	output []int
}

// Match is one occurrence of a pattern.
type Match struct {
	Pattern int // index into the patterns given to New
	End     int // offset just past the last matched byte
}

// Matcher is an immutable automaton, safe for concurrent use.
type Matcher struct {
	states   []state
	patterns []string
}

// New builds a matcher. Empty patterns never match.
func New(patterns []string) *Matcher {
	m := &Matcher{
		states:   []state{{next: make(map[byte]int)}},
		patterns: append([]string(nil), patterns...),
	}
	for i, p := range m.patterns {
		if p == "" {
			continue
		}
		cur := 0
		for j := 0; j < len(p); j++ {
			c := lower(p[j])
			nxt, ok := m.states[cur].next[c]
			if !ok {
				nxt = len(m.states)
				m.states = append(m.states, state{next: make(map[byte]int)})
				m.states[cur].next[c] = nxt
			}
			cur = nxt
		}
		m.states[cur].output = append(m.states[cur].output, i)
	}
	m.link()
	return m
}

// link computes failure links breadth first, so a state's failure target
// is always complete before the state itself is processed.
func (m *Matcher) link() {
	queue := make([]int, 0, len(m.states))
	for _, s := range m.states[0].next {
		queue = append(queue, s)
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for c, nxt := range m.states[cur].next {
			queue = append(queue, nxt)
			f := m.states[cur].failure
			for f != 0 {
				if _, ok := m.states[f].next[c]; ok {
					break
				}
				f = m.states[f].failure
			}
			if t, ok := m.states[f].next[c]; ok && t != nxt {
				m.states[nxt].failure = t
			}
			if out := m.states[m.states[nxt].failure].output; len(out) > 0 {
				m.states[nxt].output = append(m.states[nxt].output, out...)
			}
		}
	}
}

func lower(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + 'a' - 'A'
	}
	return c
}

func (m *Matcher) step(cur int, c byte) int {
	for {
		if nxt, ok := m.states[cur].next[c]; ok {
			return nxt
		}
		if cur == 0 {
			return 0
		}
		cur = m.states[cur].failure
	}
}

// Match returns every occurrence in input, ordered by end offset.
func (m *Matcher) Match(input string) []Match {
	var out []Match
	cur := 0
	for i := 0; i < len(input); i++ {
		cur = m.step(cur, lower(input[i]))
		for _, p := range m.states[cur].output {
			out = append(out, Match{Pattern: p, End: i + 1})
		}
	}
	return out
}

// First returns the pattern whose occurrence ends earliest in input.
func (m *Matcher) First(input string) (int, bool) {
	cur := 0
	for i := 0; i < len(input); i++ {
		cur = m.step(cur, lower(input[i]))
		if out := m.states[cur].output; len(out) > 0 {
			return out[0], true
		}
	}
	return -1, false
}

// Pattern returns the i-th pattern as given to New.
func (m *Matcher) Pattern(i int) string {
	return m.patterns[i]
}

// Len is the number of patterns.
func (m *Matcher) Len() int {
	return len(m.patterns)
}
