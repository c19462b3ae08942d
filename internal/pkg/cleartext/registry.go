package cleartext

import (
	"fmt"
	"strings"
	"sync"

	"github.com/endorses/wirecat/internal/pkg/logger"
	"github.com/endorses/wirecat/internal/pkg/packet"
)

// Registry dispatches layers to analyzers in registration order. The first
// analyzer returning a result wins; the pattern scanner covers layers no
// analyzer claims.
type Registry struct {
	mu        sync.RWMutex
	analyzers []Analyzer
	names     map[string]struct{}
	fallback  *PatternScanner
}

// NewRegistry creates an empty registry with the pattern fallback enabled.
func NewRegistry() *Registry {
	return &Registry{
		names:    make(map[string]struct{}),
		fallback: NewPatternScanner(),
	}
}

// DefaultRegistry returns a registry with every built-in analyzer.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, a := range []Analyzer{
		NewHTTPAnalyzer(),
		NewFTPAnalyzer(),
		NewPOP3Analyzer(),
		NewIMAPAnalyzer(),
		NewSMTPAnalyzer(),
		NewLDAPAnalyzer(),
		NewMySQLAnalyzer(),
		NewPostgreSQLAnalyzer(),
		NewTelnetAnalyzer(),
		NewSIPAnalyzer(),
		NewDNSAnalyzer(),
	} {
		if err := r.Register(a); err != nil {
			// Built-in names are unique.
			panic(err)
		}
	}
	return r
}

// Register appends an analyzer. Names must be unique.
func (r *Registry) Register(a Analyzer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.names[a.Name()]; exists {
		return fmt.Errorf("analyzer %s already registered", a.Name())
	}
	r.names[a.Name()] = struct{}{}
	r.analyzers = append(r.analyzers, a)
	logger.Debug("Registered cleartext analyzer", "analyzer", a.Name(), "keywords", a.Keywords())
	return nil
}

// SetFallback replaces the pattern scanner; nil disables the fallback.
func (r *Registry) SetFallback(p *PatternScanner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = p
}

// Names returns analyzer names in dispatch order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.analyzers))
	for i, a := range r.analyzers {
		out[i] = a.Name()
	}
	return out
}

// Dispatch returns the first finding for layer, or nil.
func (r *Registry) Dispatch(layer *Layer) *Content {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stack := strings.ToLower(layer.Stack)
	for _, a := range r.analyzers {
		if !matches(stack, a.Keywords()) {
			continue
		}
		if c := a.Analyze(layer); c != nil {
			return c
		}
	}
	if r.fallback != nil {
		return r.fallback.Scan(layer)
	}
	return nil
}

func matches(stack string, keywords []string) bool {
	for _, k := range keywords {
		if packet.StackContains(stack, k) {
			return true
		}
	}
	return false
}
