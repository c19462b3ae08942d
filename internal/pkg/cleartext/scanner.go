package cleartext

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/endorses/wirecat/internal/pkg/cache"
	"github.com/endorses/wirecat/internal/pkg/constants"
	"github.com/endorses/wirecat/internal/pkg/logger"
	"github.com/endorses/wirecat/internal/pkg/packet"
	"github.com/spf13/viper"
)

// Config bounds the scanner's memory.
type Config struct {
	DedupeSize  int `mapstructure:"dedupe_size"`  // findings remembered for deduplication
	MaxFindings int `mapstructure:"max_findings"` // findings kept; later ones are counted only
	PendingSize int `mapstructure:"pending_size"` // flows waiting for a password after a username

	// DisablePatterns turns off the generic pattern fallback of the
	// default registry. A registry passed to NewScanner is left as is.
	DisablePatterns bool `mapstructure:"disable_patterns"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		DedupeSize:  constants.DefaultFindingCacheSize,
		MaxFindings: 10000,
		PendingSize: 4096,
	}
}

// ConfigFromViper reads cleartext.* keys over the defaults.
func ConfigFromViper() Config {
	cfg := DefaultConfig()
	if v := viper.GetInt("cleartext.dedupe_size"); v > 0 {
		cfg.DedupeSize = v
	}
	if v := viper.GetInt("cleartext.max_findings"); v > 0 {
		cfg.MaxFindings = v
	}
	cfg.DisablePatterns = viper.GetBool("cleartext.disable_patterns")
	return cfg
}

type findingKey struct {
	protocol string
	kind     Kind
	username string
	secret   string
	src, dst string
}

type pendingUser struct {
	protocol string
	username string
}

// Scanner runs every record through a registry and keeps distinct
// findings. Usernames seen on a flow are attached to a following password
// on the same flow, since FTP, POP3 and Telnet send them separately.
type Scanner struct {
	registry *Registry
	cfg      Config

	seen    *cache.LRU[findingKey, struct{}]
	pending *cache.LRU[packet.FlowKey, pendingUser]

	mu         sync.Mutex
	findings   []Content
	duplicates uint64
	dropped    uint64
}

// NewScanner creates a scanner; a nil registry uses DefaultRegistry.
func NewScanner(registry *Registry, cfg Config) *Scanner {
	def := DefaultConfig()
	if registry == nil {
		registry = DefaultRegistry()
		if cfg.DisablePatterns {
			registry.SetFallback(nil)
		}
	}
	if cfg.DedupeSize <= 0 {
		cfg.DedupeSize = def.DedupeSize
	}
	if cfg.MaxFindings <= 0 {
		cfg.MaxFindings = def.MaxFindings
	}
	if cfg.PendingSize <= 0 {
		cfg.PendingSize = def.PendingSize
	}
	return &Scanner{
		registry: registry,
		cfg:      cfg,
		seen:     cache.New[findingKey, struct{}](cfg.DedupeSize),
		pending:  cache.New[packet.FlowKey, pendingUser](cfg.PendingSize),
	}
}

func (s *Scanner) Name() string {
	return "cleartext"
}

// Consume scans records until the channel closes or ctx is done.
func (s *Scanner) Consume(ctx context.Context, records <-chan *packet.Record) error {
	for {
		select {
		case r, ok := <-records:
			if !ok {
				return nil
			}
			s.Scan(r)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ScanAll scans every record and returns the findings.
func (s *Scanner) ScanAll(records []*packet.Record) []Content {
	for _, r := range records {
		s.Scan(r)
	}
	return s.Findings()
}

// Scan analyzes one record and returns its finding, or nil when there is
// none or it duplicates an earlier one.
func (s *Scanner) Scan(r *packet.Record) *Content {
	if r.Cleartext == nil && !mayHoldSecret(r.Info) {
		return nil
	}
	c := s.registry.Dispatch(NewLayer(r))
	if c == nil {
		return nil
	}

	flow := r.Flow()
	switch {
	case c.Kind == KindUsername && c.Username != "":
		s.pending.Put(flow, pendingUser{protocol: c.Protocol, username: c.Username})
	case c.Username == "" && c.HasSecret():
		if p, ok := s.pending.Peek(flow); ok && p.protocol == c.Protocol {
			c.Username = p.username
			s.pending.Remove(flow)
		}
	}

	key := findingKey{
		protocol: c.Protocol,
		kind:     c.Kind,
		username: c.Username,
		secret:   c.Secret,
		src:      c.SrcIP,
		dst:      c.DstIP,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seen.Contains(key) {
		s.duplicates++
		return nil
	}
	s.seen.Put(key, struct{}{})

	if len(s.findings) >= s.cfg.MaxFindings {
		s.dropped++
		if s.dropped == 1 {
			logger.Warn("Cleartext finding limit reached", "limit", s.cfg.MaxFindings)
		}
		return c
	}
	s.findings = append(s.findings, *c)
	logger.Debug("Cleartext credential",
		"protocol", c.Protocol,
		"kind", string(c.Kind),
		"frame", c.Frame,
		"src", c.SrcIP,
		"dst", c.DstIP)
	return c
}

// Findings returns the distinct findings ordered by frame.
func (s *Scanner) Findings() []Content {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Content, len(s.findings))
	copy(out, s.findings)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Frame < out[j].Frame })
	return out
}

// Duplicates is the number of findings suppressed as repeats.
func (s *Scanner) Duplicates() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.duplicates
}

// Dropped is the number of distinct findings past MaxFindings.
func (s *Scanner) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// mayHoldSecret is a cheap filter for the pattern fallback on records
// without credential fields.
func mayHoldSecret(info string) bool {
	return strings.Contains(info, "=") ||
		strings.Contains(info, "AKIA") ||
		strings.Contains(info, "earer ")
}
