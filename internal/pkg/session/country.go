package session

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"

	"github.com/endorses/wirecat/internal/pkg/packet"
	"github.com/spf13/viper"
)

// CountryResolver maps an address to a country code, or "" when unknown.
type CountryResolver interface {
	Country(addr string) string
}

// PrefixResolver resolves countries from a static prefix table. The most
// specific matching prefix wins.
type PrefixResolver struct {
	prefixes []netip.Prefix
	codes    []string
}

// NewPrefixResolver builds a resolver from prefix to country code, e.g.
// {"192.0.2.0/24": "NL"}.
func NewPrefixResolver(table map[string]string) (*PrefixResolver, error) {
	r := &PrefixResolver{}
	type entry struct {
		prefix netip.Prefix
		code   string
	}
	entries := make([]entry, 0, len(table))
	for p, code := range table {
		prefix, err := netip.ParsePrefix(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid country prefix %q: %w", p, err)
		}
		entries = append(entries, entry{prefix: prefix.Masked(), code: strings.ToUpper(code)})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].prefix.Bits() != entries[j].prefix.Bits() {
			return entries[i].prefix.Bits() > entries[j].prefix.Bits()
		}
		return entries[i].prefix.String() < entries[j].prefix.String()
	})
	for _, e := range entries {
		r.prefixes = append(r.prefixes, e.prefix)
		r.codes = append(r.codes, e.code)
	}
	return r, nil
}

// PrefixResolverFromViper reads the session.countries table. It returns
// nil when the table is empty.
func PrefixResolverFromViper() (*PrefixResolver, error) {
	table := viper.GetStringMapString("session.countries")
	if len(table) == 0 {
		return nil, nil
	}
	return NewPrefixResolver(table)
}

func (r *PrefixResolver) Country(addr string) string {
	a, err := netip.ParseAddr(addr)
	if err != nil {
		return ""
	}
	a = a.Unmap()
	for i, p := range r.prefixes {
		if p.Contains(a) {
			return r.codes[i]
		}
	}
	return ""
}

// CountCountries tallies packets per country over source and destination
// addresses. A nil resolver yields nil.
func CountCountries(records []*packet.Record, resolver CountryResolver) map[string]int {
	if resolver == nil {
		return nil
	}
	cache := make(map[string]string)
	lookup := func(addr string) string {
		if addr == "" {
			return ""
		}
		if c, ok := cache[addr]; ok {
			return c
		}
		c := resolver.Country(addr)
		cache[addr] = c
		return c
	}

	counts := make(map[string]int)
	for _, r := range records {
		src, dst := lookup(r.SrcIP), lookup(r.DstIP)
		if src != "" {
			counts[src]++
		}
		if dst != "" && dst != src {
			counts[dst]++
		}
	}
	return counts
}
