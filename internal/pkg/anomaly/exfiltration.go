package anomaly

import (
	"context"
	"fmt"
	"math"
	"net/netip"
	"sort"
	"strings"
	"time"

	"github.com/endorses/wirecat/internal/pkg/cache"
	"github.com/endorses/wirecat/internal/pkg/logger"
	"github.com/endorses/wirecat/internal/pkg/packet"
)

// DNSTunnelingDetector scores DNS query names per base domain for signs of
// data carried in subdomains: high entropy, many unique subdomains, TXT or
// NULL lookups and long names. Per-domain counters live in an LRU so a
// capture with millions of distinct domains stays bounded.
type DNSTunnelingDetector struct {
	cfg DNSTunnelingConfig
}

// NewDNSTunnelingDetector creates the DNS tunneling detector.
func NewDNSTunnelingDetector(cfg DNSTunnelingConfig) *DNSTunnelingDetector {
	def := DefaultConfig().DNSTunneling
	if cfg.EntropyThreshold <= 0 {
		cfg.EntropyThreshold = def.EntropyThreshold
	}
	if cfg.MinSubdomainLength <= 0 {
		cfg.MinSubdomainLength = def.MinSubdomainLength
	}
	if cfg.MaxUniqueSubdomains <= 0 {
		cfg.MaxUniqueSubdomains = def.MaxUniqueSubdomains
	}
	if cfg.ScoreThreshold <= 0 || cfg.ScoreThreshold > 1 {
		cfg.ScoreThreshold = def.ScoreThreshold
	}
	if cfg.MaxDomains <= 0 {
		cfg.MaxDomains = def.MaxDomains
	}
	return &DNSTunnelingDetector{cfg: cfg}
}

func (d *DNSTunnelingDetector) Name() string {
	return "dns_tunneling"
}

func (d *DNSTunnelingDetector) Category() Category {
	return CategoryDataExfiltration
}

// domainStats tracks one base domain.
type domainStats struct {
	queries         int64
	subdomains      int64
	totalLength     int64
	unique          map[string]struct{}
	highEntropy     int64
	suspiciousTypes int64
	sources         map[string]struct{}
}

// tunnelHit is the strongest evidence seen for a domain.
type tunnelHit struct {
	domain  string
	at      time.Time
	score   float64
	entropy float64
	queries int64
	unique  int
	sources []string
}

// newDomainTable returns the bounded per-domain counter table and a count
// of the domains it has dropped.
func newDomainTable(size int) (*cache.LRU[string, *domainStats], *int) {
	table := cache.New[string, *domainStats](size)
	evicted := new(int)
	table.OnEvict(func(string, *domainStats) { *evicted++ })
	return table, evicted
}

// dnsQuery extracts the query name and record type of a DNS request.
// Responses are skipped so each lookup counts once.
func dnsQuery(r *packet.Record) (name, qtype string, ok bool) {
	if r.Cleartext == nil || r.Cleartext.DNSQueryName == "" {
		return "", "", false
	}
	if !r.HasProtocol("dns") {
		return "", "", false
	}
	if strings.Contains(r.Info, "response") {
		return "", "", false
	}
	// "Standard query 0x1a2b TXT name"
	if f := strings.Fields(r.Info); len(f) >= 4 && f[0] == "Standard" {
		qtype = strings.ToUpper(f[3])
	}
	return r.Cleartext.DNSQueryName, qtype, true
}

func (d *DNSTunnelingDetector) Detect(ctx context.Context, packets []*packet.Record) ([]Record, error) {
	domains, evicted := newDomainTable(d.cfg.MaxDomains)
	hits := make(map[string]*tunnelHit)

	for i, r := range packets {
		if err := checkContext(ctx, i); err != nil {
			return nil, err
		}
		name, qtype, ok := dnsQuery(r)
		if !ok {
			continue
		}
		base, sub := extractDomainParts(name)
		if base == "" {
			continue
		}
		st := domains.GetOrAdd(base, func() *domainStats {
			return &domainStats{
				unique:  make(map[string]struct{}),
				sources: make(map[string]struct{}),
			}
		})

		st.queries++
		st.totalLength += int64(len(name))
		if sub != "" {
			st.subdomains++
			if len(st.unique) < d.cfg.MaxUniqueSubdomains {
				st.unique[sub] = struct{}{}
			}
			if len(sub) >= d.cfg.MinSubdomainLength && calculateEntropy(sub) >= d.cfg.EntropyThreshold {
				st.highEntropy++
			}
		}
		if qtype == "TXT" || qtype == "NULL" {
			st.suspiciousTypes++
		}
		if r.SrcIP != "" && len(st.sources) < 16 {
			st.sources[r.SrcIP] = struct{}{}
		}

		entropy := calculateEntropy(name)
		score := d.score(st, entropy)
		if score < d.cfg.ScoreThreshold {
			continue
		}
		h := hits[base]
		if h == nil {
			h = &tunnelHit{domain: base, at: r.Timestamp}
			hits[base] = h
		}
		if score > h.score {
			h.score = score
			h.entropy = entropy
		}
		h.queries = st.queries
		h.unique = len(st.unique)
		h.sources = sortedKeys(st.sources)
	}

	if *evicted > 0 {
		logger.Debug("DNS domain table full, least recent domains dropped",
			"max_domains", d.cfg.MaxDomains,
			"evicted", *evicted)
	}

	ordered := make([]*tunnelHit, 0, len(hits))
	for _, h := range hits {
		ordered = append(ordered, h)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].at.Equal(ordered[j].at) {
			return ordered[i].at.Before(ordered[j].at)
		}
		return ordered[i].domain < ordered[j].domain
	})

	out := make([]Record, 0, len(ordered))
	for _, h := range ordered {
		sev := SeverityMedium
		if h.score >= 0.9 {
			sev = SeverityHigh
		}
		src := ""
		if len(h.sources) == 1 {
			src = h.sources[0]
		}
		rec := newRecord(d, TypeDNSTunneling, sev, h.at, src, "",
			fmt.Sprintf("possible DNS tunnel via %s (score %.2f, %d queries)", h.domain, h.score, h.queries))
		rec.Evidence["domain"] = h.domain
		rec.Evidence["score"] = math.Round(h.score*100) / 100
		rec.Evidence["entropy"] = math.Round(h.entropy*100) / 100
		rec.Evidence["queries"] = h.queries
		rec.Evidence["unique_subdomains"] = h.unique
		rec.Evidence["sources"] = h.sources
		out = append(out, rec)
	}
	return out, nil
}

// score combines the tunneling indicators into 0..1.
func (d *DNSTunnelingDetector) score(st *domainStats, entropy float64) float64 {
	var score float64

	// High entropy in the query name (0-0.3)
	if entropy >= d.cfg.EntropyThreshold {
		score += math.Min(entropy-d.cfg.EntropyThreshold, 1) * 0.3
	}

	// Many unique subdomains (0-0.25)
	if len(st.unique) > 10 {
		score += math.Min(float64(len(st.unique))/float64(d.cfg.MaxUniqueSubdomains), 1) * 0.25
	}

	// Share of high-entropy subdomains (0-0.2)
	if st.subdomains > 0 {
		score += float64(st.highEntropy) / float64(st.subdomains) * 0.2
	}

	// TXT and NULL lookups (0-0.15)
	if st.queries > 0 && st.suspiciousTypes > 0 {
		score += float64(st.suspiciousTypes) / float64(st.queries) * 0.15
	}

	// Long query names (0-0.1)
	if st.queries > 0 {
		if avg := float64(st.totalLength) / float64(st.queries); avg > 50 {
			score += math.Min((avg-50)/100, 1) * 0.1
		}
	}

	return math.Min(score, 1)
}

// calculateEntropy computes the Shannon entropy of s, ignoring case and dots.
func calculateEntropy(s string) float64 {
	var freq [256]int
	total := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' {
			continue
		}
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		freq[c]++
		total++
	}
	if total == 0 {
		return 0
	}
	var entropy float64
	for _, n := range freq {
		if n == 0 {
			continue
		}
		p := float64(n) / float64(total)
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// twoPartTLDs lists second-level registries treated as part of the suffix.
var twoPartTLDs = map[string]map[string]bool{
	"uk": {"co": true, "org": true, "ac": true, "gov": true},
	"au": {"com": true, "org": true, "net": true, "edu": true},
	"nz": {"co": true, "org": true, "net": true},
	"jp": {"co": true, "or": true, "ne": true, "ac": true},
}

// extractDomainParts splits a FQDN into base domain and subdomain, e.g.
// "data.example.co.uk" gives ("example.co.uk", "data").
func extractDomainParts(fqdn string) (base, sub string) {
	fqdn = strings.ToLower(strings.TrimSuffix(fqdn, "."))
	parts := strings.Split(fqdn, ".")
	if len(parts) < 2 {
		return fqdn, ""
	}
	n := 2
	if twoPartTLDs[parts[len(parts)-1]][parts[len(parts)-2]] && len(parts) >= 3 {
		n = 3
	}
	base = strings.Join(parts[len(parts)-n:], ".")
	if len(parts) > n {
		sub = strings.Join(parts[:len(parts)-n], ".")
	}
	return base, sub
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LargeUploadDetector flags internal hosts sending more than the threshold
// to a single public address.
type LargeUploadDetector struct {
	cfg LargeUploadConfig
}

// NewLargeUploadDetector creates the large upload detector.
func NewLargeUploadDetector(cfg LargeUploadConfig) *LargeUploadDetector {
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultConfig().LargeUpload.Threshold
	}
	return &LargeUploadDetector{cfg: cfg}
}

func (d *LargeUploadDetector) Name() string {
	return "large_upload"
}

func (d *LargeUploadDetector) Category() Category {
	return CategoryDataExfiltration
}

// isInternal reports RFC 1918, ULA, loopback and link-local addresses.
func isInternal(a netip.Addr) bool {
	return a.IsPrivate() || a.IsLoopback() || a.IsLinkLocalUnicast()
}

func isPublic(a netip.Addr) bool {
	return a.IsGlobalUnicast() && !a.IsPrivate()
}

func (d *LargeUploadDetector) Detect(ctx context.Context, packets []*packet.Record) ([]Record, error) {
	type pair struct{ src, dst string }
	type state struct {
		bytes   uint64
		packets int
		crossed time.Time
	}
	states := make(map[pair]*state)
	var order []pair
	// Parsed address classes, keyed by the interned address string.
	class := make(map[string]int8)
	classify := func(s string) int8 {
		if c, ok := class[s]; ok {
			return c
		}
		var c int8
		if a, err := netip.ParseAddr(s); err == nil {
			switch {
			case isInternal(a):
				c = 1
			case isPublic(a):
				c = 2
			}
		}
		class[s] = c
		return c
	}

	for i, r := range packets {
		if err := checkContext(ctx, i); err != nil {
			return nil, err
		}
		if r.SrcIP == "" || r.DstIP == "" {
			continue
		}
		if classify(r.SrcIP) != 1 || classify(r.DstIP) != 2 {
			continue
		}
		k := pair{src: r.SrcIP, dst: r.DstIP}
		st := states[k]
		if st == nil {
			st = &state{}
			states[k] = st
			order = append(order, k)
		}
		st.bytes += uint64(r.Length)
		st.packets++
		if st.crossed.IsZero() && st.bytes >= d.cfg.Threshold {
			st.crossed = r.Timestamp
		}
	}

	var out []Record
	for _, k := range order {
		st := states[k]
		if st.crossed.IsZero() {
			continue
		}
		sev := SeverityMedium
		if st.bytes >= d.cfg.Threshold*10 {
			sev = SeverityHigh
		}
		rec := newRecord(d, TypeLargeUpload, sev, st.crossed, k.src, k.dst,
			fmt.Sprintf("%s sent %d bytes to %s", k.src, st.bytes, k.dst))
		rec.Evidence["bytes"] = st.bytes
		rec.Evidence["packets"] = st.packets
		rec.Evidence["threshold"] = d.cfg.Threshold
		out = append(out, rec)
	}
	return out, nil
}
