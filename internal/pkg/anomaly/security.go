package anomaly

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/endorses/wirecat/internal/pkg/cleartext"
	"github.com/endorses/wirecat/internal/pkg/packet"
)

// ctxCheckInterval is how many packets a detector processes between
// context checks.
const ctxCheckInterval = 4096

func checkContext(ctx context.Context, i int) error {
	if i%ctxCheckInterval == 0 {
		return ctx.Err()
	}
	return nil
}

// windowIndex returns the tumbling window that ts falls into.
func windowIndex(ts time.Time, window time.Duration) int64 {
	if window <= 0 {
		return 0
	}
	return ts.UnixNano() / int64(window)
}

// isBareSYN reports a connection attempt: SYN set, ACK clear.
func isBareSYN(r *packet.Record) bool {
	return r.TCP.Has(packet.FlagSYN) && !r.TCP.Has(packet.FlagACK)
}

// PortScanDetector flags sources that contact many distinct destination
// ports within one window. Seen (source, destination, port) triples are
// kept in a bloom filter, so memory stays fixed on large captures at the
// cost of a small undercount.
type PortScanDetector struct {
	cfg PortScanConfig
}

// NewPortScanDetector creates the port scan detector.
func NewPortScanDetector(cfg PortScanConfig) *PortScanDetector {
	def := DefaultConfig().PortScan
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.HighThreshold < cfg.Threshold {
		cfg.HighThreshold = cfg.Threshold * 4
	}
	if cfg.BloomCapacity == 0 {
		cfg.BloomCapacity = def.BloomCapacity
	}
	if cfg.BloomFPRate <= 0 || cfg.BloomFPRate >= 1 {
		cfg.BloomFPRate = def.BloomFPRate
	}
	return &PortScanDetector{cfg: cfg}
}

func (d *PortScanDetector) Name() string {
	return "port_scan"
}

func (d *PortScanDetector) Category() Category {
	return CategorySecurity
}

type scanKey struct {
	src    string
	window int64
}

type scanState struct {
	first    time.Time
	attempts int // distinct (destination, port) pairs
	ports    map[uint16]struct{}
	targets  map[string]struct{}
	sample   []uint16
}

// serviceAttempt reports whether r looks like an attempt to reach a service port.
func serviceAttempt(r *packet.Record) bool {
	if r.SrcIP == "" || r.DstPort == 0 {
		return false
	}
	switch r.Transport {
	case packet.TransportTCP:
		return isBareSYN(r)
	case packet.TransportUDP:
		// Replies to ephemeral client ports are not attempts.
		return r.DstPort < 49152 && r.SrcPort >= 1024
	}
	return false
}

func (d *PortScanDetector) Detect(ctx context.Context, packets []*packet.Record) ([]Record, error) {
	seen := bloom.NewWithEstimates(d.cfg.BloomCapacity, d.cfg.BloomFPRate)
	states := make(map[scanKey]*scanState)
	var order []scanKey

	var b strings.Builder
	for i, r := range packets {
		if err := checkContext(ctx, i); err != nil {
			return nil, err
		}
		if !serviceAttempt(r) {
			continue
		}
		w := windowIndex(r.Timestamp, d.cfg.Window)

		b.Reset()
		b.WriteString(r.SrcIP)
		b.WriteByte('|')
		b.WriteString(r.DstIP)
		b.WriteByte('|')
		b.WriteString(strconv.FormatUint(uint64(r.DstPort), 10))
		b.WriteByte('|')
		b.WriteString(strconv.FormatInt(w, 10))
		if seen.TestAndAddString(b.String()) {
			continue
		}

		k := scanKey{src: r.SrcIP, window: w}
		st := states[k]
		if st == nil {
			st = &scanState{
				first:   r.Timestamp,
				ports:   make(map[uint16]struct{}),
				targets: make(map[string]struct{}),
			}
			states[k] = st
			order = append(order, k)
		}
		st.attempts++
		st.targets[r.DstIP] = struct{}{}
		if _, ok := st.ports[r.DstPort]; ok {
			continue
		}
		st.ports[r.DstPort] = struct{}{}
		if len(st.sample) < 10 {
			st.sample = append(st.sample, r.DstPort)
		}
	}

	var out []Record
	for _, k := range order {
		st := states[k]
		ports := len(st.ports)
		if ports < d.cfg.Threshold {
			continue
		}
		sev := SeverityMedium
		if ports >= d.cfg.HighThreshold {
			sev = SeverityHigh
		}
		dst := ""
		if len(st.targets) == 1 {
			for t := range st.targets {
				dst = t
			}
		}
		rec := newRecord(d, TypePortScan, sev, st.first, k.src, dst,
			fmt.Sprintf("%s scanned %d ports on %d hosts within %s", k.src, ports, len(st.targets), d.cfg.Window))
		rec.Evidence["ports"] = ports
		rec.Evidence["attempts"] = st.attempts
		rec.Evidence["targets"] = len(st.targets)
		rec.Evidence["window"] = d.cfg.Window.String()
		rec.Evidence["sample_ports"] = st.sample
		out = append(out, rec)
	}
	return out, nil
}

// SynFloodDetector flags destinations receiving more bare SYNs per window
// than the threshold.
type SynFloodDetector struct {
	cfg SynFloodConfig
}

// NewSynFloodDetector creates the SYN flood detector.
func NewSynFloodDetector(cfg SynFloodConfig) *SynFloodDetector {
	def := DefaultConfig().SynFlood
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	return &SynFloodDetector{cfg: cfg}
}

func (d *SynFloodDetector) Name() string {
	return "syn_flood"
}

func (d *SynFloodDetector) Category() Category {
	return CategorySecurity
}

type floodKey struct {
	addr   string
	window int64
}

type floodState struct {
	first time.Time
	count int
	peers map[string]struct{}
}

func (d *SynFloodDetector) Detect(ctx context.Context, packets []*packet.Record) ([]Record, error) {
	states := make(map[floodKey]*floodState)
	var order []floodKey

	for i, r := range packets {
		if err := checkContext(ctx, i); err != nil {
			return nil, err
		}
		if r.Transport != packet.TransportTCP || r.DstIP == "" || !isBareSYN(r) {
			continue
		}
		k := floodKey{addr: r.DstIP, window: windowIndex(r.Timestamp, d.cfg.Window)}
		st := states[k]
		if st == nil {
			st = &floodState{first: r.Timestamp, peers: make(map[string]struct{})}
			states[k] = st
			order = append(order, k)
		}
		st.count++
		st.peers[r.SrcIP] = struct{}{}
	}

	var out []Record
	for _, k := range order {
		st := states[k]
		if st.count < d.cfg.Threshold {
			continue
		}
		sev := SeverityHigh
		if st.count >= d.cfg.Threshold*10 {
			sev = SeverityCritical
		}
		src := ""
		if len(st.peers) == 1 {
			for p := range st.peers {
				src = p
			}
		}
		rec := newRecord(d, TypeSynFlood, sev, st.first, src, k.addr,
			fmt.Sprintf("%d SYN packets to %s from %d sources within %s", st.count, k.addr, len(st.peers), d.cfg.Window))
		rec.Evidence["syn_packets"] = st.count
		rec.Evidence["sources"] = len(st.peers)
		rec.Evidence["window"] = d.cfg.Window.String()
		out = append(out, rec)
	}
	return out, nil
}

// ARPSpoofDetector flags IP addresses claimed by more than one hardware
// address, using the dissector's "X is at M" reply summaries.
type ARPSpoofDetector struct{}

// NewARPSpoofDetector creates the ARP spoofing detector.
func NewARPSpoofDetector() *ARPSpoofDetector {
	return &ARPSpoofDetector{}
}

func (d *ARPSpoofDetector) Name() string {
	return "arp_spoofing"
}

func (d *ARPSpoofDetector) Category() Category {
	return CategorySecurity
}

// parseARPReply extracts the address pair of "192.0.2.1 is at 00:11:22:33:44:55".
func parseARPReply(info string) (ip, mac string, ok bool) {
	before, after, found := strings.Cut(info, " is at ")
	if !found {
		return "", "", false
	}
	fields := strings.Fields(before)
	if len(fields) == 0 {
		return "", "", false
	}
	ip = fields[len(fields)-1]
	rest := strings.Fields(after)
	if len(rest) == 0 {
		return "", "", false
	}
	return ip, strings.ToLower(rest[0]), true
}

func (d *ARPSpoofDetector) Detect(ctx context.Context, packets []*packet.Record) ([]Record, error) {
	type claim struct {
		macs     []string
		conflict time.Time
		flagged  bool
	}
	claims := make(map[string]*claim)
	var order []string
	duplicates := make(map[string]time.Time)

	for i, r := range packets {
		if err := checkContext(ctx, i); err != nil {
			return nil, err
		}
		if r.Transport != packet.TransportARP && !r.HasProtocol("arp") {
			continue
		}
		if strings.Contains(r.Info, "duplicate use of") {
			if ip, _, ok := parseARPReply(r.Info); ok {
				if _, seen := duplicates[ip]; !seen {
					duplicates[ip] = r.Timestamp
				}
			}
		}
		ip, mac, ok := parseARPReply(r.Info)
		if !ok {
			continue
		}
		c := claims[ip]
		if c == nil {
			c = &claim{}
			claims[ip] = c
			order = append(order, ip)
		}
		known := false
		for _, m := range c.macs {
			if m == mac {
				known = true
				break
			}
		}
		if !known {
			c.macs = append(c.macs, mac)
			if len(c.macs) == 2 {
				c.conflict = r.Timestamp
				c.flagged = true
			}
		}
	}

	var out []Record
	for _, ip := range order {
		c := claims[ip]
		if !c.flagged {
			continue
		}
		rec := newRecord(d, TypeARPSpoof, SeverityHigh, c.conflict, "", ip,
			fmt.Sprintf("%s claimed by %d hardware addresses", ip, len(c.macs)))
		rec.Evidence["hardware_addresses"] = c.macs
		out = append(out, rec)
		delete(duplicates, ip)
	}

	// Dissector-reported duplicates that the reply parsing did not confirm.
	ips := make([]string, 0, len(duplicates))
	for ip := range duplicates {
		ips = append(ips, ip)
	}
	sort.Strings(ips)
	for _, ip := range ips {
		out = append(out, newRecord(d, TypeARPSpoof, SeverityMedium, duplicates[ip], "", ip,
			fmt.Sprintf("duplicate use of %s reported", ip)))
	}
	return out, nil
}

// CleartextAuthDetector reports credentials sent without encryption.
type CleartextAuthDetector struct {
	registry *cleartext.Registry
}

// NewCleartextAuthDetector creates the detector; a nil registry uses the
// default analyzers.
func NewCleartextAuthDetector(registry *cleartext.Registry) *CleartextAuthDetector {
	return &CleartextAuthDetector{registry: registry}
}

func (d *CleartextAuthDetector) Name() string {
	return "cleartext_auth"
}

func (d *CleartextAuthDetector) Category() Category {
	return CategorySecurity
}

func cleartextSeverity(k cleartext.Kind) (Severity, bool) {
	switch k {
	case cleartext.KindPassword, cleartext.KindBasicAuth:
		return SeverityHigh, true
	case cleartext.KindAPIKey, cleartext.KindToken:
		return SeverityHigh, true
	case cleartext.KindDigest, cleartext.KindCookie:
		return SeverityMedium, true
	case cleartext.KindExposure:
		return SeverityLow, true
	}
	return SeverityInfo, false
}

func (d *CleartextAuthDetector) Detect(ctx context.Context, packets []*packet.Record) ([]Record, error) {
	scanner := cleartext.NewScanner(d.registry, cleartext.DefaultConfig())
	for i, r := range packets {
		if err := checkContext(ctx, i); err != nil {
			return nil, err
		}
		scanner.Scan(r)
	}

	var out []Record
	for _, c := range scanner.Findings() {
		sev, ok := cleartextSeverity(c.Kind)
		if !ok {
			continue
		}
		desc := fmt.Sprintf("%s %s sent in cleartext", c.Protocol, strings.ReplaceAll(string(c.Kind), "_", " "))
		if c.Username != "" {
			desc += " for " + c.Username
		}
		rec := newRecord(d, TypeCleartextAuth, sev, c.Timestamp, c.SrcIP, c.DstIP, desc)
		rec.Evidence["protocol"] = c.Protocol
		rec.Evidence["kind"] = string(c.Kind)
		rec.Evidence["frame"] = c.Frame
		if c.Secret != "" {
			rec.Evidence["secret"] = c.Secret
		}
		if c.Detail != "" {
			rec.Evidence["detail"] = c.Detail
		}
		out = append(out, rec)
	}
	return out, nil
}
