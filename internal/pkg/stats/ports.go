package stats

import (
	"sort"
	"strconv"
	"strings"

	"github.com/endorses/wirecat/internal/pkg/packet"
	"github.com/google/gopacket/layers"
)

// wellKnownLimit is the end of the IANA system port range.
const wellKnownLimit = 1024

// PortEntry is one row of the port table. Protocol-only entries (ICMP, ARP)
// have HasPort false and Port 0.
type PortEntry struct {
	Port     uint16 `json:"port" yaml:"port"`
	HasPort  bool   `json:"has_port" yaml:"has_port"`
	Protocol string `json:"protocol" yaml:"protocol"` // "TCP", "UDP", "TCP/UDP", "ICMP", ...
	Service  string `json:"service,omitempty" yaml:"service,omitempty"`
	Packets  uint64 `json:"packets" yaml:"packets"`
	Bytes    uint64 `json:"bytes" yaml:"bytes"`
}

// PortSummary is the consolidated port table.
type PortSummary struct {
	Entries []PortEntry `json:"entries" yaml:"entries"`

	// UniquePortProtocols counts distinct (port, transport) combinations
	// before consolidation, so 2598/TCP and 2598/UDP count twice.
	UniquePortProtocols int `json:"unique_port_protocols" yaml:"unique_port_protocols"`
}

// portKey is the internal (port, transport) key. Portless records use
// port 0 and their protocol name as label.
type portKey struct {
	port    uint16
	hasPort bool
	label   string
}

type counter struct {
	packets uint64
	bytes   uint64
}

func (c *counter) add(length uint32) {
	c.packets++
	c.bytes += uint64(length)
}

// ServicePort picks the port that identifies the service of a conversation:
// a system port (< 1024) when exactly one side has one, otherwise the lower
// of the two. A zero port counts as absent.
func ServicePort(src, dst uint16) uint16 {
	switch {
	case src == 0:
		return dst
	case dst == 0:
		return src
	case src < wellKnownLimit && dst >= wellKnownLimit:
		return src
	case dst < wellKnownLimit && src >= wellKnownLimit:
		return dst
	case src < dst:
		return src
	default:
		return dst
	}
}

func keyOf(r *packet.Record) portKey {
	if r.Transport.HasPorts() {
		if port := ServicePort(r.SrcPort, r.DstPort); port != 0 {
			return portKey{port: port, hasPort: true, label: r.Transport.String()}
		}
	}
	label := r.Transport.String()
	if r.Transport == packet.TransportUnknown {
		label = r.Label()
	}
	return portKey{label: label}
}

// CalculateTopPorts counts records by (service port, transport), then
// consolidates entries sharing a port number into one row with a joined
// protocol label, and returns the n busiest rows. n <= 0 returns all rows.
func CalculateTopPorts(records []*packet.Record, n int) PortSummary {
	counts := make(map[portKey]*counter)
	for _, r := range records {
		k := keyOf(r)
		c := counts[k]
		if c == nil {
			c = &counter{}
			counts[k] = c
		}
		c.add(r.Length)
	}
	return consolidatePorts(counts, n)
}

func consolidatePorts(counts map[portKey]*counter, n int) PortSummary {
	summary := PortSummary{UniquePortProtocols: len(counts)}

	type display struct {
		port    uint16
		hasPort bool
		label   string // only set for portless rows
	}
	rows := make(map[display]*PortEntry)
	labels := make(map[display][]string)

	for k, c := range counts {
		d := display{port: k.port, hasPort: k.hasPort}
		if !k.hasPort {
			d.label = k.label
		}
		e := rows[d]
		if e == nil {
			e = &PortEntry{Port: k.port, HasPort: k.hasPort}
			rows[d] = e
		}
		e.Packets += c.packets
		e.Bytes += c.bytes
		labels[d] = append(labels[d], k.label)
	}

	entries := make([]PortEntry, 0, len(rows))
	for d, e := range rows {
		ls := labels[d]
		sort.Strings(ls)
		e.Protocol = strings.Join(ls, "/")
		if e.HasPort {
			e.Service = ServiceName(e.Port, ls)
		}
		entries = append(entries, *e)
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Packets != b.Packets {
			return a.Packets > b.Packets
		}
		if a.HasPort != b.HasPort {
			return a.HasPort
		}
		if a.Port != b.Port {
			return a.Port < b.Port
		}
		return a.Protocol < b.Protocol
	})

	if n > 0 && len(entries) > n {
		entries = entries[:n]
	}
	summary.Entries = entries
	return summary
}

// ServiceName returns the IANA service name of port for the first of the
// given transports that has one, or "".
func ServiceName(port uint16, transports []string) string {
	for _, t := range transports {
		var s string
		switch t {
		case "TCP":
			s = layers.TCPPort(port).String()
		case "UDP":
			s = layers.UDPPort(port).String()
		default:
			continue
		}
		if name := portName(s); name != "" {
			return name
		}
	}
	return ""
}

// portName extracts "https" from gopacket's "443(https)" rendering.
func portName(s string) string {
	open := strings.IndexByte(s, '(')
	if open < 0 || !strings.HasSuffix(s, ")") {
		return ""
	}
	if _, err := strconv.Atoi(s[:open]); err != nil {
		return ""
	}
	return s[open+1 : len(s)-1]
}
