// Package stats aggregates packet records into totals and top-N tables:
// ports, protocols, conversations and talkers.
package stats

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/endorses/wirecat/internal/pkg/constants"
	"github.com/endorses/wirecat/internal/pkg/packet"
	"github.com/spf13/viper"
)

// Config configures table sizes.
type Config struct {
	TopN int `mapstructure:"top_n"`
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{TopN: constants.DefaultTopN}
}

// ConfigFromViper reads stats.top_n over the defaults.
func ConfigFromViper() Config {
	cfg := DefaultConfig()
	if v := viper.GetInt("stats.top_n"); v > 0 {
		cfg.TopN = v
	}
	return cfg
}

// ProtocolEntry is one row of the protocol table.
type ProtocolEntry struct {
	Protocol string  `json:"protocol" yaml:"protocol"`
	Packets  uint64  `json:"packets" yaml:"packets"`
	Bytes    uint64  `json:"bytes" yaml:"bytes"`
	Percent  float64 `json:"percent" yaml:"percent"`
}

// ConversationEntry is one row of the conversation table.
type ConversationEntry struct {
	Flow      packet.FlowKey `json:"-" yaml:"-"`
	Endpoints string         `json:"endpoints" yaml:"endpoints"`
	Packets   uint64         `json:"packets" yaml:"packets"`
	Bytes     uint64         `json:"bytes" yaml:"bytes"`
	FirstSeen time.Time      `json:"first_seen" yaml:"first_seen"`
	LastSeen  time.Time      `json:"last_seen" yaml:"last_seen"`
}

// TalkerEntry is one row of the talker table.
type TalkerEntry struct {
	Addr            string `json:"addr" yaml:"addr"`
	PacketsSent     uint64 `json:"packets_sent" yaml:"packets_sent"`
	PacketsReceived uint64 `json:"packets_received" yaml:"packets_received"`
	BytesSent       uint64 `json:"bytes_sent" yaml:"bytes_sent"`
	BytesReceived   uint64 `json:"bytes_received" yaml:"bytes_received"`
}

// Packets is the total in both directions.
func (t TalkerEntry) Packets() uint64 {
	return t.PacketsSent + t.PacketsReceived
}

// Summary is a snapshot of everything the aggregator tracks.
type Summary struct {
	TotalPackets  uint64              `json:"total_packets" yaml:"total_packets"`
	TotalBytes    uint64              `json:"total_bytes" yaml:"total_bytes"`
	FirstSeen     time.Time           `json:"first_seen" yaml:"first_seen"`
	LastSeen      time.Time           `json:"last_seen" yaml:"last_seen"`
	Duration      time.Duration       `json:"duration" yaml:"duration"`
	UniqueFlows   int                 `json:"unique_flows" yaml:"unique_flows"`
	UniqueAddrs   int                 `json:"unique_addrs" yaml:"unique_addrs"`
	Ports         PortSummary         `json:"ports" yaml:"ports"`
	Protocols     []ProtocolEntry     `json:"protocols" yaml:"protocols"`
	Conversations []ConversationEntry `json:"conversations" yaml:"conversations"`
	Talkers       []TalkerEntry       `json:"talkers" yaml:"talkers"`
}

type conversation struct {
	counter
	first, last time.Time
}

// Aggregator accumulates statistics incrementally. It is safe for
// concurrent use and can run as an ingest consumer.
type Aggregator struct {
	cfg Config

	mu            sync.Mutex
	packets       uint64
	bytes         uint64
	first, last   time.Time
	ports         map[portKey]*counter
	protocols     map[string]*counter
	conversations map[packet.FlowKey]*conversation
	talkers       map[string]*TalkerEntry
}

// NewAggregator creates an empty aggregator.
func NewAggregator(cfg Config) *Aggregator {
	if cfg.TopN <= 0 {
		cfg.TopN = constants.DefaultTopN
	}
	return &Aggregator{
		cfg:           cfg,
		ports:         make(map[portKey]*counter),
		protocols:     make(map[string]*counter),
		conversations: make(map[packet.FlowKey]*conversation),
		talkers:       make(map[string]*TalkerEntry),
	}
}

// Name implements the ingest consumer interface.
func (a *Aggregator) Name() string {
	return "stats"
}

// Consume adds records until the channel is closed or ctx is done.
func (a *Aggregator) Consume(ctx context.Context, records <-chan *packet.Record) error {
	for {
		select {
		case r, ok := <-records:
			if !ok {
				return nil
			}
			a.Add(r)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// AddAll adds every record.
func (a *Aggregator) AddAll(records []*packet.Record) {
	for _, r := range records {
		a.Add(r)
	}
}

// Add accounts one record.
func (a *Aggregator) Add(r *packet.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.packets++
	a.bytes += uint64(r.Length)
	if a.first.IsZero() || r.Timestamp.Before(a.first) {
		a.first = r.Timestamp
	}
	if r.Timestamp.After(a.last) {
		a.last = r.Timestamp
	}

	k := keyOf(r)
	pc := a.ports[k]
	if pc == nil {
		pc = &counter{}
		a.ports[k] = pc
	}
	pc.add(r.Length)

	label := r.Label()
	proto := a.protocols[label]
	if proto == nil {
		proto = &counter{}
		a.protocols[label] = proto
	}
	proto.add(r.Length)

	if r.SrcIP == "" && r.DstIP == "" {
		return
	}

	flow := r.Flow()
	conv := a.conversations[flow]
	if conv == nil {
		conv = &conversation{first: r.Timestamp}
		a.conversations[flow] = conv
	}
	conv.add(r.Length)
	conv.last = r.Timestamp

	if r.SrcIP != "" {
		t := a.talker(r.SrcIP)
		t.PacketsSent++
		t.BytesSent += uint64(r.Length)
	}
	if r.DstIP != "" {
		t := a.talker(r.DstIP)
		t.PacketsReceived++
		t.BytesReceived += uint64(r.Length)
	}
}

func (a *Aggregator) talker(addr string) *TalkerEntry {
	t := a.talkers[addr]
	if t == nil {
		t = &TalkerEntry{Addr: addr}
		a.talkers[addr] = t
	}
	return t
}

// TotalPackets returns the number of records added.
func (a *Aggregator) TotalPackets() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.packets
}

// TopPorts returns the consolidated port table.
func (a *Aggregator) TopPorts(n int) PortSummary {
	a.mu.Lock()
	defer a.mu.Unlock()
	return consolidatePorts(a.ports, n)
}

// TopProtocols returns the n most frequent protocol labels.
func (a *Aggregator) TopProtocols(n int) []ProtocolEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]ProtocolEntry, 0, len(a.protocols))
	for name, c := range a.protocols {
		e := ProtocolEntry{Protocol: name, Packets: c.packets, Bytes: c.bytes}
		if a.packets > 0 {
			e.Percent = float64(c.packets) * 100 / float64(a.packets)
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Packets != out[j].Packets {
			return out[i].Packets > out[j].Packets
		}
		return out[i].Protocol < out[j].Protocol
	})
	return truncate(out, n)
}

// TopConversations returns the n busiest conversations.
func (a *Aggregator) TopConversations(n int) []ConversationEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]ConversationEntry, 0, len(a.conversations))
	for k, c := range a.conversations {
		out = append(out, ConversationEntry{
			Flow:      k,
			Endpoints: k.String(),
			Packets:   c.packets,
			Bytes:     c.bytes,
			FirstSeen: c.first,
			LastSeen:  c.last,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Packets != out[j].Packets {
			return out[i].Packets > out[j].Packets
		}
		return out[i].Endpoints < out[j].Endpoints
	})
	return truncate(out, n)
}

// TopTalkers returns the n addresses with the most packets in either direction.
func (a *Aggregator) TopTalkers(n int) []TalkerEntry {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]TalkerEntry, 0, len(a.talkers))
	for _, t := range a.talkers {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].Packets(), out[j].Packets()
		if pi != pj {
			return pi > pj
		}
		return out[i].Addr < out[j].Addr
	})
	return truncate(out, n)
}

// Summary snapshots all tables using the configured top-N.
func (a *Aggregator) Summary() Summary {
	n := a.cfg.TopN
	ports := a.TopPorts(n)
	protocols := a.TopProtocols(n)
	conversations := a.TopConversations(n)
	talkers := a.TopTalkers(n)

	a.mu.Lock()
	defer a.mu.Unlock()
	return Summary{
		TotalPackets:  a.packets,
		TotalBytes:    a.bytes,
		FirstSeen:     a.first,
		LastSeen:      a.last,
		Duration:      a.last.Sub(a.first),
		UniqueFlows:   len(a.conversations),
		UniqueAddrs:   len(a.talkers),
		Ports:         ports,
		Protocols:     protocols,
		Conversations: conversations,
		Talkers:       talkers,
	}
}

func truncate[T any](s []T, n int) []T {
	if n > 0 && len(s) > n {
		return s[:n]
	}
	return s
}
