package stats

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/endorses/wirecat/internal/pkg/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Unix(1700000000, 0)

func rec(transport packet.Transport, src string, sport uint16, dst string, dport uint16, length uint32) *packet.Record {
	return &packet.Record{
		FrameNumber: 1,
		Timestamp:   t0,
		Length:      length,
		SrcIP:       src,
		DstIP:       dst,
		SrcPort:     sport,
		DstPort:     dport,
		Transport:   transport,
	}
}

func TestServicePort(t *testing.T) {
	tests := []struct {
		src, dst, want uint16
	}{
		{51000, 443, 443},
		{443, 51000, 443},
		{53, 123, 53},
		{8080, 51000, 8080},
		{51000, 8080, 8080},
		{0, 5060, 5060},
		{5060, 0, 5060},
		{0, 0, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ServicePort(tt.src, tt.dst), "%d -> %d", tt.src, tt.dst)
	}
}

func TestCalculateTopPorts_ConsolidatesAcrossTransports(t *testing.T) {
	records := []*packet.Record{
		rec(packet.TransportTCP, "10.0.0.1", 50000, "10.0.0.2", 2598, 100),
		rec(packet.TransportTCP, "10.0.0.2", 2598, "10.0.0.1", 50000, 100),
		rec(packet.TransportUDP, "10.0.0.1", 50001, "10.0.0.2", 2598, 60),
		rec(packet.TransportUDP, "10.0.0.2", 2598, "10.0.0.1", 50001, 60),
		rec(packet.TransportTCP, "10.0.0.1", 50002, "10.0.0.3", 443, 1500),
	}

	got := CalculateTopPorts(records, 30)

	assert.Equal(t, 3, got.UniquePortProtocols)
	require.Len(t, got.Entries, 2)

	var p2598, p443 *PortEntry
	for i := range got.Entries {
		switch got.Entries[i].Port {
		case 2598:
			p2598 = &got.Entries[i]
		case 443:
			p443 = &got.Entries[i]
		}
	}
	require.NotNil(t, p2598)
	require.NotNil(t, p443)

	assert.Equal(t, uint64(4), p2598.Packets)
	assert.Equal(t, uint64(320), p2598.Bytes)
	assert.Contains(t, p2598.Protocol, "TCP")
	assert.Contains(t, p2598.Protocol, "UDP")
	assert.Equal(t, "TCP/UDP", p2598.Protocol)

	assert.Equal(t, uint64(1), p443.Packets)
	assert.Equal(t, "https", p443.Service)
}

func TestCalculateTopPorts_DuplicatesDoNotCrowdOut(t *testing.T) {
	var records []*packet.Record
	// Port 2598 on both transports plus 443, with N = 2.
	for i := 0; i < 3; i++ {
		records = append(records,
			rec(packet.TransportTCP, "10.0.0.1", 50000, "10.0.0.2", 2598, 10),
			rec(packet.TransportUDP, "10.0.0.1", 50000, "10.0.0.2", 2598, 10))
	}
	records = append(records, rec(packet.TransportTCP, "10.0.0.1", 50000, "10.0.0.3", 443, 10))

	got := CalculateTopPorts(records, 2)
	require.Len(t, got.Entries, 2)
	assert.Equal(t, uint16(2598), got.Entries[0].Port)
	assert.Equal(t, uint16(443), got.Entries[1].Port)
}

func TestCalculateTopPorts_ProtocolOnlyEntriesStayDistinct(t *testing.T) {
	records := []*packet.Record{
		rec(packet.TransportICMP, "10.0.0.1", 0, "10.0.0.2", 0, 98),
		rec(packet.TransportICMP, "10.0.0.2", 0, "10.0.0.1", 0, 98),
		rec(packet.TransportARP, "", 0, "", 0, 42),
		{FrameNumber: 1, Transport: packet.TransportUnknown, AppProtocol: "LLDP", Length: 60},
	}

	got := CalculateTopPorts(records, 0)
	require.Len(t, got.Entries, 3)
	assert.Equal(t, 3, got.UniquePortProtocols)

	assert.Equal(t, PortEntry{Protocol: "ICMP", Packets: 2, Bytes: 196}, got.Entries[0])
	assert.Equal(t, "ARP", got.Entries[1].Protocol)
	assert.Equal(t, "LLDP", got.Entries[2].Protocol)
	for _, e := range got.Entries {
		assert.False(t, e.HasPort)
		assert.Empty(t, e.Service)
	}
}

func TestCalculateTopPorts_OrderingAndTruncation(t *testing.T) {
	var records []*packet.Record
	for port := uint16(1); port <= 40; port++ {
		for i := uint16(0); i < port%5+1; i++ {
			records = append(records, rec(packet.TransportUDP, "10.0.0.1", 40000, "10.0.0.2", port, 1))
		}
	}

	got := CalculateTopPorts(records, 30)
	require.Len(t, got.Entries, 30)
	assert.Equal(t, 40, got.UniquePortProtocols)

	for i := 1; i < len(got.Entries); i++ {
		prev, cur := got.Entries[i-1], got.Entries[i]
		assert.GreaterOrEqual(t, prev.Packets, cur.Packets)
		if prev.Packets == cur.Packets {
			assert.Less(t, prev.Port, cur.Port)
		}
	}
	assert.Equal(t, uint16(4), got.Entries[0].Port)
}

func TestCalculateTopPorts_Empty(t *testing.T) {
	got := CalculateTopPorts(nil, 30)
	assert.Empty(t, got.Entries)
	assert.Zero(t, got.UniquePortProtocols)
}

func TestServiceName(t *testing.T) {
	assert.Equal(t, "https", ServiceName(443, []string{"TCP"}))
	assert.Equal(t, "domain", ServiceName(53, []string{"TCP", "UDP"}))
	assert.Equal(t, "", ServiceName(443, []string{"ICMP"}))
	assert.Equal(t, "", ServiceName(0, nil))
}

func TestPortName(t *testing.T) {
	tests := map[string]string{
		"443(https)": "https",
		"2598":       "",
		"(x)":        "",
		"80(http":    "",
	}
	for in, want := range tests {
		assert.Equal(t, want, portName(in), in)
	}
}

func TestAggregator_Tables(t *testing.T) {
	a := NewAggregator(DefaultConfig())

	for i := 0; i < 3; i++ {
		r := rec(packet.TransportTCP, "10.0.0.1", 50000, "10.0.0.2", 443, 100)
		r.Timestamp = t0.Add(time.Duration(i) * time.Second)
		r.AppProtocol = "TLSv1.3"
		a.Add(r)
	}
	reply := rec(packet.TransportTCP, "10.0.0.2", 443, "10.0.0.1", 50000, 1000)
	reply.Timestamp = t0.Add(5 * time.Second)
	a.Add(reply)
	a.Add(rec(packet.TransportUDP, "10.0.0.3", 5353, "224.0.0.251", 5353, 80))

	s := a.Summary()
	assert.Equal(t, uint64(5), s.TotalPackets)
	assert.Equal(t, uint64(1380), s.TotalBytes)
	assert.Equal(t, t0, s.FirstSeen)
	assert.Equal(t, 5*time.Second, s.Duration)
	assert.Equal(t, 2, s.UniqueFlows)
	assert.Equal(t, 4, s.UniqueAddrs)

	require.Len(t, s.Protocols, 3)
	assert.Equal(t, "TLSv1.3", s.Protocols[0].Protocol)
	assert.InDelta(t, 60.0, s.Protocols[0].Percent, 0.001)

	require.Len(t, s.Conversations, 2)
	assert.Equal(t, uint64(4), s.Conversations[0].Packets)
	assert.Equal(t, "10.0.0.1:50000 <-> 10.0.0.2:443", s.Conversations[0].Endpoints)
	assert.Equal(t, t0.Add(5*time.Second), s.Conversations[0].LastSeen)

	require.Len(t, s.Talkers, 4)
	assert.Equal(t, uint64(4), s.Talkers[0].Packets())
	assert.Equal(t, "10.0.0.1", s.Talkers[0].Addr)
	assert.Equal(t, uint64(3), s.Talkers[0].PacketsSent)
	assert.Equal(t, uint64(1000), s.Talkers[0].BytesReceived)

	assert.Equal(t, uint16(443), s.Ports.Entries[0].Port)
}

func TestAggregator_MatchesCalculateTopPorts(t *testing.T) {
	var records []*packet.Record
	for i := 0; i < 200; i++ {
		tr := packet.TransportTCP
		if i%3 == 0 {
			tr = packet.TransportUDP
		}
		records = append(records, rec(tr, "10.0.0.1", uint16(40000+i), fmt.Sprintf("10.0.1.%d", i%7), uint16(1000+i%13), 64))
	}

	a := NewAggregator(DefaultConfig())
	a.AddAll(records)
	assert.Equal(t, CalculateTopPorts(records, 10), a.TopPorts(10))
}

func TestAggregator_Consume(t *testing.T) {
	a := NewAggregator(Config{})
	ch := make(chan *packet.Record, 10)
	for i := 0; i < 10; i++ {
		ch <- rec(packet.TransportUDP, "10.0.0.1", 5060, "10.0.0.2", 5060, 500)
	}
	close(ch)

	require.NoError(t, a.Consume(context.Background(), ch))
	assert.Equal(t, uint64(10), a.TotalPackets())
	assert.Equal(t, "stats", a.Name())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, a.Consume(ctx, make(chan *packet.Record)), context.Canceled)
}

func BenchmarkAggregator_Add(b *testing.B) {
	a := NewAggregator(DefaultConfig())
	r := rec(packet.TransportTCP, "10.0.0.1", 50000, "10.0.0.2", 443, 100)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		a.Add(r)
	}
}
