package session

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/endorses/wirecat/internal/pkg/anomaly"
	"github.com/endorses/wirecat/internal/pkg/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func result(hash string, packets int) *Result {
	r := &Result{ID: NewID(), File: "capture.pcap", Hash: hash}
	for i := 0; i < packets; i++ {
		r.Packets = append(r.Packets, &packet.Record{
			FrameNumber: uint64(i + 1),
			SrcIP:       "10.0.0.1",
			DstIP:       "192.0.2.10",
			Protocols:   "eth:ethertype:ip:udp:dns",
			Info:        "Standard query 0x0001 A example.com",
		})
	}
	return r
}

func TestCache_SetGet(t *testing.T) {
	c := NewCache()
	_, ok := c.Get()
	assert.False(t, ok)
	assert.False(t, c.IsValid("abc"))

	r := result("abc", 3)
	c.Set(r)

	got, ok := c.Get()
	require.True(t, ok)
	assert.Same(t, r, got)
	assert.False(t, got.CachedAt.IsZero())
	assert.True(t, c.IsValid("abc"))
	assert.False(t, c.IsValid("def"))
	assert.False(t, c.IsValid(""))
}

func TestCache_SetReplaces(t *testing.T) {
	c := NewCache()
	c.Set(result("one", 1))
	second := result("two", 2)
	c.Set(second)

	got, ok := c.Get()
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.False(t, c.IsValid("one"))
	assert.True(t, c.IsValid("two"))
}

func TestCache_Clear(t *testing.T) {
	c := NewCache()
	c.Set(result("abc", 10))
	c.Clear()

	_, ok := c.Get()
	assert.False(t, ok)
	for _, h := range []string{"abc", "", "anything"} {
		assert.False(t, c.IsValid(h))
	}
	assert.Equal(t, Statistics{}, c.GetStatistics())

	// Clearing an empty cache is a no-op.
	c.Clear()
	c.Set(nil)
	_, ok = c.Get()
	assert.False(t, ok)
}

func TestCache_GetStatistics(t *testing.T) {
	c := NewCache()
	r := result("abc", 1000)
	r.CachedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	r.Countries = map[string]int{"NL": 3, "US": 1}
	r.Anomalies.Records = []anomaly.Record{
		{Severity: anomaly.SeverityHigh},
		{Severity: anomaly.SeverityMedium},
		{Severity: anomaly.SeverityLow},
	}
	c.Set(r)

	st := c.GetStatistics()
	assert.True(t, st.HasData)
	assert.Equal(t, 1000, st.TotalPackets)
	assert.Equal(t, 2, st.ThreatCount)
	assert.Equal(t, 2, st.CountryCount)
	assert.Equal(t, r.CachedAt, st.CachedAt)
	assert.Greater(t, st.EstimatedMemoryGB, 0.0)
	assert.Less(t, st.EstimatedMemoryGB, 0.01)
}

func TestCache_Concurrent(t *testing.T) {
	c := NewCache()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c.Set(result("h", 1))
				c.Get()
				c.IsValid("h")
				c.GetStatistics()
			}
		}()
	}
	wg.Wait()
	assert.True(t, c.IsValid("h"))
}

func TestHashFile(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.pcap")
	b := filepath.Join(dir, "b.pcap")
	require.NoError(t, os.WriteFile(a, []byte("capture one"), 0o600))
	require.NoError(t, os.WriteFile(b, []byte("capture two"), 0o600))

	ha, err := HashFile(a)
	require.NoError(t, err)
	assert.Len(t, ha, 64)

	again, err := HashFile(a)
	require.NoError(t, err)
	assert.Equal(t, ha, again)

	hb, err := HashFile(b)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)

	_, err = HashFile(filepath.Join(dir, "missing.pcap"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestPrefixResolver(t *testing.T) {
	r, err := NewPrefixResolver(map[string]string{
		"192.0.2.0/24":    "nl",
		"192.0.2.128/25":  "de",
		"2001:db8::/32":   "US",
		"198.51.100.7/32": "FR",
	})
	require.NoError(t, err)

	tests := map[string]string{
		"192.0.2.1":          "NL",
		"192.0.2.200":        "DE",
		"2001:db8::1":        "US",
		"198.51.100.7":       "FR",
		"::ffff:192.0.2.200": "DE",
		"10.0.0.1":           "",
		"not-an-ip":          "",
	}
	for addr, want := range tests {
		assert.Equal(t, want, r.Country(addr), addr)
	}

	_, err = NewPrefixResolver(map[string]string{"300.0.0.0/8": "XX"})
	assert.Error(t, err)
}

func TestCountCountries(t *testing.T) {
	resolver, err := NewPrefixResolver(map[string]string{"192.0.2.0/24": "NL", "198.51.100.0/24": "US"})
	require.NoError(t, err)

	records := []*packet.Record{
		{SrcIP: "192.0.2.1", DstIP: "198.51.100.1"},
		{SrcIP: "192.0.2.1", DstIP: "192.0.2.2"},
		{SrcIP: "10.0.0.1", DstIP: "198.51.100.1"},
	}
	counts := CountCountries(records, resolver)
	assert.Equal(t, map[string]int{"NL": 2, "US": 2}, counts)
	assert.Nil(t, CountCountries(records, nil))
}

func TestCache_Lookup(t *testing.T) {
	c := NewCache()
	r := result("abc", 1)
	r.Filter = "sip"
	c.Set(r)

	got, ok := c.Lookup("abc", "sip", "")
	require.True(t, ok)
	assert.Same(t, r, got)

	for _, tc := range []struct{ hash, filter, category string }{
		{"abc", "", ""},
		{"abc", "sip", "voip"},
		{"def", "sip", ""},
		{"", "sip", ""},
	} {
		_, ok := c.Lookup(tc.hash, tc.filter, tc.category)
		assert.False(t, ok, "%+v", tc)
	}
}
