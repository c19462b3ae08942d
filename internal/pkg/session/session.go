// Package session holds the analysis result of the currently open capture.
//
// A Cache keeps at most one Result. It is owned by the caller and passed to
// whatever needs it; there is no package-level instance.
package session

import (
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/endorses/wirecat/internal/pkg/anomaly"
	"github.com/endorses/wirecat/internal/pkg/cleartext"
	"github.com/endorses/wirecat/internal/pkg/ingest"
	"github.com/endorses/wirecat/internal/pkg/logger"
	"github.com/endorses/wirecat/internal/pkg/packet"
	"github.com/endorses/wirecat/internal/pkg/qos"
	"github.com/endorses/wirecat/internal/pkg/stats"
	"github.com/endorses/wirecat/internal/pkg/sysmetrics"
)

// recordOverhead approximates the heap cost of a record beyond its strings.
const recordOverhead = 320

// Result is the complete analysis of one capture file.
type Result struct {
	ID          string              `json:"id" yaml:"id"`
	File        string              `json:"file" yaml:"file"`
	Hash        string              `json:"hash" yaml:"hash"`
	Filter      string              `json:"filter,omitempty" yaml:"filter,omitempty"`
	Category    string              `json:"category,omitempty" yaml:"category,omitempty"`
	Packets     []*packet.Record    `json:"-" yaml:"-"`
	Summary     stats.Summary       `json:"summary" yaml:"summary"`
	Credentials []cleartext.Content `json:"credentials" yaml:"credentials"`
	Anomalies   anomaly.Report      `json:"anomalies" yaml:"anomalies"`
	QoS         qos.Series          `json:"qos" yaml:"qos"`
	Ingest      IngestStats         `json:"ingest" yaml:"ingest"`
	Resources   sysmetrics.Metrics  `json:"resources" yaml:"resources"`
	Countries   map[string]int      `json:"countries,omitempty" yaml:"countries,omitempty"`
	Partial     bool                `json:"partial" yaml:"partial"`
	Failures    []string            `json:"failures,omitempty" yaml:"failures,omitempty"`
	CachedAt    time.Time           `json:"cached_at" yaml:"cached_at"`
}

// IngestStats is the serializable form of ingest.Stats.
type IngestStats struct {
	LinesRead uint64        `json:"lines_read" yaml:"lines_read"`
	Parsed    uint64        `json:"parsed" yaml:"parsed"`
	Rejected  uint64        `json:"rejected" yaml:"rejected"`
	Oversize  uint64        `json:"oversize" yaml:"oversize"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}

// NewIngestStats copies the counters of s.
func NewIngestStats(s ingest.Stats) IngestStats {
	return IngestStats{
		LinesRead: s.LinesRead,
		Parsed:    s.Parsed,
		Rejected:  s.Rejected,
		Oversize:  s.Oversize,
		Duration:  s.Duration,
	}
}

// ThreatCount is the number of anomalies of medium severity or above.
func (r *Result) ThreatCount() int {
	n := 0
	for _, a := range r.Anomalies.Records {
		if a.Severity >= anomaly.SeverityMedium {
			n++
		}
	}
	return n
}

// estimateBytes approximates the memory held by the packet records.
func (r *Result) estimateBytes() uint64 {
	var total uint64
	for _, p := range r.Packets {
		total += recordOverhead
		total += uint64(len(p.Info) + len(p.Protocols) + len(p.AppProtocol))
		if p.Cleartext != nil {
			total += 20 * 16
		}
		if p.Fingerprint != nil {
			total += 18 * 16
		}
	}
	return total
}

// Statistics describes the cached result without exposing it.
type Statistics struct {
	HasData           bool      `json:"has_data" yaml:"has_data"`
	File              string    `json:"file,omitempty" yaml:"file,omitempty"`
	TotalPackets      int       `json:"total_packets" yaml:"total_packets"`
	EstimatedMemoryGB float64   `json:"estimated_memory_gb" yaml:"estimated_memory_gb"`
	CachedAt          time.Time `json:"cached_at" yaml:"cached_at"`
	ThreatCount       int       `json:"threat_count" yaml:"threat_count"`
	CountryCount      int       `json:"country_count" yaml:"country_count"`
}

// Cache holds the result of the current capture.
type Cache struct {
	mu     sync.RWMutex
	result *Result
	bytes  uint64
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{}
}

// Set replaces the cached result. CachedAt is stamped if unset.
func (c *Cache) Set(r *Result) {
	if r == nil {
		c.Clear()
		return
	}
	if r.CachedAt.IsZero() {
		r.CachedAt = time.Now()
	}
	size := r.estimateBytes()

	c.mu.Lock()
	c.result = r
	c.bytes = size
	c.mu.Unlock()

	logger.Info("Session result cached",
		"file", r.File,
		"packets", len(r.Packets),
		"estimated_bytes", size)
}

// Get returns the cached result, if any.
func (c *Cache) Get() (*Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.result, c.result != nil
}

// IsValid reports whether the cached result was computed from content
// with the given hash.
func (c *Cache) IsValid(hash string) bool {
	if hash == "" {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.result != nil && c.result.Hash == hash
}

// Lookup returns the cached result when it was computed from content with
// the given hash under the same filter and category.
func (c *Cache) Lookup(hash, filter, category string) (*Result, bool) {
	if hash == "" {
		return nil, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	r := c.result
	if r == nil || r.Hash != hash || r.Filter != filter || r.Category != category {
		return nil, false
	}
	return r, true
}

// Clear drops the cached result, forces a collection and asks the runtime
// to return freed pages to the OS. Results of large captures hold tens of
// gigabytes of records, so collection is not left to the pacer. Memory
// still referenced by callers, or pinned by pending finalizers, survives.
func (c *Cache) Clear() {
	c.mu.Lock()
	had := c.result != nil
	freed := c.bytes
	c.result = nil
	c.bytes = 0
	c.mu.Unlock()

	if !had {
		return
	}

	runtime.GC()
	// Yield so the finalizer goroutine may run before the second cycle.
	// Nothing waits for finalizers; memory they pin is freed later.
	runtime.Gosched()
	runtime.GC()
	debug.FreeOSMemory()

	logger.Info("Session cache cleared", "estimated_bytes", freed)
}

// GetStatistics summarizes the cached result.
func (c *Cache) GetStatistics() Statistics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.result == nil {
		return Statistics{}
	}
	r := c.result
	return Statistics{
		HasData:           true,
		File:              r.File,
		TotalPackets:      len(r.Packets),
		EstimatedMemoryGB: float64(c.bytes) / (1 << 30),
		CachedAt:          r.CachedAt,
		ThreatCount:       r.ThreatCount(),
		CountryCount:      len(r.Countries),
	}
}
