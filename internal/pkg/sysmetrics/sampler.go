// Package sysmetrics samples the process's CPU and memory use while an
// analysis runs, so large captures that approach the memory limit can be
// reported before the kernel kills the process.
package sysmetrics

import (
	"context"
	"sync"
	"time"
)

// DefaultInterval is the sampling period.
const DefaultInterval = time.Second

// Metrics is a resource snapshot.
type Metrics struct {
	// CPUPercent is the CPU usage over the last interval (0-100), or -1
	// when unavailable.
	CPUPercent float64 `json:"cpu_percent" yaml:"cpu_percent"`

	MemoryRSSBytes   uint64 `json:"memory_rss_bytes" yaml:"memory_rss_bytes"`
	PeakRSSBytes     uint64 `json:"peak_rss_bytes" yaml:"peak_rss_bytes"`
	MemoryLimitBytes uint64 `json:"memory_limit_bytes,omitempty" yaml:"memory_limit_bytes,omitempty"` // 0 when unlimited
}

// Pressure is peak RSS as a fraction of the memory limit, or 0 without a limit.
func (m Metrics) Pressure() float64 {
	if m.MemoryLimitBytes == 0 {
		return 0
	}
	return float64(m.PeakRSSBytes) / float64(m.MemoryLimitBytes)
}

// Sampler collects Metrics in the background between Start and Stop.
type Sampler struct {
	interval time.Duration

	mu      sync.RWMutex
	metrics Metrics

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	platform platformState
}

// NewSampler creates a sampler; interval <= 0 uses DefaultInterval.
func NewSampler(interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sampler{
		interval: interval,
		metrics:  Metrics{CPUPercent: -1},
	}
}

// Start samples once immediately and then every interval until Stop or
// until ctx is done.
func (s *Sampler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.initPlatform()
	s.sample()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sample()
			}
		}
	}()
}

// Stop ends sampling, takes a final sample and returns it.
func (s *Sampler) Stop() Metrics {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.sample()
	return s.Get()
}

// Get returns the latest snapshot.
func (s *Sampler) Get() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

func (s *Sampler) sample() {
	m := s.read()

	s.mu.Lock()
	m.PeakRSSBytes = max(s.metrics.PeakRSSBytes, m.MemoryRSSBytes)
	if m.CPUPercent < 0 {
		m.CPUPercent = s.metrics.CPUPercent
	}
	s.metrics = m
	s.mu.Unlock()
}
