//go:build !linux

package sysmetrics

import "runtime"

type platformState struct{}

func (s *Sampler) initPlatform() {}

// read approximates RSS with the runtime's obtained memory; CPU and the
// memory limit are unavailable.
func (s *Sampler) read() Metrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return Metrics{CPUPercent: -1, MemoryRSSBytes: ms.Sys}
}
