//go:build linux

package sysmetrics

import (
	"bufio"
	"bytes"
	"os"
	"strconv"
	"strings"
	"time"
)

// clockTicksHz is USER_HZ, 100 on every mainstream Linux build.
const clockTicksHz = 100

type platformState struct {
	prevCPU   uint64
	prevWall  time.Time
	limit     uint64
	hasSample bool
}

func (s *Sampler) initPlatform() {
	s.platform = platformState{
		prevCPU:  readProcessCPUTime(),
		prevWall: time.Now(),
		limit:    readCgroupMemoryLimit(),
	}
}

// read gathers a snapshot from /proc. Only the sampling goroutine and
// Stop call it, never concurrently.
func (s *Sampler) read() Metrics {
	m := Metrics{
		CPUPercent:       -1,
		MemoryRSSBytes:   readMemoryRSS(),
		MemoryLimitBytes: s.platform.limit,
	}

	now := time.Now()
	cpu := readProcessCPUTime()
	wall := now.Sub(s.platform.prevWall).Seconds()
	if s.platform.hasSample && wall > 0.5 && cpu >= s.platform.prevCPU {
		pct := float64(cpu-s.platform.prevCPU) / clockTicksHz / wall * 100
		m.CPUPercent = min(max(pct, 0), 100)
	}
	if wall > 0.5 || !s.platform.hasSample {
		s.platform.prevCPU = cpu
		s.platform.prevWall = now
		s.platform.hasSample = true
	}
	return m
}

// readProcessCPUTime returns utime + stime in clock ticks from
// /proc/self/stat. The command name may contain spaces, so fields are
// counted from the closing parenthesis.
func readProcessCPUTime() uint64 {
	data, err := os.ReadFile("/proc/self/stat")
	if err != nil {
		return 0
	}
	end := bytes.LastIndexByte(data, ')')
	if end == -1 || end+2 >= len(data) {
		return 0
	}
	fields := bytes.Fields(data[end+2:])
	if len(fields) < 13 {
		return 0
	}
	utime, err1 := strconv.ParseUint(string(fields[11]), 10, 64)
	stime, err2 := strconv.ParseUint(string(fields[12]), 10, 64)
	if err1 != nil || err2 != nil {
		return 0
	}
	return utime + stime
}

// readMemoryRSS returns VmRSS from /proc/self/status in bytes.
func readMemoryRSS() uint64 {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		rest, ok := strings.CutPrefix(sc.Text(), "VmRSS:")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			return 0
		}
		kb, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return 0
		}
		return kb * 1024
	}
	return 0
}

// readCgroupMemoryLimit returns the cgroup v2 or v1 memory limit, or 0.
func readCgroupMemoryLimit() uint64 {
	for _, path := range []string{
		"/sys/fs/cgroup/memory.max",
		"/sys/fs/cgroup/memory/memory.limit_in_bytes",
	} {
		if limit := parseLimit(path); limit > 0 {
			return limit
		}
	}
	return 0
}

func parseLimit(path string) uint64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	s := strings.TrimSpace(string(data))
	if s == "max" {
		return 0
	}
	v, err := strconv.ParseUint(s, 10, 64)
	// cgroup v1 reports "unlimited" as a page-rounded MaxInt64.
	if err != nil || v > 1<<62 {
		return 0
	}
	return v
}
