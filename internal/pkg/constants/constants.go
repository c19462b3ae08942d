// Package constants provides shared constants used across wirecat components.
package constants

import "time"

// Process timeouts
const (
	// ProcessWaitDelay is how long a killed dissector gets to release its
	// stdout/stderr pipes before they are forcibly closed.
	ProcessWaitDelay = 5 * time.Second

	// BaseProcessTimeout is the minimum deadline for a dissector run.
	BaseProcessTimeout = 2 * time.Minute

	// ProcessTimeoutPer100MiB is added to BaseProcessTimeout for every 100 MiB of capture.
	ProcessTimeoutPer100MiB = 1 * time.Minute

	// MaxProcessTimeout caps the size-derived deadline.
	MaxProcessTimeout = 4 * time.Hour
)

// Channel buffer sizes
//
// Buffer Sizing Strategy:
//
// 1. Single-item buffers (size = 1):
//   - Used for signals that should never block the sender
//
// 2. Large buffers (size = 1000):
//   - Used for the ingest fan-out channels, one per consumer
//   - The dissector emits tens of thousands of lines per second; a large
//     buffer absorbs GC pauses in consumers without letting memory grow
//     unboundedly (the producer blocks once a channel is full)
const (
	// SignalChannelBuffer is the buffer size for OS signal channels (strategy: single-item)
	SignalChannelBuffer = 1

	// IngestChannelBuffer is the default per-consumer record channel size (strategy: large)
	IngestChannelBuffer = 1000
)

// Dissector output limits
const (
	// MaxLineLength is the longest stdout line accepted from the dissector.
	// Longer lines are skipped and counted as oversize.
	MaxLineLength = 1 << 20

	// StderrTailSize is how much of the dissector's stderr is kept for diagnostics.
	StderrTailSize = 64 * 1024
)

// Analysis defaults
const (
	// DefaultTopN is the size of the presented top-N tables.
	DefaultTopN = 30

	// DefaultBucketInterval is the QoS time-series bucket width.
	DefaultBucketInterval = time.Second

	// DefaultDomainCacheSize bounds per-domain counters in DNS analyses.
	DefaultDomainCacheSize = 10000

	// DefaultFindingCacheSize bounds cleartext finding de-duplication.
	DefaultFindingCacheSize = 50000
)
