package anomaly

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/endorses/wirecat/internal/pkg/logger"
	"github.com/endorses/wirecat/internal/pkg/packet"
)

// Dispatcher runs registered detectors over a packet set.
type Dispatcher struct {
	mu        sync.RWMutex
	detectors []Detector
	names     map[string]struct{}
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{names: make(map[string]struct{})}
}

// DefaultDispatcher registers every built-in detector with cfg.
func DefaultDispatcher(cfg Config) *Dispatcher {
	d := NewDispatcher()
	for _, det := range []Detector{
		NewPortScanDetector(cfg.PortScan),
		NewSynFloodDetector(cfg.SynFlood),
		NewARPSpoofDetector(),
		NewCleartextAuthDetector(nil),
		NewSIPFloodDetector(cfg.SIPFlood),
		NewRTPJitterDetector(cfg.RTPJitter),
		NewSIPScannerDetector(cfg.SIPScanner),
		NewIoTProtocolDetector(),
		NewDNSTunnelingDetector(cfg.DNSTunneling),
		NewLargeUploadDetector(cfg.LargeUpload),
		NewDeprecatedTLSDetector(),
	} {
		if err := d.Register(det); err != nil {
			panic(err)
		}
	}
	return d
}

// Register adds a detector. Names must be unique.
func (d *Dispatcher) Register(det Detector) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.names[det.Name()]; ok {
		return fmt.Errorf("detector %q already registered", det.Name())
	}
	d.names[det.Name()] = struct{}{}
	d.detectors = append(d.detectors, det)

	logger.Debug("Registered anomaly detector",
		"name", det.Name(),
		"category", string(det.Category()))
	return nil
}

// Detectors returns the registered detectors in registration order.
func (d *Dispatcher) Detectors() []Detector {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Detector, len(d.detectors))
	copy(out, d.detectors)
	return out
}

// DetectAll runs every detector.
func (d *Dispatcher) DetectAll(ctx context.Context, packets []*packet.Record) Report {
	return d.run(ctx, d.Detectors(), packets)
}

// DetectCategory runs only the detectors of one category. An unknown
// category yields an empty report.
func (d *Dispatcher) DetectCategory(ctx context.Context, category Category, packets []*packet.Record) Report {
	var selected []Detector
	for _, det := range d.Detectors() {
		if det.Category() == category {
			selected = append(selected, det)
		}
	}
	return d.run(ctx, selected, packets)
}

func (d *Dispatcher) run(ctx context.Context, detectors []Detector, packets []*packet.Record) Report {
	start := time.Now()
	var report Report
	var all []Record

	for _, det := range detectors {
		if err := ctx.Err(); err != nil {
			report.Partial = true
			logger.Warn("Anomaly detection cancelled",
				"remaining", det.Name(),
				"error", err)
			break
		}

		records, failure := runDetector(ctx, det, packets)
		if failure != nil {
			report.Failures = append(report.Failures, failure)
			report.Partial = true
			logger.Error("Anomaly detector failed",
				"detector", failure.Detector,
				"panic", failure.Panic,
				"error", failure.Err)
			continue
		}
		all = append(all, records...)
	}

	report.Records, report.Duplicates = dedupe(all)
	sortRecords(report.Records)
	report.Duration = time.Since(start)

	logger.Info("Anomaly detection complete",
		"detectors", len(detectors),
		"anomalies", len(report.Records),
		"duplicates", report.Duplicates,
		"failures", len(report.Failures),
		"duration", report.Duration)
	return report
}

// runDetector isolates one detector so a panic cannot take down the others.
func runDetector(ctx context.Context, det Detector, packets []*packet.Record) (records []Record, failure *Failure) {
	defer func() {
		if r := recover(); r != nil {
			logger.Debug("Detector panic stack", "detector", det.Name(), "stack", string(debug.Stack()))
			records = nil
			failure = &Failure{
				Detector: det.Name(),
				Category: det.Category(),
				Err:      fmt.Errorf("%v", r),
				Panic:    true,
			}
			failure.Message = failure.Err.Error()
		}
	}()

	records, err := det.Detect(ctx, packets)
	if err != nil {
		return nil, &Failure{
			Detector: det.Name(),
			Category: det.Category(),
			Err:      err,
			Message:  err.Error(),
		}
	}
	return records, nil
}

type dedupeKey struct {
	typ      string
	src, dst string
	second   int64
}

// dedupe merges records describing the same event. Types are compared
// after legacy alias mapping so two detectors reporting the same thing
// under old and new names collapse into one record; the higher severity
// is kept.
func dedupe(records []Record) ([]Record, int) {
	if len(records) == 0 {
		return nil, 0
	}
	index := make(map[dedupeKey]int, len(records))
	out := make([]Record, 0, len(records))
	dups := 0
	for _, r := range records {
		k := dedupeKey{
			typ:    CanonicalType(r.Type),
			src:    r.SourceIP,
			dst:    r.DestIP,
			second: r.DetectedAt.Unix(),
		}
		if i, ok := index[k]; ok {
			dups++
			if r.Severity > out[i].Severity {
				out[i] = r
			}
			continue
		}
		index[k] = len(out)
		out = append(out, r)
	}
	return out, dups
}

// sortRecords orders by severity descending, then detection time ascending.
func sortRecords(records []Record) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Severity != records[j].Severity {
			return records[i].Severity > records[j].Severity
		}
		return records[i].DetectedAt.Before(records[j].DetectedAt)
	})
}
