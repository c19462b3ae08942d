// Package analysis drives a capture file through the dissector and every
// analysis, and keeps the outcome in a session cache.
//
//	validate -> dissector -> ingest -> {stats, cleartext, collector}
//	         -> anomaly -> qos -> countries -> session.Cache
package analysis

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/endorses/wirecat/internal/pkg/anomaly"
	"github.com/endorses/wirecat/internal/pkg/cleartext"
	"github.com/endorses/wirecat/internal/pkg/dissector"
	"github.com/endorses/wirecat/internal/pkg/ingest"
	"github.com/endorses/wirecat/internal/pkg/logger"
	"github.com/endorses/wirecat/internal/pkg/qos"
	"github.com/endorses/wirecat/internal/pkg/session"
	"github.com/endorses/wirecat/internal/pkg/stats"
	"github.com/endorses/wirecat/internal/pkg/sysmetrics"
	"github.com/endorses/wirecat/internal/pkg/validate"
	"github.com/spf13/viper"
)

// Config gathers the configuration of every stage.
type Config struct {
	Dissector dissector.Config
	Ingest    ingest.Config
	Stats     stats.Config
	Cleartext cleartext.Config
	Anomaly   anomaly.Config
	QoS       qos.Config

	// MaxPackets caps the records kept for detection and the session; 0
	// keeps all. Statistics and credentials always see every record.
	MaxPackets int

	// SampleInterval is how often process memory is sampled during a run.
	SampleInterval time.Duration
}

// memoryPressureWarning is the peak RSS to memory limit ratio that is logged.
const memoryPressureWarning = 0.9

// DefaultConfig returns the defaults of every stage.
func DefaultConfig() Config {
	return Config{
		Dissector: dissector.DefaultConfig(),
		Ingest:    ingest.DefaultConfig(),
		Stats:     stats.DefaultConfig(),
		Cleartext: cleartext.DefaultConfig(),
		Anomaly:   anomaly.DefaultConfig(),
		QoS:       qos.DefaultConfig(),

		SampleInterval: sysmetrics.DefaultInterval,
	}
}

// ConfigFromViper reads every stage's keys, plus analysis.max_packets.
func ConfigFromViper() Config {
	return Config{
		Dissector:  dissector.ConfigFromViper(),
		Ingest:     ingest.ConfigFromViper(),
		Stats:      stats.ConfigFromViper(),
		Cleartext:  cleartext.ConfigFromViper(),
		Anomaly:    anomaly.ConfigFromViper(),
		QoS:        qos.ConfigFromViper(),
		MaxPackets: viper.GetInt("analysis.max_packets"),

		SampleInterval: viper.GetDuration("analysis.sample_interval"),
	}
}

// Options select what a single run analyses.
type Options struct {
	Filter   string
	Category string // anomaly category; empty runs every detector
}

// Analyzer runs analyses. It is safe for sequential reuse; the session
// cache it was given is shared across runs.
type Analyzer struct {
	cfg        Config
	executor   *dissector.Executor
	pipeline   *ingest.Pipeline
	dispatcher *anomaly.Dispatcher
	generator  *qos.Generator
	cache      *session.Cache
	countries  session.CountryResolver
}

// New creates an analyzer. metrics and countries may be nil; a nil cache
// gets a private one.
func New(cfg Config, cache *session.Cache, metrics *ingest.Metrics, countries session.CountryResolver) *Analyzer {
	if cache == nil {
		cache = session.NewCache()
	}
	return &Analyzer{
		cfg:        cfg,
		executor:   dissector.NewExecutor(cfg.Dissector),
		pipeline:   ingest.New(cfg.Ingest, metrics),
		dispatcher: anomaly.DefaultDispatcher(cfg.Anomaly),
		generator:  qos.NewGenerator(cfg.QoS),
		cache:      cache,
		countries:  countries,
	}
}

// Cache returns the session cache.
func (a *Analyzer) Cache() *session.Cache {
	return a.cache
}

// Dispatcher returns the anomaly dispatcher so callers can register
// additional detectors before analysing.
func (a *Analyzer) Dispatcher() *anomaly.Dispatcher {
	return a.dispatcher
}

// Analyze runs the full analysis of path. A cached result for the same
// content, filter and category is returned without re-running the
// dissector; any other cached result is cleared before the run starts.
func (a *Analyzer) Analyze(ctx context.Context, path string, opts Options) (*session.Result, error) {
	abs, filter, err := a.inputs(path, opts.Filter)
	if err != nil {
		return nil, err
	}
	var category anomaly.Category
	if opts.Category != "" {
		if category, err = anomaly.ParseCategory(opts.Category); err != nil {
			return nil, err
		}
	}

	hash, err := session.HashFile(abs)
	if err != nil {
		return nil, err
	}
	if r, ok := a.cache.Lookup(hash, filter, string(category)); ok {
		logger.Info("Using cached analysis", "file", abs, "session_id", r.ID)
		return r, nil
	}
	// The previous capture's records are released before the next one loads.
	a.cache.Clear()

	args, err := dissector.AnalysisCommand(abs, filter)
	if err != nil {
		return nil, err
	}

	ctx, cancel := a.deadline(ctx, abs)
	defer cancel()

	return a.run(ctx, abs, hash, filter, category, func() (ingest.Source, error) {
		proc, err := a.executor.Start(ctx, args)
		if err != nil {
			return nil, err
		}
		return ingest.FromProcess(proc), nil
	})
}

// Replay analyses dissector output saved earlier in the analysis field
// layout, as written by "wirecat fields --layout". No dissector runs, so
// the options cannot carry a display filter.
func (a *Analyzer) Replay(ctx context.Context, path string, opts Options) (*session.Result, error) {
	if opts.Filter != "" {
		return nil, fmt.Errorf("a display filter cannot be applied to saved output")
	}
	var category anomaly.Category
	if opts.Category != "" {
		var err error
		if category, err = anomaly.ParseCategory(opts.Category); err != nil {
			return nil, err
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", abs)
	}

	hash, err := session.HashFile(abs)
	if err != nil {
		return nil, err
	}
	if r, ok := a.cache.Lookup(hash, "", string(category)); ok {
		logger.Info("Using cached analysis", "file", abs, "session_id", r.ID)
		return r, nil
	}
	a.cache.Clear()

	f, err := os.Open(abs)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return a.run(ctx, abs, hash, "", category, func() (ingest.Source, error) {
		return ingest.FromReader(f, a.executor.Config().MaxLineLength), nil
	})
}

// run ingests the source opened by open and assembles the result.
func (a *Analyzer) run(ctx context.Context, abs, hash, filter string, category anomaly.Category,
	open func() (ingest.Source, error)) (*session.Result, error) {

	start := time.Now()
	sampler := sysmetrics.NewSampler(a.cfg.SampleInterval)
	sampler.Start(ctx)
	defer sampler.Stop()

	src, err := open()
	if err != nil {
		return nil, err
	}

	aggregator := stats.NewAggregator(a.cfg.Stats)
	scanner := cleartext.NewScanner(nil, a.cfg.Cleartext)
	collector := ingest.NewCollector(a.cfg.MaxPackets)

	ingested, err := a.pipeline.Run(ctx, src, aggregator, scanner, collector)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze %s: %w", abs, err)
	}
	if n := collector.Dropped(); n > 0 {
		logger.Warn("Packet limit reached, later packets skipped detection",
			"limit", a.cfg.MaxPackets,
			"dropped", n)
	}

	packets := collector.Records()
	var report anomaly.Report
	if category != "" {
		report = a.dispatcher.DetectCategory(ctx, category, packets)
	} else {
		report = a.dispatcher.DetectAll(ctx, packets)
	}

	series, err := a.generator.Generate(ctx, qos.InputFromRecords(packets))
	if err != nil {
		return nil, fmt.Errorf("failed to build QoS series: %w", err)
	}

	result := &session.Result{
		ID:          session.NewID(),
		File:        abs,
		Hash:        hash,
		Filter:      filter,
		Category:    string(category),
		Packets:     packets,
		Summary:     aggregator.Summary(),
		Credentials: scanner.Findings(),
		Anomalies:   report,
		QoS:         series,
		Ingest:      session.NewIngestStats(ingested),
		Countries:   session.CountCountries(packets, a.countries),
	}
	for _, ce := range ingested.ConsumerErrors {
		result.Failures = append(result.Failures, ce.Error())
	}
	for _, f := range report.Failures {
		result.Failures = append(result.Failures, f.Error())
	}
	result.Partial = ingested.Partial() || report.Partial || len(report.Failures) > 0

	result.Resources = sampler.Stop()
	if p := result.Resources.Pressure(); p >= memoryPressureWarning {
		logger.Warn("Analysis is close to the memory limit",
			"peak_rss_bytes", result.Resources.PeakRSSBytes,
			"memory_limit_bytes", result.Resources.MemoryLimitBytes,
			"pressure", p)
	}

	a.cache.Set(result)

	logger.Info("Analysis complete",
		"file", abs,
		"session_id", result.ID,
		"packets", len(packets),
		"credentials", len(result.Credentials),
		"anomalies", len(report.Records),
		"partial", result.Partial,
		"peak_rss_bytes", result.Resources.PeakRSSBytes,
		"elapsed", time.Since(start))
	return result, nil
}

// Count returns the number of frames in path matching filter.
func (a *Analyzer) Count(ctx context.Context, path, filter string) (uint64, error) {
	abs, filter, err := a.inputs(path, filter)
	if err != nil {
		return 0, err
	}
	args, err := dissector.CountCommand(abs, filter)
	if err != nil {
		return 0, err
	}

	ctx, cancel := a.deadline(ctx, abs)
	defer cancel()

	var n uint64
	err = a.executor.Run(ctx, args, func(line []byte) error {
		if len(bytes.TrimSpace(line)) > 0 {
			n++
		}
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("failed to count %s: %w", abs, err)
	}
	logger.Debug("Counted frames", "file", abs, "frames", n)
	return n, nil
}

// FieldOptions select an ad-hoc extraction.
type FieldOptions struct {
	Filter     string
	Fields     []string
	Occurrence byte // 'f', 'l' or 'a'; zero means first
}

// Fields extracts the named fields of every frame of path matching the
// filter and hands each tab-separated line to fn. Returning an error from fn
// stops the dissector.
func (a *Analyzer) Fields(ctx context.Context, path string, opts FieldOptions, fn func(line []byte) error) error {
	abs, filter, err := a.inputs(path, opts.Filter)
	if err != nil {
		return err
	}
	if err := validate.Fields(opts.Fields); err != nil {
		return err
	}
	args, err := dissector.FieldsCommand(abs, filter, opts.Occurrence, opts.Fields...)
	if err != nil {
		return err
	}

	ctx, cancel := a.deadline(ctx, abs)
	defer cancel()

	if err := a.executor.Run(ctx, args, fn); err != nil {
		return fmt.Errorf("failed to extract fields from %s: %w", abs, err)
	}
	return nil
}

func (a *Analyzer) inputs(path, filter string) (string, string, error) {
	abs, err := validate.FilePath(path)
	if err != nil {
		return "", "", err
	}
	filter, err = validate.Filter(filter)
	if err != nil {
		return "", "", err
	}
	return abs, filter, nil
}

// deadline bounds a run by the capture size unless the executor already
// applies a fixed timeout.
func (a *Analyzer) deadline(ctx context.Context, path string) (context.Context, context.CancelFunc) {
	if a.executor.Config().Timeout > 0 {
		return context.WithCancel(ctx)
	}
	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}
	return context.WithTimeout(ctx, dissector.TimeoutForSize(size))
}
