// Package ingest turns dissector output into packet records and fans them
// out to analysis consumers.
//
// A single producer reads and parses lines and sends each record to one
// bounded channel per consumer. A full channel blocks the producer, so
// memory stays bounded no matter how slow a consumer is. Consumers run
// concurrently; a consumer that stops early is drained so it can never
// stall the others.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/endorses/wirecat/internal/pkg/constants"
	"github.com/endorses/wirecat/internal/pkg/logger"
	"github.com/endorses/wirecat/internal/pkg/packet"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// ErrCanceled is returned when the run was stopped through its context.
var ErrCanceled = errors.New("ingest canceled")

// depthSampleEvery is how often, in records, channel depth is sampled.
const depthSampleEvery = 1024

// Config configures a pipeline.
type Config struct {
	BufferSize        int           `mapstructure:"buffer_size"`
	RejectLogInterval time.Duration `mapstructure:"reject_log_interval"`
	InternCapacity    int           `mapstructure:"intern_capacity"`
}

// DefaultConfig returns the pipeline defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:        constants.IngestChannelBuffer,
		RejectLogInterval: 5 * time.Second,
		InternCapacity:    packet.DefaultInternCapacity,
	}
}

// ConfigFromViper reads the ingest.* keys over the defaults.
func ConfigFromViper() Config {
	cfg := DefaultConfig()
	if v := viper.GetInt("ingest.buffer_size"); v > 0 {
		cfg.BufferSize = v
	}
	if v := viper.GetDuration("ingest.reject_log_interval"); v > 0 {
		cfg.RejectLogInterval = v
	}
	if v := viper.GetInt("ingest.intern_capacity"); v > 0 {
		cfg.InternCapacity = v
	}
	return cfg
}

// Stats summarises a run.
type Stats struct {
	LinesRead      uint64
	Parsed         uint64
	Rejected       uint64
	Oversize       uint64
	Duration       time.Duration
	ConsumerErrors []*ConsumerError
}

// Partial reports whether any consumer failed.
func (s Stats) Partial() bool {
	return len(s.ConsumerErrors) > 0
}

// Pipeline runs ingestion. It holds no per-run state and may be reused.
type Pipeline struct {
	cfg     Config
	metrics *Metrics
}

// New creates a pipeline. metrics may be nil.
func New(cfg Config, metrics *Metrics) *Pipeline {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.RejectLogInterval <= 0 {
		cfg.RejectLogInterval = def.RejectLogInterval
	}
	if cfg.InternCapacity <= 0 {
		cfg.InternCapacity = def.InternCapacity
	}
	return &Pipeline{cfg: cfg, metrics: metrics}
}

// Run reads src to the end and delivers every parsed record, in order, to
// each consumer. It returns when the source is exhausted and all consumers
// have returned.
//
// Cancelling ctx closes the source (killing the dissector), closes the
// consumer channels and returns ErrCanceled. When ctx expires instead, the
// source's own error is returned, so a timed out dissector surfaces as its
// process error. A source failure, such as a non-zero dissector exit, is
// returned as is. Consumer failures never fail
// the run; they are listed in Stats.ConsumerErrors.
func (p *Pipeline) Run(ctx context.Context, src Source, consumers ...Consumer) (Stats, error) {
	start := time.Now()

	if closer, ok := src.(Closer); ok {
		stop := context.AfterFunc(ctx, func() {
			if err := closer.Close(); err != nil {
				logger.Warn("Failed to close source on cancel", "error", err)
			}
		})
		defer stop()
	}

	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed []*ConsumerError
	)
	chans := make([]chan *packet.Record, len(consumers))
	for i, c := range consumers {
		ch := make(chan *packet.Record, p.cfg.BufferSize)
		chans[i] = ch
		g.Go(func() error {
			cerr := runConsumer(ctx, c, ch)
			// Keep the producer moving if the consumer stopped early.
			for range ch {
			}
			if cerr != nil {
				logger.Error("Consumer failed",
					"consumer", c.Name(),
					"panic", cerr.Panic,
					"error", cerr.Err)
				p.metrics.observeFailure(c.Name())
				mu.Lock()
				failed = append(failed, cerr)
				mu.Unlock()
			}
			return nil
		})
	}

	stats := p.produce(ctx, src, consumers, chans)

	for _, ch := range chans {
		close(ch)
	}
	_ = g.Wait()

	if oc, ok := src.(oversizeCounter); ok {
		stats.Oversize = oc.Oversize()
	}
	stats.ConsumerErrors = failed
	stats.Duration = time.Since(start)
	p.metrics.observeRun(stats)

	srcErr := src.Err()
	if w, ok := src.(Waiter); ok {
		if err := w.Wait(); err != nil && srcErr == nil {
			srcErr = err
		}
	}

	if err := ctx.Err(); err != nil {
		logger.Warn("Ingest stopped",
			"lines", stats.LinesRead,
			"parsed", stats.Parsed,
			"deadline", errors.Is(err, context.DeadlineExceeded),
			"elapsed", stats.Duration)
		// A deadline is a source failure; the source error carries the
		// process diagnostics.
		if errors.Is(err, context.DeadlineExceeded) {
			if srcErr != nil {
				return stats, fmt.Errorf("ingest source failed: %w", srcErr)
			}
			return stats, fmt.Errorf("ingest timed out: %w", context.Cause(ctx))
		}
		return stats, fmt.Errorf("%w: %w", ErrCanceled, context.Cause(ctx))
	}
	if srcErr != nil {
		return stats, fmt.Errorf("ingest source failed: %w", srcErr)
	}

	logger.Info("Ingest complete",
		"lines", stats.LinesRead,
		"parsed", stats.Parsed,
		"rejected", stats.Rejected,
		"oversize", stats.Oversize,
		"consumer_errors", len(failed),
		"elapsed", stats.Duration)
	return stats, nil
}

// produce is the single producer loop.
func (p *Pipeline) produce(ctx context.Context, src Source, consumers []Consumer, chans []chan *packet.Record) Stats {
	var stats Stats
	parser := packet.NewParser(packet.NewInterner(p.cfg.InternCapacity))
	limiter := rate.NewLimiter(rate.Every(p.cfg.RejectLogInterval), 1)
	var suppressed uint64

	for src.Next() {
		stats.LinesRead++
		p.metrics.observeLine()
		if stats.LinesRead%256 == 0 && ctx.Err() != nil {
			return stats
		}

		rec, ok := parser.Parse(src.Bytes())
		if !ok {
			stats.Rejected++
			p.metrics.observeRejected()
			if limiter.Allow() {
				logger.Warn("Rejected dissector line",
					"line", stats.LinesRead,
					"rejected", stats.Rejected,
					"suppressed", suppressed)
				suppressed = 0
			} else {
				suppressed++
			}
			continue
		}
		stats.Parsed++
		p.metrics.observeParsed()

		for _, ch := range chans {
			select {
			case ch <- rec:
			case <-ctx.Done():
				return stats
			}
		}

		if stats.Parsed%depthSampleEvery == 0 {
			for i, ch := range chans {
				p.metrics.setDepth(consumers[i].Name(), len(ch))
			}
		}
	}
	return stats
}
