package ingest

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/endorses/wirecat/internal/pkg/packet"
)

// Consumer receives every parsed record in input order. Consume must return
// when records is closed or ctx is done. Records are shared between
// consumers and must not be modified.
type Consumer interface {
	Name() string
	Consume(ctx context.Context, records <-chan *packet.Record) error
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc struct {
	ConsumerName string
	Fn           func(ctx context.Context, records <-chan *packet.Record) error
}

func (f ConsumerFunc) Name() string {
	return f.ConsumerName
}

func (f ConsumerFunc) Consume(ctx context.Context, records <-chan *packet.Record) error {
	return f.Fn(ctx, records)
}

// ConsumerError reports a consumer that failed or panicked. Its output is
// incomplete; the pipeline and the other consumers are unaffected.
type ConsumerError struct {
	Consumer string
	Err      error
	Panic    bool
}

func (e *ConsumerError) Error() string {
	if e.Panic {
		return fmt.Sprintf("consumer %s panicked: %v", e.Consumer, e.Err)
	}
	return fmt.Sprintf("consumer %s failed: %v", e.Consumer, e.Err)
}

func (e *ConsumerError) Unwrap() error {
	return e.Err
}

// runConsumer calls c.Consume and converts a panic into a *ConsumerError.
func runConsumer(ctx context.Context, c Consumer, ch <-chan *packet.Record) (cerr *ConsumerError) {
	defer func() {
		if r := recover(); r != nil {
			cerr = &ConsumerError{
				Consumer: c.Name(),
				Err:      fmt.Errorf("%v\n%s", r, debug.Stack()),
				Panic:    true,
			}
		}
	}()
	if err := c.Consume(ctx, ch); err != nil {
		return &ConsumerError{Consumer: c.Name(), Err: err}
	}
	return nil
}

// Collector keeps every record, for analyses that need the whole capture.
type Collector struct {
	mu      sync.Mutex
	records []*packet.Record
	limit   int
	dropped int
}

// NewCollector creates a collector. limit <= 0 keeps everything; otherwise
// records past the limit are counted and dropped.
func NewCollector(limit int) *Collector {
	return &Collector{limit: limit}
}

func (c *Collector) Name() string {
	return "collector"
}

func (c *Collector) Consume(ctx context.Context, records <-chan *packet.Record) error {
	for rec := range records {
		c.mu.Lock()
		if c.limit > 0 && len(c.records) >= c.limit {
			c.dropped++
		} else {
			c.records = append(c.records, rec)
		}
		c.mu.Unlock()
	}
	return nil
}

// Records returns the collected records in input order.
func (c *Collector) Records() []*packet.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.records
}

// Dropped is the number of records discarded by the limit.
func (c *Collector) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
