// Package qos builds VoIP quality time series from captured packets.
//
// Packets are bucketed into fixed intervals over the capture's time range.
// For each bucket, inter-packet intervals of the latency and jitter sample
// sets are summarized (min, mean, max, 5th and 95th percentile), jitter is
// the mean absolute deviation of those intervals from their mean, and
// active connections are the distinct conversations seen in the bucket.
package qos

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/endorses/wirecat/internal/pkg/constants"
	"github.com/endorses/wirecat/internal/pkg/logger"
	"github.com/endorses/wirecat/internal/pkg/packet"
	"github.com/spf13/viper"
)

// maxInterval is the largest gap treated as an inter-packet interval.
// Longer gaps are pauses or separate bursts.
const maxInterval = 10 * time.Second

// Config controls bucketing.
type Config struct {
	Interval   time.Duration `mapstructure:"interval"`
	MaxBuckets int           `mapstructure:"max_buckets"` // interval is widened beyond this
}

// DefaultConfig returns the defaults.
func DefaultConfig() Config {
	return Config{
		Interval:   constants.DefaultBucketInterval,
		MaxBuckets: 100000,
	}
}

// ConfigFromViper reads qos.* keys over the defaults.
func ConfigFromViper() Config {
	cfg := DefaultConfig()
	if v := viper.GetDuration("qos.interval"); v > 0 {
		cfg.Interval = v
	}
	if v := viper.GetInt("qos.max_buckets"); v > 0 {
		cfg.MaxBuckets = v
	}
	return cfg
}

// Input holds the three packet subsets, each partitioned per flow with
// every flow sorted by timestamp.
type Input struct {
	QoS     [][]*packet.Record
	Latency [][]*packet.Record
	Jitter  [][]*packet.Record
}

// Empty reports whether no subset has packets.
func (in Input) Empty() bool {
	for _, set := range [][][]*packet.Record{in.QoS, in.Latency, in.Jitter} {
		for _, flow := range set {
			if len(flow) > 0 {
				return false
			}
		}
	}
	return true
}

// IntervalStats summarizes inter-packet intervals in milliseconds. All
// fields are zero when the bucket has fewer than two packets.
type IntervalStats struct {
	Min     float64 `json:"min_ms" yaml:"min_ms"`
	Avg     float64 `json:"avg_ms" yaml:"avg_ms"`
	Max     float64 `json:"max_ms" yaml:"max_ms"`
	P5      float64 `json:"p5_ms" yaml:"p5_ms"`
	P95     float64 `json:"p95_ms" yaml:"p95_ms"`
	Samples int     `json:"samples" yaml:"samples"`
}

// Bucket is one interval of the series.
//
// An inter-packet interval belongs to the bucket of its later packet, even
// when the earlier packet fell in a previous bucket. A bucket can therefore
// report gaps that mostly lie before its Start, and the first bucket of a
// flow only counts intervals between its own packets.
type Bucket struct {
	Start             time.Time     `json:"start" yaml:"start"`
	Latency           IntervalStats `json:"latency" yaml:"latency"`
	Jitter            IntervalStats `json:"jitter" yaml:"jitter"`
	JitterMs          float64       `json:"jitter_ms" yaml:"jitter_ms"`
	MOS               float64       `json:"mos" yaml:"mos"`
	QoSPackets        int           `json:"qos_packets" yaml:"qos_packets"`
	ActiveConnections int           `json:"active_connections" yaml:"active_connections"`
}

// Series is the bucketed result.
type Series struct {
	Start    time.Time     `json:"start" yaml:"start"`
	End      time.Time     `json:"end" yaml:"end"`
	Interval time.Duration `json:"interval" yaml:"interval"`
	Buckets  []Bucket      `json:"buckets" yaml:"buckets"`
}

// sample is one interval attributed to the bucket of its later packet.
type sample struct {
	bucket int
	ms     float64
}

type scratch struct {
	samples []sample
	values  []float64
}

var scratchPool = sync.Pool{
	New: func() any {
		return &scratch{
			samples: make([]sample, 0, 4096),
			values:  make([]float64, 0, 1024),
		}
	},
}

// maxPooledSamples keeps one huge capture from pinning its scratch forever.
const maxPooledSamples = 1 << 20

func getScratch() *scratch {
	s := scratchPool.Get().(*scratch)
	s.samples = s.samples[:0]
	s.values = s.values[:0]
	return s
}

func putScratch(s *scratch) {
	if cap(s.samples) > maxPooledSamples {
		return
	}
	scratchPool.Put(s)
}

// Generator produces QoS series. It is safe for concurrent use.
type Generator struct {
	cfg Config
	now func() time.Time
}

// NewGenerator creates a generator.
func NewGenerator(cfg Config) *Generator {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxBuckets <= 0 {
		cfg.MaxBuckets = def.MaxBuckets
	}
	if cfg.MaxBuckets < 2 {
		cfg.MaxBuckets = 2
	}
	return &Generator{cfg: cfg, now: time.Now}
}

// Interval returns the configured bucket width.
func (g *Generator) Interval() time.Duration {
	return g.cfg.Interval
}

// Generate builds the series. An empty input yields a single empty bucket
// at the current time. The only error is cancellation of ctx.
func (g *Generator) Generate(ctx context.Context, in Input) (Series, error) {
	if err := ctx.Err(); err != nil {
		return Series{}, err
	}
	interval := g.cfg.Interval
	if in.Empty() {
		now := g.now()
		return Series{
			Start:    now,
			End:      now,
			Interval: interval,
			Buckets:  []Bucket{{Start: now}},
		}, nil
	}

	in = Input{
		QoS:     ensureSorted(in.QoS),
		Latency: ensureSorted(in.Latency),
		Jitter:  ensureSorted(in.Jitter),
	}
	start, end := timeRange(in)

	span := end.Sub(start)
	n := int(span/interval) + 1
	if n > g.cfg.MaxBuckets {
		widened := time.Duration(math.Ceil(float64(span) / float64(g.cfg.MaxBuckets-1)))
		logger.Warn("QoS interval widened to bound bucket count",
			"interval", interval,
			"widened", widened,
			"span", span)
		interval = widened
		n = int(span/interval) + 1
	}

	buckets := make([]Bucket, n)
	for i := range buckets {
		buckets[i].Start = start.Add(time.Duration(i) * interval)
	}
	index := func(ts time.Time) int {
		i := int(ts.Sub(start) / interval)
		if i >= n {
			i = n - 1
		}
		return i
	}

	for _, flow := range in.QoS {
		for _, r := range flow {
			buckets[index(r.Timestamp)].QoSPackets++
		}
	}

	countActive(in, buckets, index)

	s := getScratch()
	defer putScratch(s)

	if err := g.fill(ctx, in.Latency, buckets, index, s, func(b *Bucket, st IntervalStats, _ float64) {
		b.Latency = st
	}); err != nil {
		return Series{}, err
	}
	if err := g.fill(ctx, in.Jitter, buckets, index, s, func(b *Bucket, st IntervalStats, mad float64) {
		b.Jitter = st
		b.JitterMs = mad
		if st.Samples > 0 {
			b.MOS = calculateMOS(0, mad)
		}
	}); err != nil {
		return Series{}, err
	}

	return Series{
		Start:    start,
		End:      end,
		Interval: interval,
		Buckets:  buckets,
	}, nil
}

// fill computes interval statistics of one subset for every bucket.
func (g *Generator) fill(ctx context.Context, flows [][]*packet.Record, buckets []Bucket, index func(time.Time) int,
	s *scratch, set func(*Bucket, IntervalStats, float64)) error {

	packets := make([]int, len(buckets))
	s.samples = s.samples[:0]
	for _, flow := range flows {
		for i, r := range flow {
			b := index(r.Timestamp)
			packets[b]++
			if i == 0 {
				continue
			}
			d := r.Timestamp.Sub(flow[i-1].Timestamp)
			if d <= 0 || d >= maxInterval {
				continue
			}
			s.samples = append(s.samples, sample{bucket: b, ms: float64(d) / float64(time.Millisecond)})
		}
	}
	sort.Slice(s.samples, func(i, j int) bool { return s.samples[i].bucket < s.samples[j].bucket })

	for lo := 0; lo < len(s.samples); {
		if err := ctx.Err(); err != nil {
			return err
		}
		b := s.samples[lo].bucket
		hi := lo
		s.values = s.values[:0]
		for hi < len(s.samples) && s.samples[hi].bucket == b {
			s.values = append(s.values, s.samples[hi].ms)
			hi++
		}
		lo = hi

		if packets[b] < 2 {
			continue
		}
		st, mad := summarize(s.values)
		set(&buckets[b], st, mad)
	}
	return nil
}

// summarize sorts values in place and returns their statistics and mean
// absolute deviation.
func summarize(values []float64) (IntervalStats, float64) {
	if len(values) == 0 {
		return IntervalStats{}, 0
	}
	sort.Float64s(values)
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var dev float64
	for _, v := range values {
		dev += math.Abs(v - mean)
	}
	return IntervalStats{
		Min:     values[0],
		Avg:     mean,
		Max:     values[len(values)-1],
		P5:      percentile(values, 5),
		P95:     percentile(values, 95),
		Samples: len(values),
	}, dev / float64(len(values))
}

// percentile returns the p-th percentile of sorted values by linear
// interpolation between the closest ranks.
func percentile(sorted []float64, p float64) float64 {
	switch len(sorted) {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo < 0 {
		lo = 0
	}
	if hi >= len(sorted) {
		hi = len(sorted) - 1
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

// countActive sets the distinct conversations per bucket among latency and
// jitter packets.
func countActive(in Input, buckets []Bucket, index func(time.Time) int) {
	type seenKey struct {
		bucket int
		flow   packet.FlowKey
	}
	seen := make(map[seenKey]struct{})
	for _, set := range [][][]*packet.Record{in.Latency, in.Jitter} {
		for _, flow := range set {
			last := -1
			var lastKey packet.FlowKey
			for _, r := range flow {
				b := index(r.Timestamp)
				k := r.Flow()
				if b == last && k == lastKey {
					continue
				}
				last, lastKey = b, k
				sk := seenKey{bucket: b, flow: k}
				if _, ok := seen[sk]; ok {
					continue
				}
				seen[sk] = struct{}{}
				buckets[b].ActiveConnections++
			}
		}
	}
}

func timeRange(in Input) (start, end time.Time) {
	for _, set := range [][][]*packet.Record{in.QoS, in.Latency, in.Jitter} {
		for _, flow := range set {
			if len(flow) == 0 {
				continue
			}
			first, last := flow[0].Timestamp, flow[len(flow)-1].Timestamp
			if start.IsZero() || first.Before(start) {
				start = first
			}
			if end.IsZero() || last.After(end) {
				end = last
			}
		}
	}
	return start, end
}

// ensureSorted returns flows with every flow in timestamp order. Unsorted
// flows are copied before sorting; the caller's slices are not modified.
func ensureSorted(flows [][]*packet.Record) [][]*packet.Record {
	var out [][]*packet.Record
	for i, flow := range flows {
		sorted := sort.SliceIsSorted(flow, func(a, b int) bool {
			return flow[a].Timestamp.Before(flow[b].Timestamp)
		})
		if sorted {
			continue
		}
		if out == nil {
			out = make([][]*packet.Record, len(flows))
			copy(out, flows)
		}
		c := make([]*packet.Record, len(flow))
		copy(c, flow)
		sort.SliceStable(c, func(a, b int) bool { return c[a].Timestamp.Before(c[b].Timestamp) })
		out[i] = c
		logger.Debug("Re-sorted unordered QoS flow", "flow", i, "packets", len(flow))
	}
	if out == nil {
		return flows
	}
	return out
}

// calculateMOS estimates a Mean Opinion Score from packet loss (percent)
// and jitter (ms) with a simplified ITU-T G.107 E-model.
func calculateMOS(packetLoss, jitter float64) float64 {
	packetLoss = min(max(0, packetLoss), 100)
	jitter = max(0, jitter)

	var delayImpairment float64
	if jitter > 150 {
		delayImpairment = (jitter - 150) / 10.0
	} else {
		delayImpairment = jitter / 40.0
	}
	r := min(max(0, 93.2-delayImpairment-packetLoss*2.5), 100)

	mos := 1 + 0.035*r + 0.000007*r*(r-60)*(100-r)
	return math.Round(min(max(mos, 1), 5)*100) / 100
}

// String renders a one-line summary of the series.
func (s Series) String() string {
	return fmt.Sprintf("%d buckets of %s from %s", len(s.Buckets), s.Interval, s.Start.Format(time.RFC3339))
}
