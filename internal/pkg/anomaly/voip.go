package anomaly

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/endorses/wirecat/internal/pkg/ahocorasick"
	"github.com/endorses/wirecat/internal/pkg/packet"
)

// maxInterarrival drops gaps that are pauses rather than jitter.
const maxInterarrival = 10 * time.Second

// sipMethod returns the request method of a SIP summary line such as
// "Request: INVITE sip:bob@example.com", or "" for responses.
func sipMethod(r *packet.Record) (method, uri string) {
	if !r.HasProtocol("sip") {
		return "", ""
	}
	rest, ok := strings.CutPrefix(r.Info, "Request: ")
	if !ok {
		return "", ""
	}
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", ""
	}
	method = strings.ToUpper(fields[0])
	if len(fields) > 1 {
		uri = fields[1]
	}
	return method, uri
}

// SIPFloodDetector flags sources sending more INVITE or REGISTER requests
// per window than the threshold.
type SIPFloodDetector struct {
	cfg SIPFloodConfig
}

// NewSIPFloodDetector creates the SIP flood detector.
func NewSIPFloodDetector(cfg SIPFloodConfig) *SIPFloodDetector {
	def := DefaultConfig().SIPFlood
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	return &SIPFloodDetector{cfg: cfg}
}

func (d *SIPFloodDetector) Name() string {
	return "sip_flood"
}

func (d *SIPFloodDetector) Category() Category {
	return CategoryVoIP
}

func (d *SIPFloodDetector) Detect(ctx context.Context, packets []*packet.Record) ([]Record, error) {
	type state struct {
		first   time.Time
		invites int
		regs    int
		targets map[string]struct{}
	}
	states := make(map[floodKey]*state)
	var order []floodKey

	for i, r := range packets {
		if err := checkContext(ctx, i); err != nil {
			return nil, err
		}
		method, _ := sipMethod(r)
		if method != "INVITE" && method != "REGISTER" {
			continue
		}
		k := floodKey{addr: r.SrcIP, window: windowIndex(r.Timestamp, d.cfg.Window)}
		st := states[k]
		if st == nil {
			st = &state{first: r.Timestamp, targets: make(map[string]struct{})}
			states[k] = st
			order = append(order, k)
		}
		if method == "INVITE" {
			st.invites++
		} else {
			st.regs++
		}
		st.targets[r.DstIP] = struct{}{}
	}

	var out []Record
	for _, k := range order {
		st := states[k]
		total := st.invites + st.regs
		if total < d.cfg.Threshold {
			continue
		}
		sev := SeverityHigh
		if total >= d.cfg.Threshold*10 {
			sev = SeverityCritical
		}
		dst := ""
		if len(st.targets) == 1 {
			for t := range st.targets {
				dst = t
			}
		}
		rec := newRecord(d, TypeSIPFlood, sev, st.first, k.addr, dst,
			fmt.Sprintf("%s sent %d SIP requests within %s", k.addr, total, d.cfg.Window))
		rec.Evidence["invites"] = st.invites
		rec.Evidence["registers"] = st.regs
		rec.Evidence["window"] = d.cfg.Window.String()
		out = append(out, rec)
	}
	return out, nil
}

// RTPJitterDetector flags RTP streams whose packet interarrival deviates
// from its mean by more than the threshold on average.
type RTPJitterDetector struct {
	cfg RTPJitterConfig
}

// NewRTPJitterDetector creates the RTP jitter detector.
func NewRTPJitterDetector(cfg RTPJitterConfig) *RTPJitterDetector {
	def := DefaultConfig().RTPJitter
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.MinPackets < 3 {
		cfg.MinPackets = def.MinPackets
	}
	return &RTPJitterDetector{cfg: cfg}
}

func (d *RTPJitterDetector) Name() string {
	return "rtp_jitter"
}

func (d *RTPJitterDetector) Category() Category {
	return CategoryVoIP
}

// stream is one direction of an RTP flow.
type stream struct {
	src, dst packet.Endpoint
}

// meanAbsDeviation returns the mean of intervals and their mean absolute
// deviation from it.
func meanAbsDeviation(intervals []float64) (mean, dev float64) {
	if len(intervals) == 0 {
		return 0, 0
	}
	for _, v := range intervals {
		mean += v
	}
	mean /= float64(len(intervals))
	for _, v := range intervals {
		if v > mean {
			dev += v - mean
		} else {
			dev += mean - v
		}
	}
	return mean, dev / float64(len(intervals))
}

func (d *RTPJitterDetector) Detect(ctx context.Context, packets []*packet.Record) ([]Record, error) {
	type state struct {
		first     time.Time
		last      time.Time
		packets   int
		intervals []float64
	}
	states := make(map[stream]*state)
	var order []stream

	for i, r := range packets {
		if err := checkContext(ctx, i); err != nil {
			return nil, err
		}
		if !r.HasProtocol("rtp") {
			continue
		}
		k := stream{
			src: packet.Endpoint{Addr: r.SrcIP, Port: r.SrcPort},
			dst: packet.Endpoint{Addr: r.DstIP, Port: r.DstPort},
		}
		st := states[k]
		if st == nil {
			st = &state{first: r.Timestamp}
			states[k] = st
			order = append(order, k)
		} else if gap := r.Timestamp.Sub(st.last); gap > 0 && gap < maxInterarrival {
			st.intervals = append(st.intervals, gap.Seconds())
		}
		st.last = r.Timestamp
		st.packets++
	}

	threshold := d.cfg.Threshold.Seconds()
	var out []Record
	for _, k := range order {
		st := states[k]
		if st.packets < d.cfg.MinPackets || len(st.intervals) < 2 {
			continue
		}
		mean, dev := meanAbsDeviation(st.intervals)
		if dev < threshold {
			continue
		}
		sev := SeverityMedium
		if dev >= threshold*3 {
			sev = SeverityHigh
		}
		rec := newRecord(d, TypeRTPJitter, sev, st.first, k.src.Addr, k.dst.Addr,
			fmt.Sprintf("RTP stream %s -> %s jitter %.1f ms", k.src, k.dst, dev*1000))
		rec.Evidence["jitter_ms"] = dev * 1000
		rec.Evidence["mean_interval_ms"] = mean * 1000
		rec.Evidence["packets"] = st.packets
		out = append(out, rec)
	}
	return out, nil
}

// sipScannerTokens appear in requests sent by well-known SIP scanning tools.
var sipScannerTokens = []string{
	"friendly-scanner",
	"sipvicious",
	"sipcli",
	"sip-scan",
	"sundayddr",
	"iwar",
	"sipsak",
}

var sipScannerMatcher = ahocorasick.New(sipScannerTokens)

// SIPScannerDetector flags sources that enumerate SIP endpoints with
// OPTIONS requests or identify as a known scanning tool.
type SIPScannerDetector struct {
	cfg SIPScannerConfig
}

// NewSIPScannerDetector creates the SIP scanner detector.
func NewSIPScannerDetector(cfg SIPScannerConfig) *SIPScannerDetector {
	if cfg.OptionsTargets <= 0 {
		cfg.OptionsTargets = DefaultConfig().SIPScanner.OptionsTargets
	}
	return &SIPScannerDetector{cfg: cfg}
}

func (d *SIPScannerDetector) Name() string {
	return "sip_scanner"
}

func (d *SIPScannerDetector) Category() Category {
	return CategoryVoIP
}

// scannerToken returns the scanning tool named in the request line or the
// user agent, or "".
func scannerToken(r *packet.Record) string {
	if i, ok := sipScannerMatcher.First(r.Info); ok {
		return sipScannerMatcher.Pattern(i)
	}
	if r.Fingerprint != nil {
		if i, ok := sipScannerMatcher.First(r.Fingerprint.HTTPUserAgent); ok {
			return sipScannerMatcher.Pattern(i)
		}
	}
	return ""
}

func (d *SIPScannerDetector) Detect(ctx context.Context, packets []*packet.Record) ([]Record, error) {
	type state struct {
		first   time.Time
		targets map[string]struct{}
		tool    string
		toolAt  time.Time
	}
	states := make(map[string]*state)
	var order []string

	for i, r := range packets {
		if err := checkContext(ctx, i); err != nil {
			return nil, err
		}
		method, uri := sipMethod(r)
		if method == "" {
			continue
		}
		st := states[r.SrcIP]
		if st == nil {
			st = &state{first: r.Timestamp, targets: make(map[string]struct{})}
			states[r.SrcIP] = st
			order = append(order, r.SrcIP)
		}
		if st.tool == "" {
			if tok := scannerToken(r); tok != "" {
				st.tool = tok
				st.toolAt = r.Timestamp
			}
		}
		if method == "OPTIONS" {
			st.targets[r.DstIP+" "+uri] = struct{}{}
		}
	}

	var out []Record
	for _, src := range order {
		st := states[src]
		switch {
		case st.tool != "":
			rec := newRecord(d, TypeSIPScanner, SeverityHigh, st.toolAt, src, "",
				fmt.Sprintf("SIP scanning tool %q from %s", st.tool, src))
			rec.Evidence["tool"] = st.tool
			rec.Evidence["options_targets"] = len(st.targets)
			out = append(out, rec)
		case len(st.targets) >= d.cfg.OptionsTargets:
			rec := newRecord(d, TypeSIPScanner, SeverityMedium, st.first, src, "",
				fmt.Sprintf("%s sent OPTIONS to %d SIP targets", src, len(st.targets)))
			rec.Evidence["options_targets"] = len(st.targets)
			out = append(out, rec)
		}
	}
	return out, nil
}
