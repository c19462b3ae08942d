package qos

import (
	"sort"

	"github.com/endorses/wirecat/internal/pkg/packet"
)

// PartitionFlows groups records that keep returns true by conversation,
// in order of first appearance, with each group sorted by timestamp.
// A nil keep selects every record.
func PartitionFlows(records []*packet.Record, keep func(*packet.Record) bool) [][]*packet.Record {
	index := make(map[packet.FlowKey]int)
	var flows [][]*packet.Record
	for _, r := range records {
		if keep != nil && !keep(r) {
			continue
		}
		k := r.Flow()
		i, ok := index[k]
		if !ok {
			i = len(flows)
			index[k] = i
			flows = append(flows, nil)
		}
		flows[i] = append(flows[i], r)
	}
	for _, f := range flows {
		sort.SliceStable(f, func(a, b int) bool { return f[a].Timestamp.Before(f[b].Timestamp) })
	}
	return flows
}

// IsVoIP selects packets carrying signalling or media.
func IsVoIP(r *packet.Record) bool {
	return r.HasProtocol("rtp") || r.HasProtocol("rtcp") || r.HasProtocol("sip") || r.HasProtocol("sdp")
}

// IsLatencySample selects packets whose spacing measures delivery latency.
func IsLatencySample(r *packet.Record) bool {
	return r.HasProtocol("rtp") || r.HasProtocol("sip")
}

// IsJitterSample selects media packets.
func IsJitterSample(r *packet.Record) bool {
	return r.HasProtocol("rtp")
}

// InputFromRecords derives the three subsets from a capture.
func InputFromRecords(records []*packet.Record) Input {
	return Input{
		QoS:     PartitionFlows(records, IsVoIP),
		Latency: PartitionFlows(records, IsLatencySample),
		Jitter:  PartitionFlows(records, IsJitterSample),
	}
}
