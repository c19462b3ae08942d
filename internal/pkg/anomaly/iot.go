package anomaly

import (
	"context"
	"fmt"
	"time"

	"github.com/endorses/wirecat/internal/pkg/packet"
)

// iotProtocol describes an unauthenticated or unencrypted device protocol.
type iotProtocol struct {
	segment  string // protocol stack segment
	display  string
	severity Severity
}

// Control protocols rate higher than telemetry ones.
var iotProtocols = []iotProtocol{
	{segment: "mbtcp", display: "Modbus/TCP", severity: SeverityHigh},
	{segment: "modbus", display: "Modbus", severity: SeverityHigh},
	{segment: "dnp3", display: "DNP3", severity: SeverityHigh},
	{segment: "s7comm", display: "S7comm", severity: SeverityHigh},
	{segment: "bacnet", display: "BACnet", severity: SeverityHigh},
	{segment: "enip", display: "EtherNet/IP", severity: SeverityHigh},
	{segment: "telnet", display: "Telnet", severity: SeverityHigh},
	{segment: "mqtt", display: "MQTT", severity: SeverityMedium},
	{segment: "coap", display: "CoAP", severity: SeverityMedium},
	{segment: "upnp", display: "UPnP", severity: SeverityLow},
}

// IoTProtocolDetector reports conversations using device protocols that
// run without TLS.
type IoTProtocolDetector struct{}

// NewIoTProtocolDetector creates the IoT protocol detector.
func NewIoTProtocolDetector() *IoTProtocolDetector {
	return &IoTProtocolDetector{}
}

func (d *IoTProtocolDetector) Name() string {
	return "iot_protocol"
}

func (d *IoTProtocolDetector) Category() Category {
	return CategoryIoT
}

func matchIoT(r *packet.Record) (iotProtocol, bool) {
	if r.HasProtocol("tls") || r.HasProtocol("dtls") {
		return iotProtocol{}, false
	}
	for _, p := range iotProtocols {
		if r.HasProtocol(p.segment) {
			return p, true
		}
	}
	return iotProtocol{}, false
}

func (d *IoTProtocolDetector) Detect(ctx context.Context, packets []*packet.Record) ([]Record, error) {
	type key struct {
		protocol string
		flow     packet.FlowKey
	}
	type state struct {
		proto   iotProtocol
		first   time.Time
		src     string
		dst     string
		port    uint16
		packets int
	}
	states := make(map[key]*state)
	var order []key

	for i, r := range packets {
		if err := checkContext(ctx, i); err != nil {
			return nil, err
		}
		p, ok := matchIoT(r)
		if !ok {
			continue
		}
		k := key{protocol: p.segment, flow: r.Flow()}
		st := states[k]
		if st == nil {
			st = &state{proto: p, first: r.Timestamp, src: r.SrcIP, dst: r.DstIP, port: r.DstPort}
			states[k] = st
			order = append(order, k)
		}
		st.packets++
	}

	var out []Record
	for _, k := range order {
		st := states[k]
		rec := newRecord(d, TypeIoTProtocol, st.proto.severity, st.first, st.src, st.dst,
			fmt.Sprintf("unencrypted %s between %s and %s", st.proto.display, st.src, st.dst))
		rec.Evidence["protocol"] = st.proto.display
		rec.Evidence["packets"] = st.packets
		if st.port != 0 {
			rec.Evidence["port"] = st.port
		}
		out = append(out, rec)
	}
	return out, nil
}
