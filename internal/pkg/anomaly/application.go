package anomaly

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/endorses/wirecat/internal/pkg/packet"
)

// TLS protocol version numbers.
const (
	versionSSL2  = 0x0002
	versionSSL3  = 0x0300
	versionTLS10 = 0x0301
	versionTLS11 = 0x0302
)

func tlsVersionName(v uint16) string {
	switch v {
	case versionSSL2:
		return "SSLv2"
	case versionSSL3:
		return "SSLv3"
	case versionTLS10:
		return "TLSv1.0"
	case versionTLS11:
		return "TLSv1.1"
	case 0x0303:
		return "TLSv1.2"
	case 0x0304:
		return "TLSv1.3"
	}
	return fmt.Sprintf("0x%04x", v)
}

// parseTLSVersion reads the first value of a version field such as
// "0x0301" or "0x0303,0x0303".
func parseTLSVersion(s string) (uint16, bool) {
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, false
	}
	return uint16(v), true
}

// negotiatedVersion returns the deprecated protocol version of r, if any.
// The handshake version wins over the record layer version, which clients
// often set to TLS 1.0 for compatibility. Without either field the protocol
// column is used.
func negotiatedVersion(r *packet.Record) (uint16, bool) {
	if fp := r.Fingerprint; fp != nil {
		if v, ok := parseTLSVersion(fp.TLSVersion); ok {
			return v, v <= versionTLS11
		}
		if v, ok := parseTLSVersion(fp.TLSRecordVersion); ok && v < versionTLS10 {
			return v, true
		}
	}
	switch strings.ToUpper(r.AppProtocol) {
	case "SSLV2":
		return versionSSL2, true
	case "SSLV3", "SSL":
		return versionSSL3, true
	case "TLSV1":
		return versionTLS10, true
	case "TLSV1.1":
		return versionTLS11, true
	}
	return 0, false
}

// DeprecatedTLSDetector reports conversations negotiating SSL or TLS
// versions older than 1.2.
type DeprecatedTLSDetector struct{}

// NewDeprecatedTLSDetector creates the deprecated TLS detector.
func NewDeprecatedTLSDetector() *DeprecatedTLSDetector {
	return &DeprecatedTLSDetector{}
}

func (d *DeprecatedTLSDetector) Name() string {
	return "deprecated_tls"
}

func (d *DeprecatedTLSDetector) Category() Category {
	return CategoryApplication
}

func (d *DeprecatedTLSDetector) Detect(ctx context.Context, packets []*packet.Record) ([]Record, error) {
	type state struct {
		version uint16
		first   time.Time
		src     string
		dst     string
		server  string
	}
	states := make(map[packet.FlowKey]*state)
	var order []packet.FlowKey

	for i, r := range packets {
		if err := checkContext(ctx, i); err != nil {
			return nil, err
		}
		if !r.HasProtocol("tls") && !r.HasProtocol("ssl") {
			continue
		}
		v, ok := negotiatedVersion(r)
		if !ok {
			continue
		}
		k := r.Flow()
		st := states[k]
		if st == nil {
			st = &state{version: v, first: r.Timestamp, src: r.SrcIP, dst: r.DstIP}
			states[k] = st
			order = append(order, k)
		} else if v < st.version {
			st.version = v
		}
		if st.server == "" && r.ServerName != "" {
			st.server = r.ServerName
		}
	}

	var out []Record
	for _, k := range order {
		st := states[k]
		sev := SeverityMedium
		if st.version < versionTLS10 {
			sev = SeverityHigh
		}
		name := tlsVersionName(st.version)
		desc := fmt.Sprintf("%s used between %s and %s", name, st.src, st.dst)
		if st.server != "" {
			desc += " (" + st.server + ")"
		}
		rec := newRecord(d, TypeDeprecatedTLS, sev, st.first, st.src, st.dst, desc)
		rec.Evidence["version"] = name
		if st.server != "" {
			rec.Evidence["server_name"] = st.server
		}
		out = append(out, rec)
	}
	return out, nil
}
