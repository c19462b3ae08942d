// Package packet defines the typed packet record produced from one line of
// dissector output, the analysis field layout, and the line parser.
package packet

import (
	"strings"
	"time"
)

// Transport is the transport-level protocol of a record.
type Transport uint8

const (
	TransportUnknown Transport = iota
	TransportTCP
	TransportUDP
	TransportICMP
	TransportARP
)

func (t Transport) String() string {
	switch t {
	case TransportTCP:
		return "TCP"
	case TransportUDP:
		return "UDP"
	case TransportICMP:
		return "ICMP"
	case TransportARP:
		return "ARP"
	default:
		return "Unknown"
	}
}

// HasPorts reports whether records of this transport carry port numbers.
func (t Transport) HasPorts() bool {
	return t == TransportTCP || t == TransportUDP
}

// TCPInfo holds the TCP header fields. It is nil on non-TCP records.
type TCPInfo struct {
	Flags  uint16
	Seq    uint32
	Ack    uint32
	Window uint32
}

// TCP flag bits as reported in tcp.flags.
const (
	FlagFIN uint16 = 1 << iota
	FlagSYN
	FlagRST
	FlagPSH
	FlagACK
	FlagURG
	FlagECE
	FlagCWR
)

// Has reports whether all bits in mask are set.
func (t *TCPInfo) Has(mask uint16) bool {
	return t != nil && t.Flags&mask == mask
}

// Cleartext carries the credential-bearing fields of the layout. All values
// are raw dissector output; they are masked before leaving the cleartext
// analyzers.
type Cleartext struct {
	HTTPAuthorization string
	HTTPAuthBasic     string
	HTTPMethod        string
	HTTPHost          string
	HTTPURI           string
	HTTPCookie        string
	FTPCommand        string
	FTPArg            string
	POPCommand        string
	POPParameter      string
	IMAPRequest       string
	SMTPCommand       string
	SMTPParameter     string
	LDAPSimple        string
	LDAPName          string
	MySQLUser         string
	PgSQLPassword     string
	TelnetData        string
	SIPAuthorization  string
	DNSQueryName      string
}

// Fingerprint carries host fingerprinting fields.
type Fingerprint struct {
	TTL              uint8
	HopLimit         uint8
	MSS              uint16
	WindowScale      int8 // -1 when absent
	WindowSize       uint32
	TLSHandshakeType string
	TLSVersion       string
	TLSCipherSuite   string
	TLSExtensions    string
	TLSGroups        string
	TLSPointFormats  string
	TLSALPN          string
	TLSRecordVersion string
	DHCPHostname     string
	DHCPVendorClass  string
	DHCPRequestList  string
	SSHProtocol      string
	HTTPUserAgent    string
}

// Record is one dissected frame. It is created once by the parser and must
// be treated as immutable afterwards: every consumer reads the same value
// concurrently.
type Record struct {
	FrameNumber uint64
	Timestamp   time.Time
	Length      uint32

	SrcIP   string
	DstIP   string
	IPv6    bool
	SrcPort uint16
	DstPort uint16

	Transport   Transport
	Protocols   string // colon-delimited protocol stack, e.g. "eth:ethertype:ip:udp:sip"
	AppProtocol string // display protocol unless it is just the transport name
	Info        string

	TCP         *TCPInfo
	Cleartext   *Cleartext   // nil when every credential field is empty
	Fingerprint *Fingerprint // nil when every fingerprint field is empty

	JA3        string
	ServerName string
}

// Flow returns the order-independent conversation key of the record.
func (r *Record) Flow() FlowKey {
	return NewFlowKey(r.SrcIP, r.SrcPort, r.DstIP, r.DstPort)
}

// HasProtocol reports whether the protocol stack contains name as a whole segment.
func (r *Record) HasProtocol(name string) bool {
	return StackContains(r.Protocols, name)
}

// Label is the most specific protocol name of the record.
func (r *Record) Label() string {
	if r.AppProtocol != "" {
		return r.AppProtocol
	}
	return r.Transport.String()
}

// StackContains reports whether a colon-delimited protocol stack contains
// name as one of its segments. Comparison is case-insensitive.
func StackContains(stack, name string) bool {
	for stack != "" {
		seg := stack
		if i := strings.IndexByte(stack, ':'); i >= 0 {
			seg, stack = stack[:i], stack[i+1:]
		} else {
			stack = ""
		}
		if strings.EqualFold(seg, name) {
			return true
		}
	}
	return false
}
