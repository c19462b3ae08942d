package packet

import (
	"bytes"
	"math"
	"strconv"
	"sync/atomic"
	"time"
	"unsafe"
)

// Parser converts dissector lines into records. It is safe for concurrent
// use; the interner is the only shared state.
type Parser struct {
	interner *Interner
	parsed   atomic.Uint64
	rejected atomic.Uint64
}

// NewParser creates a parser. A nil interner disables string sharing.
func NewParser(interner *Interner) *Parser {
	return &Parser{interner: interner}
}

// Parsed returns the number of accepted lines.
func (p *Parser) Parsed() uint64 {
	return p.parsed.Load()
}

// Rejected returns the number of rejected lines.
func (p *Parser) Rejected() uint64 {
	return p.rejected.Load()
}

// ParseLine parses one line without string interning.
func ParseLine(line []byte) (*Record, bool) {
	var p Parser
	return p.Parse(line)
}

// fields is the tab index table of one line. end[i] is the offset of the tab
// terminating field i; fields past n are absent and read as empty.
type fields struct {
	line []byte
	end  [FieldCount]int
	n    int // number of fields present
}

func (f *fields) index(line []byte) {
	f.line = line
	f.n = 0
	for i := 0; i < len(line); i++ {
		if line[i] != '\t' {
			continue
		}
		f.end[f.n] = i
		f.n++
		if f.n == FieldCount {
			return
		}
	}
	if f.n < FieldCount {
		f.end[f.n] = len(line)
		f.n++
	}
}

func (f *fields) get(i int) []byte {
	if i >= f.n {
		return nil
	}
	start := 0
	if i > 0 {
		start = f.end[i-1] + 1
	}
	return f.line[start:f.end[i]]
}

// Parse converts one tab-separated line into a Record. It returns false for
// any malformed line and never panics.
func (p *Parser) Parse(line []byte) (*Record, bool) {
	rec, ok := p.parse(line)
	if ok {
		p.parsed.Add(1)
	} else {
		p.rejected.Add(1)
	}
	return rec, ok
}

func (p *Parser) parse(line []byte) (*Record, bool) {
	line = trimEOL(line)
	if len(line) == 0 {
		return nil, false
	}

	var f fields
	f.index(line)
	if f.n < MinFields {
		return nil, false
	}

	frame, ok := parseUint(f.get(FieldFrameNumber), 64)
	if !ok || frame == 0 {
		return nil, false
	}
	ts, ok := parseEpoch(f.get(FieldTimeEpoch))
	if !ok {
		return nil, false
	}
	length, ok := parseUint(f.get(FieldFrameLen), 32)
	if !ok {
		return nil, false
	}

	in := p.interner
	rec := &Record{
		FrameNumber: frame,
		Timestamp:   ts,
		Length:      uint32(length),
	}

	if src, dst := f.get(FieldIPSrc), f.get(FieldIPDst); len(src) > 0 || len(dst) > 0 {
		rec.SrcIP = in.Intern(src)
		rec.DstIP = in.Intern(dst)
	} else {
		rec.SrcIP = in.Intern(f.get(FieldIPv6Src))
		rec.DstIP = in.Intern(f.get(FieldIPv6Dst))
		rec.IPv6 = rec.SrcIP != "" || rec.DstIP != ""
	}

	rec.SrcPort = parsePort(f.get(FieldTCPSrcPort), f.get(FieldUDPSrcPort))
	rec.DstPort = parsePort(f.get(FieldTCPDstPort), f.get(FieldUDPDstPort))

	stack := f.get(FieldProtocols)
	rec.Protocols = in.Intern(stack)
	rec.Transport = transportOf(stack)

	display := f.get(FieldColProtocol)
	if len(display) > 0 && !equalFoldASCII(display, rec.Transport.String()) {
		rec.AppProtocol = in.Intern(display)
	}
	if info := f.get(FieldColInfo); len(info) > 0 {
		rec.Info = string(info)
	}

	rec.TCP = parseTCP(&f)
	rec.Cleartext = parseCleartext(&f)
	rec.Fingerprint = parseFingerprint(&f, in)
	rec.JA3 = in.Intern(f.get(FieldJA3))
	rec.ServerName = in.Intern(f.get(FieldTLSServerName))

	return rec, true
}

func trimEOL(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

// parseUint parses an unsigned decimal integer that fits in bits.
func parseUint(b []byte, bits int) (uint64, bool) {
	if len(b) == 0 || len(b) > 20 {
		return 0, false
	}
	limit := uint64(math.MaxUint64)
	if bits < 64 {
		limit = 1<<uint(bits) - 1
	}
	var n uint64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, false
		}
		d := uint64(c - '0')
		if n > (limit-d)/10 {
			return 0, false
		}
		n = n*10 + d
	}
	return n, true
}

// parseHex parses a hexadecimal value with or without a 0x prefix.
func parseHex(b []byte, bits int) (uint64, bool) {
	if len(b) >= 2 && b[0] == '0' && (b[1] == 'x' || b[1] == 'X') {
		b = b[2:]
	}
	if len(b) == 0 {
		return 0, false
	}
	for len(b) > 1 && b[0] == '0' {
		b = b[1:]
	}
	if len(b) > bits/4 {
		return 0, false
	}
	var n uint64
	for _, c := range b {
		var d byte
		switch {
		case c >= '0' && c <= '9':
			d = c - '0'
		case c >= 'a' && c <= 'f':
			d = c - 'a' + 10
		case c >= 'A' && c <= 'F':
			d = c - 'A' + 10
		default:
			return 0, false
		}
		n = n<<4 | uint64(d)
	}
	return n, true
}

// parseEpoch parses seconds since the epoch with an optional fraction.
// Up to nine fractional digits are kept exactly; further digits are
// truncated. Exponent notation falls back to strconv.ParseFloat.
func parseEpoch(b []byte) (time.Time, bool) {
	if len(b) == 0 {
		return time.Time{}, false
	}
	neg := false
	s := b
	if s[0] == '-' || s[0] == '+' {
		neg = s[0] == '-'
		s = s[1:]
	}

	var sec, nsec int64
	digits, fracDigits := 0, 0
	inFrac := false
	for _, c := range s {
		switch {
		case c == '.' && !inFrac:
			inFrac = true
		case c >= '0' && c <= '9':
			if inFrac {
				if fracDigits < 9 {
					nsec = nsec*10 + int64(c-'0')
				}
				fracDigits++
			} else {
				if sec > (math.MaxInt64-9)/10 {
					return time.Time{}, false
				}
				sec = sec*10 + int64(c-'0')
				digits++
			}
		default:
			return parseEpochFloat(b)
		}
	}
	if digits == 0 && fracDigits == 0 {
		return time.Time{}, false
	}
	for i := fracDigits; i < 9; i++ {
		nsec *= 10
	}
	if neg {
		sec, nsec = -sec, -nsec
	}
	return time.Unix(sec, nsec).UTC(), true
}

func parseEpochFloat(b []byte) (time.Time, bool) {
	// The string does not outlive the call.
	v, err := strconv.ParseFloat(unsafe.String(unsafe.SliceData(b), len(b)), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > 1e11 {
		return time.Time{}, false
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}

// parsePort prefers the TCP value and falls back to UDP; absent or
// malformed values read as 0.
func parsePort(tcp, udp []byte) uint16 {
	b := tcp
	if len(b) == 0 {
		b = udp
	}
	n, ok := parseUint(b, 16)
	if !ok {
		return 0
	}
	return uint16(n)
}

// transportOf walks the protocol stack in order; the first known transport
// segment wins.
func transportOf(stack []byte) Transport {
	for len(stack) > 0 {
		seg := stack
		if i := bytes.IndexByte(stack, ':'); i >= 0 {
			seg, stack = stack[:i], stack[i+1:]
		} else {
			stack = nil
		}
		switch {
		case equalFoldASCII(seg, "tcp"):
			return TransportTCP
		case equalFoldASCII(seg, "udp"):
			return TransportUDP
		case equalFoldASCII(seg, "icmp"), equalFoldASCII(seg, "icmpv6"):
			return TransportICMP
		case equalFoldASCII(seg, "arp"):
			return TransportARP
		}
	}
	return TransportUnknown
}

func equalFoldASCII(b []byte, s string) bool {
	if len(b) != len(s) {
		return false
	}
	for i := 0; i < len(b); i++ {
		c, d := b[i], s[i]
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		if 'A' <= d && d <= 'Z' {
			d += 'a' - 'A'
		}
		if c != d {
			return false
		}
	}
	return true
}

func parseTCP(f *fields) *TCPInfo {
	flags, seq, ack, win := f.get(FieldTCPFlags), f.get(FieldTCPSeq), f.get(FieldTCPAck), f.get(FieldTCPWindow)
	if len(flags) == 0 && len(seq) == 0 && len(ack) == 0 && len(win) == 0 {
		return nil
	}
	t := &TCPInfo{}
	if v, ok := parseHex(flags, 16); ok {
		t.Flags = uint16(v)
	}
	if v, ok := parseUint(seq, 32); ok {
		t.Seq = uint32(v)
	}
	if v, ok := parseUint(ack, 32); ok {
		t.Ack = uint32(v)
	}
	if v, ok := parseUint(win, 32); ok {
		t.Window = uint32(v)
	}
	return t
}

func parseCleartext(f *fields) *Cleartext {
	empty := true
	for i := FieldHTTPAuthorization; i < FieldIPTTL; i++ {
		if len(f.get(i)) > 0 {
			empty = false
			break
		}
	}
	if empty {
		return nil
	}
	str := func(i int) string {
		if b := f.get(i); len(b) > 0 {
			return string(b)
		}
		return ""
	}
	return &Cleartext{
		HTTPAuthorization: str(FieldHTTPAuthorization),
		HTTPAuthBasic:     str(FieldHTTPAuthBasic),
		HTTPMethod:        str(FieldHTTPMethod),
		HTTPHost:          str(FieldHTTPHost),
		HTTPURI:           str(FieldHTTPURI),
		HTTPCookie:        str(FieldHTTPCookie),
		FTPCommand:        str(FieldFTPCommand),
		FTPArg:            str(FieldFTPArg),
		POPCommand:        str(FieldPOPCommand),
		POPParameter:      str(FieldPOPParameter),
		IMAPRequest:       str(FieldIMAPRequest),
		SMTPCommand:       str(FieldSMTPCommand),
		SMTPParameter:     str(FieldSMTPParameter),
		LDAPSimple:        str(FieldLDAPSimple),
		LDAPName:          str(FieldLDAPName),
		MySQLUser:         str(FieldMySQLUser),
		PgSQLPassword:     str(FieldPgSQLPassword),
		TelnetData:        str(FieldTelnetData),
		SIPAuthorization:  str(FieldSIPAuthorization),
		DNSQueryName:      str(FieldDNSQueryName),
	}
}

func parseFingerprint(f *fields, in *Interner) *Fingerprint {
	empty := true
	for i := FieldIPTTL; i < FieldJA3; i++ {
		if len(f.get(i)) > 0 {
			empty = false
			break
		}
	}
	if empty {
		return nil
	}
	fp := &Fingerprint{WindowScale: -1}
	if v, ok := parseUint(f.get(FieldIPTTL), 8); ok {
		fp.TTL = uint8(v)
	}
	if v, ok := parseUint(f.get(FieldIPv6HopLimit), 8); ok {
		fp.HopLimit = uint8(v)
	}
	if v, ok := parseUint(f.get(FieldTCPMSS), 16); ok {
		fp.MSS = uint16(v)
	}
	if v, ok := parseUint(f.get(FieldTCPWindowScale), 8); ok && v <= 14 {
		fp.WindowScale = int8(v)
	}
	if v, ok := parseUint(f.get(FieldTCPWindowSize), 32); ok {
		fp.WindowSize = uint32(v)
	}
	fp.TLSHandshakeType = in.Intern(f.get(FieldTLSHandshakeType))
	fp.TLSVersion = in.Intern(f.get(FieldTLSHandshakeVersion))
	fp.TLSCipherSuite = in.Intern(f.get(FieldTLSCipherSuite))
	fp.TLSExtensions = in.Intern(f.get(FieldTLSExtensionType))
	fp.TLSGroups = in.Intern(f.get(FieldTLSSupportedGroups))
	fp.TLSPointFormats = in.Intern(f.get(FieldTLSECPointFormats))
	fp.TLSALPN = in.Intern(f.get(FieldTLSALPN))
	fp.TLSRecordVersion = in.Intern(f.get(FieldTLSRecordVersion))
	fp.DHCPHostname = in.Intern(f.get(FieldDHCPHostname))
	fp.DHCPVendorClass = in.Intern(f.get(FieldDHCPVendorClass))
	fp.DHCPRequestList = in.Intern(f.get(FieldDHCPRequestList))
	fp.SSHProtocol = in.Intern(f.get(FieldSSHProtocol))
	fp.HTTPUserAgent = in.Intern(f.get(FieldHTTPUserAgent))
	return fp
}
