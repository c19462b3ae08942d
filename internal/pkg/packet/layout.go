package packet

// LayoutVersion identifies the field order below. The parser and the
// analysis command are built from the same table; any change to the order
// or count of Layout must bump this value.
const LayoutVersion = 3

// Field indexes into the analysis layout.
const (
	// Core frame/address/port/protocol fields.
	FieldFrameNumber = iota
	FieldTimeEpoch
	FieldFrameLen
	FieldIPSrc
	FieldIPDst
	FieldIPv6Src
	FieldIPv6Dst
	FieldTCPSrcPort
	FieldTCPDstPort
	FieldUDPSrcPort
	FieldUDPDstPort
	FieldProtocols
	FieldColProtocol
	FieldColInfo
	FieldTCPFlags
	FieldTCPSeq
	FieldTCPAck
	FieldTCPWindow

	// Cleartext credential fields.
	FieldHTTPAuthorization
	FieldHTTPAuthBasic
	FieldHTTPMethod
	FieldHTTPHost
	FieldHTTPURI
	FieldHTTPCookie
	FieldFTPCommand
	FieldFTPArg
	FieldPOPCommand
	FieldPOPParameter
	FieldIMAPRequest
	FieldSMTPCommand
	FieldSMTPParameter
	FieldLDAPSimple
	FieldLDAPName
	FieldMySQLUser
	FieldPgSQLPassword
	FieldTelnetData
	FieldSIPAuthorization
	FieldDNSQueryName

	// Host fingerprinting fields.
	FieldIPTTL
	FieldIPv6HopLimit
	FieldTCPMSS
	FieldTCPWindowScale
	FieldTCPWindowSize
	FieldTLSHandshakeType
	FieldTLSHandshakeVersion
	FieldTLSCipherSuite
	FieldTLSExtensionType
	FieldTLSSupportedGroups
	FieldTLSECPointFormats
	FieldTLSALPN
	FieldTLSRecordVersion
	FieldDHCPHostname
	FieldDHCPVendorClass
	FieldDHCPRequestList
	FieldSSHProtocol
	FieldHTTPUserAgent

	// Derived high-value fields.
	FieldJA3
	FieldTLSServerName

	// FieldCount is the number of fields in Layout.
	FieldCount
)

// MinFields is the number of leading fields a line must carry to be parsed
// (frame number through the info column).
const MinFields = FieldColInfo + 1

// Group boundaries within Layout.
const (
	coreFields        = FieldHTTPAuthorization
	cleartextFields   = FieldIPTTL - FieldHTTPAuthorization
	fingerprintFields = FieldJA3 - FieldIPTTL
	derivedFields     = FieldCount - FieldJA3
)

// Layout is the ordered dissector field list of the streaming analysis mode.
var Layout = [FieldCount]string{
	FieldFrameNumber: "frame.number",
	FieldTimeEpoch:   "frame.time_epoch",
	FieldFrameLen:    "frame.len",
	FieldIPSrc:       "ip.src",
	FieldIPDst:       "ip.dst",
	FieldIPv6Src:     "ipv6.src",
	FieldIPv6Dst:     "ipv6.dst",
	FieldTCPSrcPort:  "tcp.srcport",
	FieldTCPDstPort:  "tcp.dstport",
	FieldUDPSrcPort:  "udp.srcport",
	FieldUDPDstPort:  "udp.dstport",
	FieldProtocols:   "frame.protocols",
	FieldColProtocol: "_ws.col.Protocol",
	FieldColInfo:     "_ws.col.Info",
	FieldTCPFlags:    "tcp.flags",
	FieldTCPSeq:      "tcp.seq",
	FieldTCPAck:      "tcp.ack",
	FieldTCPWindow:   "tcp.window_size_value",

	FieldHTTPAuthorization: "http.authorization",
	FieldHTTPAuthBasic:     "http.authbasic",
	FieldHTTPMethod:        "http.request.method",
	FieldHTTPHost:          "http.host",
	FieldHTTPURI:           "http.request.uri",
	FieldHTTPCookie:        "http.cookie",
	FieldFTPCommand:        "ftp.request.command",
	FieldFTPArg:            "ftp.request.arg",
	FieldPOPCommand:        "pop.request.command",
	FieldPOPParameter:      "pop.request.parameter",
	FieldIMAPRequest:       "imap.request",
	FieldSMTPCommand:       "smtp.req.command",
	FieldSMTPParameter:     "smtp.req.parameter",
	FieldLDAPSimple:        "ldap.simple",
	FieldLDAPName:          "ldap.name",
	FieldMySQLUser:         "mysql.user",
	FieldPgSQLPassword:     "pgsql.password",
	FieldTelnetData:        "telnet.data",
	FieldSIPAuthorization:  "sip.auth",
	FieldDNSQueryName:      "dns.qry.name",

	FieldIPTTL:               "ip.ttl",
	FieldIPv6HopLimit:        "ipv6.hlim",
	FieldTCPMSS:              "tcp.options.mss_val",
	FieldTCPWindowScale:      "tcp.options.wscale.shift",
	FieldTCPWindowSize:       "tcp.window_size",
	FieldTLSHandshakeType:    "tls.handshake.type",
	FieldTLSHandshakeVersion: "tls.handshake.version",
	FieldTLSCipherSuite:      "tls.handshake.ciphersuite",
	FieldTLSExtensionType:    "tls.handshake.extension.type",
	FieldTLSSupportedGroups:  "tls.handshake.extensions_supported_group",
	FieldTLSECPointFormats:   "tls.handshake.extensions_ec_point_format",
	FieldTLSALPN:             "tls.handshake.extensions_alpn_str",
	FieldTLSRecordVersion:    "tls.record.version",
	FieldDHCPHostname:        "dhcp.option.hostname",
	FieldDHCPVendorClass:     "dhcp.option.vendor_class_id",
	FieldDHCPRequestList:     "dhcp.option.request_list_item",
	FieldSSHProtocol:         "ssh.protocol",
	FieldHTTPUserAgent:       "http.user_agent",

	FieldJA3:           "tls.handshake.ja3",
	FieldTLSServerName: "tls.handshake.extensions_server_name",
}

// Fields returns the analysis layout as a slice, in order.
func Fields() []string {
	out := make([]string, FieldCount)
	copy(out, Layout[:])
	return out
}
