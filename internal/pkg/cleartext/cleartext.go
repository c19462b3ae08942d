// Package cleartext finds credentials sent without encryption.
//
// Protocol analyzers are dispatched by keyword against the record's protocol
// stack. Every secret is masked inside this package; a Content never holds
// a raw password or token.
package cleartext

import (
	"time"

	"github.com/endorses/wirecat/internal/pkg/packet"
)

// Kind classifies a finding.
type Kind string

const (
	KindPassword  Kind = "password"
	KindUsername  Kind = "username"
	KindBasicAuth Kind = "basic_auth"
	KindDigest    Kind = "digest_auth"
	KindToken     Kind = "token"
	KindAPIKey    Kind = "api_key"
	KindCookie    Kind = "session_cookie"
	KindExposure  Kind = "data_exposure"
)

// Content is one credential finding. Secret is always masked.
type Content struct {
	Protocol  string    `json:"protocol" yaml:"protocol"`
	Kind      Kind      `json:"kind" yaml:"kind"`
	Username  string    `json:"username,omitempty" yaml:"username,omitempty"`
	Secret    string    `json:"secret,omitempty" yaml:"secret,omitempty"`
	Detail    string    `json:"detail,omitempty" yaml:"detail,omitempty"`
	Frame     uint64    `json:"frame" yaml:"frame"`
	SrcIP     string    `json:"src_ip" yaml:"src_ip"`
	DstIP     string    `json:"dst_ip" yaml:"dst_ip"`
	SrcPort   uint16    `json:"src_port,omitempty" yaml:"src_port,omitempty"`
	DstPort   uint16    `json:"dst_port,omitempty" yaml:"dst_port,omitempty"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// HasSecret reports whether the finding carries a (masked) secret.
func (c *Content) HasSecret() bool {
	return c.Secret != ""
}

// Layer is the view of a record that analyzers work on.
type Layer struct {
	Stack     string // protocol stack as reported, e.g. "eth:ethertype:ip:tcp:ftp"
	Frame     uint64
	Timestamp time.Time
	SrcIP     string
	DstIP     string
	SrcPort   uint16
	DstPort   uint16
	Info      string
	Fields    packet.Cleartext // zero value when the record had none
}

// NewLayer builds the analyzer view of r.
func NewLayer(r *packet.Record) *Layer {
	l := &Layer{
		Stack:     r.Protocols,
		Frame:     r.FrameNumber,
		Timestamp: r.Timestamp,
		SrcIP:     r.SrcIP,
		DstIP:     r.DstIP,
		SrcPort:   r.SrcPort,
		DstPort:   r.DstPort,
		Info:      r.Info,
	}
	if r.Cleartext != nil {
		l.Fields = *r.Cleartext
	}
	return l
}

// content starts a finding stamped with the layer's identity.
func (l *Layer) content(protocol string, kind Kind) *Content {
	return &Content{
		Protocol:  protocol,
		Kind:      kind,
		Frame:     l.Frame,
		SrcIP:     l.SrcIP,
		DstIP:     l.DstIP,
		SrcPort:   l.SrcPort,
		DstPort:   l.DstPort,
		Timestamp: l.Timestamp,
	}
}

// Analyzer extracts credentials for one protocol.
type Analyzer interface {
	// Name returns the protocol name used in findings.
	Name() string

	// Keywords are protocol stack segments that route a layer to this analyzer.
	Keywords() []string

	// Analyze returns nil when the layer holds nothing of interest.
	Analyze(layer *Layer) *Content
}
