// Package anomaly runs category detectors over a captured packet set and
// merges their findings into one ordered report.
//
// Detectors are pure functions of an immutable record slice. A detector
// that fails or panics is reported in Report.Failures; the others still run.
package anomaly

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/endorses/wirecat/internal/pkg/packet"
	"github.com/google/uuid"
)

// Category groups detectors.
type Category string

const (
	CategorySecurity         Category = "security"
	CategoryVoIP             Category = "voip"
	CategoryIoT              Category = "iot"
	CategoryApplication      Category = "application"
	CategoryDataExfiltration Category = "data_exfiltration"
	CategoryNetwork          Category = "network"
)

// Categories lists the built-in categories in report order.
func Categories() []Category {
	return []Category{
		CategorySecurity,
		CategoryVoIP,
		CategoryIoT,
		CategoryApplication,
		CategoryDataExfiltration,
		CategoryNetwork,
	}
}

// ParseCategory accepts a category name in any case, with '-' or '_'.
func ParseCategory(s string) (Category, error) {
	norm := Category(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	for _, c := range Categories() {
		if c == norm {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown anomaly category %q", s)
}

// Severity orders findings. Higher is worse.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// MarshalText renders the severity name in JSON and YAML output.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a severity name.
func (s *Severity) UnmarshalText(b []byte) error {
	for v := SeverityInfo; v <= SeverityCritical; v++ {
		if strings.EqualFold(string(b), v.String()) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown severity %q", b)
}

// Anomaly types emitted by the built-in detectors.
const (
	TypePortScan      = "port_scan"
	TypeSynFlood      = "syn_flood"
	TypeARPSpoof      = "arp_spoofing"
	TypeCleartextAuth = "cleartext_credentials"
	TypeSIPFlood      = "sip_flood"
	TypeRTPJitter     = "rtp_jitter"
	TypeSIPScanner    = "sip_scanner"
	TypeIoTProtocol   = "insecure_iot_protocol"
	TypeDNSTunneling  = "dns_tunneling"
	TypeLargeUpload   = "large_upload"
	TypeDeprecatedTLS = "deprecated_tls"
)

// Record is one detected anomaly.
type Record struct {
	ID          string         `json:"id" yaml:"id"`
	Category    Category       `json:"category" yaml:"category"`
	Type        string         `json:"type" yaml:"type"`
	Severity    Severity       `json:"severity" yaml:"severity"`
	DetectedAt  time.Time      `json:"detected_at" yaml:"detected_at"`
	Description string         `json:"description" yaml:"description"`
	SourceIP    string         `json:"source_ip,omitempty" yaml:"source_ip,omitempty"`
	DestIP      string         `json:"dest_ip,omitempty" yaml:"dest_ip,omitempty"`
	Evidence    map[string]any `json:"evidence,omitempty" yaml:"evidence,omitempty"`
	Detector    string         `json:"detector" yaml:"detector"`
}

// newRecord fills the common fields of a finding. DetectedAt is the capture
// time of the evidence, not the wall clock.
func newRecord(d Detector, typ string, sev Severity, at time.Time, src, dst, desc string) Record {
	return Record{
		ID:          newID(),
		Category:    d.Category(),
		Type:        typ,
		Severity:    sev,
		DetectedAt:  at,
		Description: desc,
		SourceIP:    src,
		DestIP:      dst,
		Evidence:    make(map[string]any),
		Detector:    d.Name(),
	}
}

func newID() string {
	return uuid.NewString()
}

// Detector finds one kind of anomaly. Detect must not modify packets and
// should return promptly when ctx is done.
type Detector interface {
	Name() string
	Category() Category
	Detect(ctx context.Context, packets []*packet.Record) ([]Record, error)
}

// Failure reports a detector that returned an error or panicked.
type Failure struct {
	Detector string   `json:"detector" yaml:"detector"`
	Category Category `json:"category" yaml:"category"`
	Err      error    `json:"-" yaml:"-"`
	Message  string   `json:"error" yaml:"error"`
	Panic    bool     `json:"panic" yaml:"panic"`
}

func (f *Failure) Error() string {
	if f.Panic {
		return fmt.Sprintf("detector %s panicked: %v", f.Detector, f.Err)
	}
	return fmt.Sprintf("detector %s failed: %v", f.Detector, f.Err)
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Report is the merged output of a dispatch.
type Report struct {
	Records  []Record   `json:"records" yaml:"records"`
	Failures []*Failure `json:"failures,omitempty" yaml:"failures,omitempty"`

	// Partial is set when a detector failed or the run was cancelled.
	Partial    bool          `json:"partial" yaml:"partial"`
	Duplicates int           `json:"duplicates" yaml:"duplicates"`
	Duration   time.Duration `json:"duration" yaml:"duration"`
}

// CountBySeverity tallies records per severity.
func (r *Report) CountBySeverity() map[Severity]int {
	out := make(map[Severity]int)
	for _, rec := range r.Records {
		out[rec.Severity]++
	}
	return out
}
