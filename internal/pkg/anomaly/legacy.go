package anomaly

import (
	"context"
	"strings"
	"time"

	"github.com/endorses/wirecat/internal/pkg/packet"
)

// LegacyAlert is the flat alert shape consumed by older report tooling.
// Nothing in the detectors depends on it.
type LegacyAlert struct {
	AlertType string    `json:"alert_type" yaml:"alert_type"`
	Level     string    `json:"level" yaml:"level"`
	Message   string    `json:"message" yaml:"message"`
	Source    string    `json:"source,omitempty" yaml:"source,omitempty"`
	Target    string    `json:"target,omitempty" yaml:"target,omitempty"`
	Time      time.Time `json:"time" yaml:"time"`
}

// legacyTypeAliases maps old alert type names to current record types.
var legacyTypeAliases = map[string]string{
	"PORT_SCAN":          TypePortScan,
	"PORTSCAN":           TypePortScan,
	"SYN_FLOOD":          TypeSynFlood,
	"ARP_SPOOFING":       TypeARPSpoof,
	"ARP_POISONING":      TypeARPSpoof,
	"CLEARTEXT_PASSWORD": TypeCleartextAuth,
	"TELNET_LOGIN":       TypeCleartextAuth,
	"BASIC_AUTH":         TypeCleartextAuth,
	"SIP_FLOOD":          TypeSIPFlood,
	"SIP_SCAN":           TypeSIPScanner,
	"VOIP_JITTER":        TypeRTPJitter,
	"DNS_TUNNEL":         TypeDNSTunneling,
	"DATA_EXFILTRATION":  TypeLargeUpload,
	"WEAK_TLS":           TypeDeprecatedTLS,
	"INSECURE_IOT":       TypeIoTProtocol,
}

// CanonicalType returns the current type name for t, resolving legacy aliases.
func CanonicalType(t string) string {
	if c, ok := legacyTypeAliases[strings.ToUpper(t)]; ok {
		return c
	}
	return strings.ToLower(t)
}

// legacyLevel maps severities onto the three-level legacy scale.
func legacyLevel(s Severity) string {
	switch {
	case s >= SeverityHigh:
		return "HIGH"
	case s == SeverityMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// ToLegacy converts records to legacy alerts.
func ToLegacy(records []Record) []LegacyAlert {
	out := make([]LegacyAlert, 0, len(records))
	for _, r := range records {
		out = append(out, LegacyAlert{
			AlertType: strings.ToUpper(r.Type),
			Level:     legacyLevel(r.Severity),
			Message:   r.Description,
			Source:    r.SourceIP,
			Target:    r.DestIP,
			Time:      r.DetectedAt,
		})
	}
	return out
}

// FromLegacy converts legacy alerts produced by an adapted detector.
func FromLegacy(detector string, category Category, alerts []LegacyAlert) []Record {
	out := make([]Record, 0, len(alerts))
	for _, a := range alerts {
		sev := SeverityLow
		switch strings.ToUpper(a.Level) {
		case "CRITICAL":
			sev = SeverityCritical
		case "HIGH":
			sev = SeverityHigh
		case "MEDIUM":
			sev = SeverityMedium
		}
		out = append(out, Record{
			ID:          newID(),
			Category:    category,
			Type:        CanonicalType(a.AlertType),
			Severity:    sev,
			DetectedAt:  a.Time,
			Description: a.Message,
			SourceIP:    a.Source,
			DestIP:      a.Target,
			Detector:    detector,
		})
	}
	return out
}

// LegacyFunc is a detector written against the legacy alert shape.
type LegacyFunc func(packets []*packet.Record) []LegacyAlert

type legacyDetector struct {
	name     string
	category Category
	fn       LegacyFunc
}

// AdaptLegacy wraps a legacy alert function as a Detector.
func AdaptLegacy(name string, category Category, fn LegacyFunc) Detector {
	return &legacyDetector{name: name, category: category, fn: fn}
}

func (l *legacyDetector) Name() string {
	return l.name
}

func (l *legacyDetector) Category() Category {
	return l.category
}

func (l *legacyDetector) Detect(ctx context.Context, packets []*packet.Record) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return FromLegacy(l.name, l.category, l.fn(packets)), nil
}
