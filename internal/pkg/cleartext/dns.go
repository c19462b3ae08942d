package cleartext

import "strings"

// minEncodedLabel is the shortest label treated as possibly encoded data.
const minEncodedLabel = 32

// DNSAnalyzer flags query names that carry data: credential patterns or
// long encoded labels. Ordinary lookups are ignored.
type DNSAnalyzer struct {
	patterns *PatternScanner
}

// NewDNSAnalyzer creates the DNS analyzer.
func NewDNSAnalyzer() *DNSAnalyzer {
	return &DNSAnalyzer{patterns: NewPatternScanner()}
}

func (d *DNSAnalyzer) Name() string {
	return "DNS"
}

func (d *DNSAnalyzer) Keywords() []string {
	return []string{"dns", "mdns"}
}

func (d *DNSAnalyzer) Analyze(layer *Layer) *Content {
	name := strings.TrimSuffix(layer.Fields.DNSQueryName, ".")
	if name == "" {
		return nil
	}

	if kind, secret, _, ok := d.patterns.Match(strings.ReplaceAll(name, ".", " ")); ok {
		c := layer.content(d.Name(), kind)
		c.Secret = secret
		c.Detail = "credential in query name"
		return c
	}

	for _, label := range strings.Split(name, ".") {
		if len(label) >= minEncodedLabel && isEncodedLabel(label) {
			c := layer.content(d.Name(), KindExposure)
			c.Secret = MaskToken(label)
			c.Detail = "encoded label in query " + domainOf(name)
			return c
		}
	}
	return nil
}

// isEncodedLabel reports labels made only of hex or base32/base64url
// characters with at least one digit.
func isEncodedLabel(label string) bool {
	digit := false
	for i := 0; i < len(label); i++ {
		b := label[i]
		switch {
		case b >= '0' && b <= '9':
			digit = true
		case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b == '-', b == '_':
		default:
			return false
		}
	}
	return digit
}

// domainOf returns the last two labels of name.
func domainOf(name string) string {
	labels := strings.Split(name, ".")
	if len(labels) <= 2 {
		return name
	}
	return strings.Join(labels[len(labels)-2:], ".")
}
