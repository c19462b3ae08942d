package cleartext

import (
	"net/url"
	"regexp"
	"strings"
)

// pattern is one credential-shaped expression. The last submatch is the secret.
type pattern struct {
	kind Kind
	re   *regexp.Regexp
	mask func(string) string
	hint string // cheap lowercase substring that must be present
}

var defaultPatterns = []pattern{
	{
		kind: KindPassword,
		re:   regexp.MustCompile(`(?i)(?:^|[?&;\s])(password|passwd|pwd|pass)=([^&\s;]+)`),
		mask: MaskPassword,
		hint: "=",
	},
	{
		kind: KindAPIKey,
		re:   regexp.MustCompile(`(?i)(?:^|[?&;\s])(api_key|apikey|api-key|client_secret|secret)=([^&\s;]+)`),
		mask: MaskToken,
		hint: "=",
	},
	{
		kind: KindToken,
		re:   regexp.MustCompile(`(?i)(?:^|[?&;\s])(token|access_token|auth_token|refresh_token)=([^&\s;]+)`),
		mask: MaskToken,
		hint: "=",
	},
	{
		kind: KindAPIKey,
		re:   regexp.MustCompile(`\b(AKIA[0-9A-Z]{16})\b`),
		mask: MaskToken,
		hint: "akia",
	},
	{
		kind: KindToken,
		re:   regexp.MustCompile(`(?i)\bbearer\s+([A-Za-z0-9\-._~+/]{8,}=*)`),
		mask: MaskToken,
		hint: "bearer",
	},
}

// PatternScanner looks for credential-shaped substrings in free text,
// independent of protocol.
type PatternScanner struct {
	patterns []pattern
}

// NewPatternScanner returns a scanner with the built-in patterns.
func NewPatternScanner() *PatternScanner {
	return &PatternScanner{patterns: defaultPatterns}
}

// Scan checks the layer's free-text fields and returns the first match.
func (p *PatternScanner) Scan(layer *Layer) *Content {
	f := &layer.Fields
	for _, text := range []string{f.HTTPURI, f.HTTPCookie, f.TelnetData, layer.Info} {
		if text == "" {
			continue
		}
		if kind, secret, field, ok := p.Match(text); ok {
			c := layer.content("Generic", kind)
			c.Secret = secret
			c.Detail = field
			return c
		}
	}
	return nil
}

// Match returns the first credential in text with its secret masked and
// the parameter name it was found under, if any.
func (p *PatternScanner) Match(text string) (kind Kind, masked, field string, ok bool) {
	lower := strings.ToLower(text)
	for _, pat := range p.patterns {
		if !strings.Contains(lower, pat.hint) {
			continue
		}
		m := pat.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		secret := m[len(m)-1]
		if len(m) > 2 {
			field = strings.ToLower(m[1])
		}
		if v, err := url.QueryUnescape(secret); err == nil {
			secret = v
		}
		return pat.kind, pat.mask(secret), field, true
	}
	return "", "", "", false
}
