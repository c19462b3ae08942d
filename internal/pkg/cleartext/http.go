package cleartext

import (
	"encoding/base64"
	"strings"
)

// sessionCookieNames are cookie name fragments that usually carry a session.
var sessionCookieNames = []string{"session", "sessid", "sid", "token", "auth", "jwt"}

// HTTPAnalyzer extracts Authorization headers, session cookies and secrets
// in request URIs.
type HTTPAnalyzer struct {
	patterns *PatternScanner
}

// NewHTTPAnalyzer creates the HTTP analyzer.
func NewHTTPAnalyzer() *HTTPAnalyzer {
	return &HTTPAnalyzer{patterns: NewPatternScanner()}
}

func (h *HTTPAnalyzer) Name() string {
	return "HTTP"
}

func (h *HTTPAnalyzer) Keywords() []string {
	return []string{"http"}
}

func (h *HTTPAnalyzer) Analyze(layer *Layer) *Content {
	f := &layer.Fields

	if c := h.authorization(layer); c != nil {
		return c
	}

	if f.HTTPURI != "" {
		if kind, secret, field, ok := h.patterns.Match(f.HTTPURI); ok {
			c := layer.content(h.Name(), kind)
			c.Secret = secret
			c.Detail = h.detail(layer, "query parameter "+field)
			return c
		}
	}

	if f.HTTPCookie != "" {
		if name, value, ok := sessionCookie(f.HTTPCookie); ok {
			c := layer.content(h.Name(), KindCookie)
			c.Secret = MaskToken(value)
			c.Detail = h.detail(layer, "cookie "+name)
			return c
		}
	}
	return nil
}

func (h *HTTPAnalyzer) authorization(layer *Layer) *Content {
	f := &layer.Fields

	// The dissector decodes Basic credentials into http.authbasic.
	if f.HTTPAuthBasic != "" {
		user, pass, _ := strings.Cut(f.HTTPAuthBasic, ":")
		c := layer.content(h.Name(), KindBasicAuth)
		c.Username = user
		c.Secret = MaskPassword(pass)
		c.Detail = h.detail(layer, "basic auth")
		return c
	}

	auth := strings.TrimSpace(f.HTTPAuthorization)
	if auth == "" {
		return nil
	}
	scheme, value, _ := strings.Cut(auth, " ")
	value = strings.TrimSpace(value)

	switch strings.ToLower(scheme) {
	case "basic":
		c := layer.content(h.Name(), KindBasicAuth)
		if raw, err := base64.StdEncoding.DecodeString(value); err == nil {
			user, pass, _ := strings.Cut(string(raw), ":")
			c.Username = user
			c.Secret = MaskPassword(pass)
		} else {
			c.Secret = MaskToken(value)
		}
		c.Detail = h.detail(layer, "basic auth")
		return c
	case "bearer":
		c := layer.content(h.Name(), KindToken)
		c.Secret = MaskToken(value)
		c.Detail = h.detail(layer, "bearer token")
		return c
	case "digest":
		c := layer.content(h.Name(), KindDigest)
		c.Username = digestParam(value, "username")
		c.Detail = h.detail(layer, "digest auth realm="+digestParam(value, "realm"))
		return c
	default:
		c := layer.content(h.Name(), KindToken)
		c.Secret = MaskToken(auth)
		c.Detail = h.detail(layer, "authorization "+scheme)
		return c
	}
}

func (h *HTTPAnalyzer) detail(layer *Layer, what string) string {
	f := &layer.Fields
	var b strings.Builder
	b.WriteString(what)
	if f.HTTPMethod != "" || f.HTTPHost != "" {
		b.WriteString(" (")
		b.WriteString(strings.TrimSpace(f.HTTPMethod + " " + f.HTTPHost))
		b.WriteString(")")
	}
	return b.String()
}

// sessionCookie returns the first cookie whose name looks like a session id.
func sessionCookie(header string) (name, value string, ok bool) {
	for _, part := range strings.Split(header, ";") {
		n, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found || v == "" {
			continue
		}
		lower := strings.ToLower(n)
		for _, frag := range sessionCookieNames {
			if strings.Contains(lower, frag) {
				return n, v, true
			}
		}
	}
	return "", "", false
}

// digestParam extracts key from a Digest parameter list such as
// `username="alice", realm="example.com"`.
func digestParam(params, key string) string {
	for _, part := range strings.Split(params, ",") {
		k, v, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found || !strings.EqualFold(strings.TrimSpace(k), key) {
			continue
		}
		return strings.Trim(strings.TrimSpace(v), `"`)
	}
	return ""
}
