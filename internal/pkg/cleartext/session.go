package cleartext

import (
	"regexp"
	"strings"
)

var (
	telnetUser = regexp.MustCompile(`(?i)\b(?:login|username|user)\s*:\s*(\S+)`)
	telnetPass = regexp.MustCompile(`(?i)\bpass(?:word)?\s*:\s*(\S+)`)
)

// TelnetAnalyzer looks for login and password prompts answered in the
// same data segment.
type TelnetAnalyzer struct{}

// NewTelnetAnalyzer creates the Telnet analyzer.
func NewTelnetAnalyzer() *TelnetAnalyzer {
	return &TelnetAnalyzer{}
}

func (t *TelnetAnalyzer) Name() string {
	return "Telnet"
}

func (t *TelnetAnalyzer) Keywords() []string {
	return []string{"telnet"}
}

func (t *TelnetAnalyzer) Analyze(layer *Layer) *Content {
	data := layer.Fields.TelnetData
	if data == "" {
		return nil
	}
	data = strings.NewReplacer(`\r`, " ", `\n`, " ", "\r", " ", "\n", " ").Replace(data)

	if m := telnetPass.FindStringSubmatch(data); m != nil {
		c := layer.content(t.Name(), KindPassword)
		c.Secret = MaskPassword(m[1])
		if u := telnetUser.FindStringSubmatch(data); u != nil {
			c.Username = u[1]
		}
		return c
	}
	if m := telnetUser.FindStringSubmatch(data); m != nil {
		c := layer.content(t.Name(), KindUsername)
		c.Username = m[1]
		return c
	}
	return nil
}

// SIPAnalyzer extracts the username of digest Authorization headers.
type SIPAnalyzer struct{}

// NewSIPAnalyzer creates the SIP analyzer.
func NewSIPAnalyzer() *SIPAnalyzer {
	return &SIPAnalyzer{}
}

func (s *SIPAnalyzer) Name() string {
	return "SIP"
}

func (s *SIPAnalyzer) Keywords() []string {
	return []string{"sip"}
}

func (s *SIPAnalyzer) Analyze(layer *Layer) *Content {
	auth := strings.TrimSpace(layer.Fields.SIPAuthorization)
	if auth == "" {
		return nil
	}
	scheme, params, _ := strings.Cut(auth, " ")
	if !strings.EqualFold(scheme, "digest") {
		c := layer.content(s.Name(), KindToken)
		c.Secret = MaskToken(auth)
		return c
	}
	c := layer.content(s.Name(), KindDigest)
	c.Username = digestParam(params, "username")
	if realm := digestParam(params, "realm"); realm != "" {
		c.Detail = "realm=" + realm
	}
	if resp := digestParam(params, "response"); resp != "" {
		c.Secret = MaskToken(resp)
	}
	return c
}
