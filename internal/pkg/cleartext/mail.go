package cleartext

import (
	"encoding/base64"
	"strings"
)

// POP3Analyzer extracts USER, PASS and APOP commands.
type POP3Analyzer struct{}

// NewPOP3Analyzer creates the POP3 analyzer.
func NewPOP3Analyzer() *POP3Analyzer {
	return &POP3Analyzer{}
}

func (p *POP3Analyzer) Name() string {
	return "POP3"
}

func (p *POP3Analyzer) Keywords() []string {
	return []string{"pop"}
}

func (p *POP3Analyzer) Analyze(layer *Layer) *Content {
	cmd := strings.ToUpper(strings.TrimSpace(layer.Fields.POPCommand))
	param := strings.TrimSpace(layer.Fields.POPParameter)
	if param == "" {
		return nil
	}

	switch cmd {
	case "USER":
		c := layer.content(p.Name(), KindUsername)
		c.Username = param
		return c
	case "PASS":
		c := layer.content(p.Name(), KindPassword)
		c.Secret = MaskPassword(param)
		return c
	case "APOP":
		user, digest, _ := strings.Cut(param, " ")
		c := layer.content(p.Name(), KindDigest)
		c.Username = user
		c.Secret = MaskToken(digest)
		c.Detail = "APOP digest"
		return c
	}
	return nil
}

// IMAPAnalyzer extracts LOGIN commands.
type IMAPAnalyzer struct{}

// NewIMAPAnalyzer creates the IMAP analyzer.
func NewIMAPAnalyzer() *IMAPAnalyzer {
	return &IMAPAnalyzer{}
}

func (i *IMAPAnalyzer) Name() string {
	return "IMAP"
}

func (i *IMAPAnalyzer) Keywords() []string {
	return []string{"imap"}
}

// Analyze handles "<tag> LOGIN <user> <password>" with optional quoting.
func (i *IMAPAnalyzer) Analyze(layer *Layer) *Content {
	args := imapTokens(layer.Fields.IMAPRequest)
	if len(args) < 4 || !strings.EqualFold(args[1], "LOGIN") {
		return nil
	}
	c := layer.content(i.Name(), KindPassword)
	c.Username = args[2]
	c.Secret = MaskPassword(args[3])
	return c
}

// imapTokens splits an IMAP command line into atoms and quoted strings.
func imapTokens(s string) []string {
	var out []string
	s = strings.TrimSpace(s)
	for s != "" {
		if s[0] == '"' {
			var b strings.Builder
			i := 1
			for ; i < len(s); i++ {
				if s[i] == '\\' && i+1 < len(s) {
					i++
					b.WriteByte(s[i])
					continue
				}
				if s[i] == '"' {
					break
				}
				b.WriteByte(s[i])
			}
			out = append(out, b.String())
			if i < len(s) {
				i++
			}
			s = strings.TrimLeft(s[i:], " ")
			continue
		}
		tok, rest, _ := strings.Cut(s, " ")
		out = append(out, tok)
		s = strings.TrimLeft(rest, " ")
	}
	return out
}

// SMTPAnalyzer extracts AUTH PLAIN and AUTH LOGIN credentials.
type SMTPAnalyzer struct{}

// NewSMTPAnalyzer creates the SMTP analyzer.
func NewSMTPAnalyzer() *SMTPAnalyzer {
	return &SMTPAnalyzer{}
}

func (s *SMTPAnalyzer) Name() string {
	return "SMTP"
}

func (s *SMTPAnalyzer) Keywords() []string {
	return []string{"smtp"}
}

func (s *SMTPAnalyzer) Analyze(layer *Layer) *Content {
	if !strings.EqualFold(strings.TrimSpace(layer.Fields.SMTPCommand), "AUTH") {
		return nil
	}
	mech, initial, _ := strings.Cut(strings.TrimSpace(layer.Fields.SMTPParameter), " ")
	initial = strings.TrimSpace(initial)

	switch strings.ToUpper(mech) {
	case "PLAIN":
		c := layer.content(s.Name(), KindPassword)
		c.Detail = "AUTH PLAIN"
		if initial == "" {
			return c
		}
		raw, err := base64.StdEncoding.DecodeString(initial)
		if err != nil {
			c.Secret = MaskToken(initial)
			return c
		}
		// authzid NUL authcid NUL passwd
		parts := strings.SplitN(string(raw), "\x00", 3)
		if len(parts) == 3 {
			c.Username = parts[1]
			c.Secret = MaskPassword(parts[2])
		}
		return c
	case "LOGIN":
		c := layer.content(s.Name(), KindUsername)
		c.Detail = "AUTH LOGIN"
		if raw, err := base64.StdEncoding.DecodeString(initial); err == nil && initial != "" {
			c.Username = string(raw)
		}
		return c
	case "":
		return nil
	default:
		c := layer.content(s.Name(), KindToken)
		c.Detail = "AUTH " + strings.ToUpper(mech)
		if initial != "" {
			c.Secret = MaskToken(initial)
		}
		return c
	}
}
