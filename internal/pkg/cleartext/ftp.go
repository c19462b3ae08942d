package cleartext

import "strings"

// FTPAnalyzer extracts USER and PASS commands.
type FTPAnalyzer struct{}

// NewFTPAnalyzer creates the FTP analyzer.
func NewFTPAnalyzer() *FTPAnalyzer {
	return &FTPAnalyzer{}
}

func (f *FTPAnalyzer) Name() string {
	return "FTP"
}

func (f *FTPAnalyzer) Keywords() []string {
	return []string{"ftp"}
}

func (f *FTPAnalyzer) Analyze(layer *Layer) *Content {
	cmd := strings.ToUpper(strings.TrimSpace(layer.Fields.FTPCommand))
	arg := strings.TrimSpace(layer.Fields.FTPArg)
	if cmd == "" || arg == "" {
		return nil
	}

	switch cmd {
	case "USER":
		c := layer.content(f.Name(), KindUsername)
		c.Username = arg
		if strings.EqualFold(arg, "anonymous") || strings.EqualFold(arg, "ftp") {
			c.Detail = "anonymous login"
		}
		return c
	case "PASS":
		c := layer.content(f.Name(), KindPassword)
		c.Secret = MaskPassword(arg)
		return c
	case "ACCT":
		c := layer.content(f.Name(), KindUsername)
		c.Username = arg
		c.Detail = "account"
		return c
	}
	return nil
}
