package cleartext

import "strings"

// LDAPAnalyzer extracts simple bind passwords.
type LDAPAnalyzer struct{}

// NewLDAPAnalyzer creates the LDAP analyzer.
func NewLDAPAnalyzer() *LDAPAnalyzer {
	return &LDAPAnalyzer{}
}

func (l *LDAPAnalyzer) Name() string {
	return "LDAP"
}

func (l *LDAPAnalyzer) Keywords() []string {
	return []string{"ldap", "cldap"}
}

func (l *LDAPAnalyzer) Analyze(layer *Layer) *Content {
	pass := layer.Fields.LDAPSimple
	if pass == "" {
		return nil
	}
	c := layer.content(l.Name(), KindPassword)
	c.Username = strings.TrimSpace(layer.Fields.LDAPName)
	c.Secret = MaskPassword(pass)
	c.Detail = "simple bind"
	return c
}

// MySQLAnalyzer reports login usernames. The password is hashed by the
// protocol and not recoverable from the capture.
type MySQLAnalyzer struct{}

// NewMySQLAnalyzer creates the MySQL analyzer.
func NewMySQLAnalyzer() *MySQLAnalyzer {
	return &MySQLAnalyzer{}
}

func (m *MySQLAnalyzer) Name() string {
	return "MySQL"
}

func (m *MySQLAnalyzer) Keywords() []string {
	return []string{"mysql"}
}

func (m *MySQLAnalyzer) Analyze(layer *Layer) *Content {
	user := strings.TrimSpace(layer.Fields.MySQLUser)
	if user == "" {
		return nil
	}
	c := layer.content(m.Name(), KindUsername)
	c.Username = user
	c.Detail = "login request"
	return c
}

// PostgreSQLAnalyzer extracts password messages. Cleartext and MD5
// responses are distinguished by the "md5" prefix.
type PostgreSQLAnalyzer struct{}

// NewPostgreSQLAnalyzer creates the PostgreSQL analyzer.
func NewPostgreSQLAnalyzer() *PostgreSQLAnalyzer {
	return &PostgreSQLAnalyzer{}
}

func (p *PostgreSQLAnalyzer) Name() string {
	return "PostgreSQL"
}

func (p *PostgreSQLAnalyzer) Keywords() []string {
	return []string{"pgsql"}
}

func (p *PostgreSQLAnalyzer) Analyze(layer *Layer) *Content {
	pass := layer.Fields.PgSQLPassword
	if pass == "" {
		return nil
	}
	if strings.HasPrefix(pass, "md5") && len(pass) == 35 {
		c := layer.content(p.Name(), KindDigest)
		c.Secret = MaskToken(pass)
		c.Detail = "md5 password response"
		return c
	}
	c := layer.content(p.Name(), KindPassword)
	c.Secret = MaskPassword(pass)
	c.Detail = "cleartext password response"
	return c
}
