package validate

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCapture(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte{0xd4, 0xc3, 0xb2, 0xa1}, 0o600))
	return path
}

func TestFilePath_Valid(t *testing.T) {
	for _, name := range []string{"a.pcap", "b.PCAPNG", "c.cap", "d.pcap.gz"} {
		t.Run(name, func(t *testing.T) {
			path := writeCapture(t, name)
			got, err := FilePath(path)
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(got))
			assert.Equal(t, filepath.Clean(path), got)
		})
	}
}

func TestFilePath_Rejects(t *testing.T) {
	dir := t.TempDir()
	existing := writeCapture(t, "ok.pcap")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.pcap"), 0o700))

	tests := []struct {
		name string
		path string
	}{
		{"empty", ""},
		{"too long", "/" + strings.Repeat("a", MaxPathLength) + ".pcap"},
		{"bad extension", filepath.Join(dir, "notes.txt")},
		{"semicolon", existing + ";rm -rf /.pcap"},
		{"pipe", "/tmp/a|b.pcap"},
		{"backtick", "/tmp/`id`.pcap"},
		{"dollar", "/tmp/$HOME.pcap"},
		{"newline", "/tmp/a\nb.pcap"},
		{"brackets", "/tmp/a[1].pcap"},
		{"double quote", `/tmp/a"; rm -rf /; ".pcap`},
		{"single quote", "/tmp/it's.pcap"},
		{"tilde", "~/capture.pcap"},
		{"missing", filepath.Join(dir, "missing.pcap")},
		{"directory", filepath.Join(dir, "dir.pcap")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FilePath(tt.path)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, KindPath, verr.Kind)
			assert.NotEmpty(t, verr.Reason)
		})
	}
}

func TestFilter(t *testing.T) {
	valid := []string{
		"",
		"tcp",
		"ip.addr == 10.0.0.1 && tcp.port == 443",
		"(udp.port >= 5060) || sip",
		"eth.addr == 00:11:22:33:44:55",
		"tcp.flags.syn == 1 and !tcp.flags.ack",
		"ipv6.addr == fe80::1",
	}
	for _, f := range valid {
		got, err := Filter(f)
		require.NoError(t, err, f)
		assert.Equal(t, f, got)
	}

	invalid := []string{
		"tcp; rm -rf /",
		"tcp `id`",
		"$(reboot)",
		"http.host == \"evil\"",
		"tcp\nudp",
		strings.Repeat("a", MaxFilterLength+1),
	}
	for _, f := range invalid {
		_, err := Filter(f)
		assert.ErrorIs(t, err, ErrValidation, f)
	}
}

func TestField(t *testing.T) {
	for _, f := range []string{"ip.src", "frame.time_epoch", "tcp.options.mss_val", "_ws.col.Protocol", "dns"} {
		assert.NoError(t, Field(f), f)
	}
	for _, f := range []string{"", "IP.src", "ip..src", ".ip", "ip.src;", "ip.src ", "1ip", "ip-src", strings.Repeat("a", MaxFieldLength+1)} {
		assert.ErrorIs(t, Field(f), ErrValidation, f)
	}
}

func TestFields_FirstFailure(t *testing.T) {
	err := Fields([]string{"ip.src", "bad field", "also bad"})
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "bad field", verr.Value)
}
