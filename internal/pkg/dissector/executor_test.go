package dissector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/endorses/wirecat/internal/pkg/constants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDissector writes an executable shell script standing in for the dissector.
func fakeDissector(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "fake-dissector")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o700))
	return path
}

func collect(t *testing.T, e *Executor, args ...string) ([]string, error) {
	t.Helper()
	var lines []string
	err := e.Run(context.Background(), args, func(line []byte) error {
		lines = append(lines, string(line))
		return nil
	})
	return lines, err
}

func TestExecutor_Run(t *testing.T) {
	bin := fakeDissector(t, `printf '1\t10.0.0.1\r\n2\t10.0.0.2\n3\t10.0.0.3'`)
	e := NewExecutor(Config{Binary: bin})

	lines, err := collect(t, e)
	require.NoError(t, err)
	assert.Equal(t, []string{"1\t10.0.0.1", "2\t10.0.0.2", "3\t10.0.0.3"}, lines)
}

func TestExecutor_ArgumentsAreLiteral(t *testing.T) {
	bin := fakeDissector(t, `for a in "$@"; do printf '%s\n' "$a"; done`)
	e := NewExecutor(Config{Binary: bin})

	args := []string{"-r", `/tmp/"; rm -rf /; ".pcap`, "-Y", "ip.src == $(id)"}
	lines, err := collect(t, e, args...)
	require.NoError(t, err)
	assert.Equal(t, args, lines)
}

func TestExecutor_NonZeroExit(t *testing.T) {
	bin := fakeDissector(t, `echo "partial"; echo "The file \"x.pcap\" isn't a capture file" >&2; exit 2`)
	e := NewExecutor(Config{Binary: bin})

	lines, err := collect(t, e)
	assert.Equal(t, []string{"partial"}, lines)

	var perr *ProcessError
	require.True(t, errors.As(err, &perr), "got %T", err)
	assert.Equal(t, 2, perr.ExitCode)
	assert.False(t, perr.TimedOut)
	assert.Contains(t, perr.Stderr, "isn't a capture file")
	assert.Contains(t, perr.Error(), "exited with code 2")
}

func TestExecutor_Cancel(t *testing.T) {
	bin := fakeDissector(t, `echo ready; exec sleep 30`)
	e := NewExecutor(Config{Binary: bin})

	ctx, cancel := context.WithCancel(context.Background())
	p, err := e.Start(ctx, nil)
	require.NoError(t, err)

	lines := p.Lines()
	require.True(t, lines.Next())
	assert.Equal(t, "ready", lines.Text())

	start := time.Now()
	cancel()
	for lines.Next() {
	}
	err = p.Wait()
	assert.Less(t, time.Since(start), constants.ProcessWaitDelay+time.Second)

	var perr *ProcessError
	require.True(t, errors.As(err, &perr))
	assert.True(t, perr.Canceled)
	assert.Equal(t, -1, perr.ExitCode)
}

func TestExecutor_Timeout(t *testing.T) {
	bin := fakeDissector(t, `exec sleep 30`)
	e := NewExecutor(Config{Binary: bin, Timeout: 100 * time.Millisecond})

	_, err := collect(t, e)
	var perr *ProcessError
	require.True(t, errors.As(err, &perr))
	assert.True(t, perr.TimedOut)
	assert.Contains(t, perr.Error(), "timed out")
}

func TestExecutor_CallbackErrorStopsProcess(t *testing.T) {
	bin := fakeDissector(t, `while true; do echo line; done`)
	e := NewExecutor(Config{Binary: bin})

	stop := errors.New("enough")
	n := 0
	err := e.Run(context.Background(), nil, func([]byte) error {
		n++
		if n == 10 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 10, n)
}

func TestExecutor_MissingBinary(t *testing.T) {
	e := NewExecutor(Config{Binary: filepath.Join(t.TempDir(), "nope")})

	_, err := e.Start(context.Background(), nil)
	var perr *ProcessError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, -1, perr.ExitCode)

	_, err = e.LookPath()
	assert.Error(t, err)
}

func TestExecutor_Wrapper(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	e := NewExecutor(Config{
		Binary:  "tshark",
		Wrapper: []string{"/bin/sh", "-c", `for a in "$@"; do printf '%s\n' "$a"; done`, "sh"},
	})

	lines, err := collect(t, e, "-r", `C:\Captures\day one.pcap`, "-T", "fields")
	require.NoError(t, err)
	assert.Equal(t, []string{"tshark", "-r", "/mnt/c/Captures/day one.pcap", "-T", "fields"}, lines)
}

func TestExecutor_Version(t *testing.T) {
	bin := fakeDissector(t, `echo "TShark (Wireshark) 4.2.2."; echo; echo "Copyright"`)
	e := NewExecutor(Config{Binary: bin})

	v, err := e.Version(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "TShark (Wireshark) 4.2.2.", v)
}

func TestTimeoutForSize(t *testing.T) {
	tests := []struct {
		size int64
		want time.Duration
	}{
		{-1, 2 * time.Minute},
		{0, 2 * time.Minute},
		{99 << 20, 2 * time.Minute},
		{100 << 20, 3 * time.Minute},
		{1 << 30, 12 * time.Minute},
		{1 << 40, 4 * time.Hour},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TimeoutForSize(tt.size), "size %d", tt.size)
	}
}

func TestTranslatePath(t *testing.T) {
	tests := map[string]string{
		`C:\Users\me\a.pcap`: "/mnt/c/Users/me/a.pcap",
		`d:/caps/b.pcapng`:   "/mnt/d/caps/b.pcapng",
		"/home/me/c.pcap":    "/home/me/c.pcap",
		"relative.pcap":      "relative.pcap",
	}
	for in, want := range tests {
		assert.Equal(t, want, TranslatePath(in), in)
	}
}

func TestTailBuffer(t *testing.T) {
	tb := newTailBuffer(16)
	_, _ = tb.Write([]byte("first line\n"))
	assert.Equal(t, "first line\n", tb.String())

	_, _ = tb.Write([]byte("second\nthird\n"))
	s := tb.String()
	assert.False(t, strings.Contains(s, "first"))
	assert.True(t, strings.HasSuffix(s, "third\n"))

	_, _ = tb.Write([]byte(strings.Repeat("x", 40) + "\nlast\n"))
	assert.Equal(t, "last\n", tb.String())

	bad := newTailBuffer(64)
	_, _ = bad.Write([]byte{'o', 'k', 0xff, '\n'})
	assert.Equal(t, "ok\uFFFD\n", bad.String())
}
