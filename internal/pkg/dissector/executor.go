package dissector

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/endorses/wirecat/internal/pkg/constants"
	"github.com/endorses/wirecat/internal/pkg/logger"
	"github.com/spf13/viper"
)

// DefaultBinary is the dissector executable looked up on $PATH.
const DefaultBinary = "tshark"

// Config configures the executor.
type Config struct {
	Binary        string        `mapstructure:"path"`
	Wrapper       []string      `mapstructure:"wrapper"` // e.g. ["wsl", "-e"]; empty runs Binary directly
	Timeout       time.Duration `mapstructure:"timeout"` // 0 leaves the deadline to the caller's context
	MaxLineLength int           `mapstructure:"max_line_length"`
	StderrTail    int           `mapstructure:"stderr_tail"`
}

// DefaultConfig returns the executor defaults.
func DefaultConfig() Config {
	return Config{
		Binary:        DefaultBinary,
		MaxLineLength: constants.MaxLineLength,
		StderrTail:    constants.StderrTailSize,
	}
}

// ConfigFromViper reads the dissector.* keys over the defaults.
func ConfigFromViper() Config {
	cfg := DefaultConfig()
	if v := viper.GetString("dissector.path"); v != "" {
		cfg.Binary = v
	}
	if v := viper.GetStringSlice("dissector.wrapper"); len(v) > 0 {
		cfg.Wrapper = v
	}
	if viper.IsSet("dissector.timeout") {
		cfg.Timeout = viper.GetDuration("dissector.timeout")
	}
	if v := viper.GetInt("dissector.max_line_length"); v > 0 {
		cfg.MaxLineLength = v
	}
	return cfg
}

// TimeoutForSize derives an overall deadline from the capture size:
// a base allowance plus a fixed amount per 100 MiB, capped.
func TimeoutForSize(size int64) time.Duration {
	if size < 0 {
		size = 0
	}
	const chunk = 100 << 20
	d := constants.BaseProcessTimeout + time.Duration(size/chunk)*constants.ProcessTimeoutPer100MiB
	if d > constants.MaxProcessTimeout {
		d = constants.MaxProcessTimeout
	}
	return d
}

// ProcessError describes a failed dissector run. Stderr holds the tail of
// the process's diagnostic output.
type ProcessError struct {
	Binary   string
	ExitCode int // -1 when the process did not exit normally
	Stderr   string
	TimedOut bool
	Canceled bool
	Err      error
}

func (e *ProcessError) Error() string {
	var b strings.Builder
	switch {
	case e.TimedOut:
		fmt.Fprintf(&b, "%s timed out", e.Binary)
	case e.Canceled:
		fmt.Fprintf(&b, "%s was cancelled", e.Binary)
	case e.ExitCode >= 0:
		fmt.Fprintf(&b, "%s exited with code %d", e.Binary, e.ExitCode)
	default:
		fmt.Fprintf(&b, "%s failed: %v", e.Binary, e.Err)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[:i]
		}
		b.WriteString(": ")
		b.WriteString(s)
	}
	return b.String()
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// Executor launches the dissector.
type Executor struct {
	cfg Config
}

// NewExecutor creates an executor, filling zero config values with defaults.
func NewExecutor(cfg Config) *Executor {
	def := DefaultConfig()
	if cfg.Binary == "" {
		cfg.Binary = def.Binary
	}
	if cfg.MaxLineLength <= 0 {
		cfg.MaxLineLength = def.MaxLineLength
	}
	if cfg.StderrTail <= 0 {
		cfg.StderrTail = def.StderrTail
	}
	return &Executor{cfg: cfg}
}

// Config returns the effective configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// LookPath resolves the dissector binary (or the wrapper when one is set).
func (e *Executor) LookPath() (string, error) {
	name := e.cfg.Binary
	if len(e.cfg.Wrapper) > 0 {
		name = e.cfg.Wrapper[0]
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("dissector %q not found: %w", name, err)
	}
	return path, nil
}

// argv returns the program and its arguments, applying the wrapper.
func (e *Executor) argv(args []string) (string, []string) {
	if len(e.cfg.Wrapper) == 0 {
		return e.cfg.Binary, args
	}
	out := make([]string, 0, len(e.cfg.Wrapper)+len(args))
	out = append(out, e.cfg.Wrapper[1:]...)
	out = append(out, e.cfg.Binary)
	for i := 0; i < len(args); i++ {
		out = append(out, args[i])
		if args[i] == "-r" && i+1 < len(args) {
			i++
			out = append(out, TranslatePath(args[i]))
		}
	}
	return e.cfg.Wrapper[0], out
}

var windowsDrive = regexp.MustCompile(`^([A-Za-z]):[\\/]`)

// TranslatePath maps a Windows path to its location inside a Linux
// compatibility environment (C:\x\y.pcap -> /mnt/c/x/y.pcap). Other paths
// are returned unchanged.
func TranslatePath(path string) string {
	m := windowsDrive.FindStringSubmatch(path)
	if m == nil {
		return path
	}
	rest := strings.ReplaceAll(path[len(m[0]):], `\`, "/")
	return "/mnt/" + strings.ToLower(m[1]) + "/" + rest
}

// Start launches the dissector with args. The returned process must be
// drained through Lines and then reaped with Wait. Cancelling ctx kills it.
func (e *Executor) Start(ctx context.Context, args []string) (*Process, error) {
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		return e.start(ctx, cancel, args)
	}
	ctx, cancel := context.WithCancel(ctx)
	return e.start(ctx, cancel, args)
}

func (e *Executor) start(ctx context.Context, cancel context.CancelFunc, args []string) (*Process, error) {
	name, argv := e.argv(args)

	// #nosec G204 -- argv elements are validated and never pass through a shell
	cmd := exec.CommandContext(ctx, name, argv...)
	cmd.WaitDelay = constants.ProcessWaitDelay

	stderr := newTailBuffer(e.cfg.StderrTail)
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open dissector stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, &ProcessError{Binary: name, ExitCode: -1, Err: err}
	}

	logger.Info("Started dissector",
		"binary", name,
		"pid", cmd.Process.Pid,
		"args", len(argv))

	return &Process{
		binary: name,
		cmd:    cmd,
		ctx:    ctx,
		cancel: cancel,
		lines:  NewLineReader(stdout, e.cfg.MaxLineLength),
		stderr: stderr,
		start:  time.Now(),
	}, nil
}

// Run starts the dissector, calls fn for every stdout line, and waits for
// exit. Returning an error from fn stops the process.
func (e *Executor) Run(ctx context.Context, args []string, fn func(line []byte) error) error {
	p, err := e.Start(ctx, args)
	if err != nil {
		return err
	}
	lines := p.Lines()
	for lines.Next() {
		if err := fn(lines.Bytes()); err != nil {
			p.Kill()
			_ = p.Wait()
			return err
		}
	}
	if err := lines.Err(); err != nil {
		p.Kill()
		_ = p.Wait()
		return fmt.Errorf("failed reading dissector output: %w", err)
	}
	return p.Wait()
}

// Version runs the dissector with -v and returns the first output line.
func (e *Executor) Version(ctx context.Context) (string, error) {
	var first string
	err := e.Run(ctx, []string{"-v"}, func(line []byte) error {
		if first == "" {
			first = strings.TrimSpace(string(line))
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return first, nil
}

// Process is a running dissector.
type Process struct {
	binary string
	cmd    *exec.Cmd
	ctx    context.Context
	cancel context.CancelFunc
	lines  *LineReader
	stderr *tailBuffer
	start  time.Time

	waitOnce sync.Once
	waitErr  error
}

// Lines returns the stdout line reader.
func (p *Process) Lines() *LineReader {
	return p.lines
}

// Pid returns the operating system process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Stderr returns the captured tail of standard error so far.
func (p *Process) Stderr() string {
	return p.stderr.String()
}

// Kill terminates the process. It is safe to call more than once.
func (p *Process) Kill() {
	p.cancel()
}

// Close kills the process; it lets a Process serve as an ingest line source.
func (p *Process) Close() error {
	p.Kill()
	return nil
}

// Wait reaps the process and reports failures as *ProcessError. Call it
// after Lines is exhausted.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		ctxErr := p.ctx.Err()
		p.cancel()

		elapsed := time.Since(p.start)
		if err == nil {
			logger.Debug("Dissector exited", "binary", p.binary, "elapsed", elapsed)
			return
		}

		// Kill may cancel the context before the deadline propagates, so an
		// elapsed deadline decides between timeout and cancellation.
		timedOut := errors.Is(ctxErr, context.DeadlineExceeded)
		if dl, ok := p.ctx.Deadline(); ok && ctxErr != nil && !time.Now().Before(dl) {
			timedOut = true
		}
		perr := &ProcessError{
			Binary:   p.binary,
			ExitCode: -1,
			Stderr:   p.stderr.String(),
			TimedOut: timedOut,
			Canceled: ctxErr != nil && !timedOut,
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.Exited() {
			perr.ExitCode = exitErr.ExitCode()
		}
		logger.Error("Dissector failed",
			"binary", p.binary,
			"exit_code", perr.ExitCode,
			"timed_out", perr.TimedOut,
			"canceled", perr.Canceled,
			"elapsed", elapsed,
			"stderr", perr.Stderr)
		p.waitErr = perr
	})
	return p.waitErr
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu        sync.Mutex
	buf       []byte
	max       int
	truncated bool
}

func newTailBuffer(max int) *tailBuffer {
	return &tailBuffer{max: max}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(p)
	if len(p) >= t.max {
		t.buf = append(t.buf[:0], p[len(p)-t.max:]...)
		t.truncated = true
		return n, nil
	}
	if over := len(t.buf) + len(p) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
		t.truncated = true
	}
	t.buf = append(t.buf, p...)
	return n, nil
}

// String returns the buffered text as valid UTF-8.
func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := strings.ToValidUTF8(string(t.buf), "\uFFFD")
	if t.truncated {
		// Drop the partial first line.
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		}
	}
	return s
}
