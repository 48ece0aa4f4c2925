// Package ffmpeg builds and supervises ffmpeg processes that remux or
// transcode upstream sources into MPEG-TS on stdout. Argument profiles are
// assembled per source protocol; the process lifecycle follows a graceful
// stop protocol (SIGTERM, grace period, SIGKILL) so partially written TS
// packets are flushed before teardown.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

const (
	// stopGracePeriod is how long a SIGTERM'd process gets to exit before
	// it is killed.
	stopGracePeriod = 5 * time.Second

	// stderrTailSize is the number of recent stderr lines retained for
	// diagnostics on abnormal exit.
	stderrTailSize = 100
)

// ErrNotStarted is returned by lifecycle methods invoked before Start.
var ErrNotStarted = errors.New("ffmpeg: process not started")

// Builder assembles an ffmpeg argument list. Arguments are grouped into
// zones that ffmpeg is ordering-sensitive about: global flags, input flags
// (which must precede -i), the input, filters, output flags, and the output
// target. Build emits them in that order.
type Builder struct {
	binary     string
	logLevel   string
	globalArgs []string
	inputArgs  []string
	input      string
	filters    []string
	outputArgs []string
	output     string
}

// NewBuilder creates a Builder for the given ffmpeg binary path.
func NewBuilder(binary string) *Builder {
	return &Builder{
		binary:   binary,
		logLevel: "error",
	}
}

// LogLevel sets the -loglevel value (default "error").
func (b *Builder) LogLevel(level string) *Builder {
	if level != "" {
		b.logLevel = level
	}
	return b
}

// GlobalArgs appends flags that apply to the whole invocation.
func (b *Builder) GlobalArgs(args ...string) *Builder {
	b.globalArgs = append(b.globalArgs, args...)
	return b
}

// InputArgs appends flags that must appear before -i.
func (b *Builder) InputArgs(args ...string) *Builder {
	b.inputArgs = append(b.inputArgs, args...)
	return b
}

// Input sets the input URL.
func (b *Builder) Input(url string) *Builder {
	b.input = url
	return b
}

// VideoFilter appends a -vf filter expression. Multiple filters are joined
// with commas in the order added.
func (b *Builder) VideoFilter(expr string) *Builder {
	if expr != "" {
		b.filters = append(b.filters, expr)
	}
	return b
}

// OutputArgs appends flags that apply to the output.
func (b *Builder) OutputArgs(args ...string) *Builder {
	b.outputArgs = append(b.outputArgs, args...)
	return b
}

// Output sets the output target, typically "pipe:1".
func (b *Builder) Output(target string) *Builder {
	b.output = target
	return b
}

// Reconnect enables automatic reconnection for HTTP(S) inputs.
func (b *Builder) Reconnect() *Builder {
	return b.InputArgs(
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
	)
}

// UserAgent sets the HTTP User-Agent for the input.
func (b *Builder) UserAgent(ua string) *Builder {
	if ua != "" {
		b.InputArgs("-user_agent", ua)
	}
	return b
}

// Headers adds raw HTTP request headers for the input. Each header must be
// a full "Name: value" line; ffmpeg expects them CRLF-joined in a single
// -headers value.
func (b *Builder) Headers(lines []string) *Builder {
	if len(lines) > 0 {
		b.InputArgs("-headers", strings.Join(lines, "\r\n")+"\r\n")
	}
	return b
}

// CopyCodecs passes video and audio through without re-encoding.
func (b *Builder) CopyCodecs() *Builder {
	return b.OutputArgs("-c:v", "copy", "-c:a", "copy")
}

// MpegtsOutput configures the MPEG-TS muxer for progressive delivery:
// regenerated timestamps, immediate packet flushing, and a deep muxing
// queue so bursty inputs do not stall the muxer.
func (b *Builder) MpegtsOutput() *Builder {
	return b.OutputArgs(
		"-f", "mpegts",
		"-fflags", "+genpts",
		"-flush_packets", "1",
		"-muxdelay", "0",
		"-max_muxing_queue_size", "1024",
	)
}

// Build returns the full argument vector in zone order.
func (b *Builder) Build() []string {
	args := make([]string, 0, 16+len(b.globalArgs)+len(b.inputArgs)+len(b.outputArgs))
	args = append(args, "-hide_banner", "-loglevel", b.logLevel, "-nostats")
	args = append(args, b.globalArgs...)
	args = append(args, "-y")
	args = append(args, b.inputArgs...)
	if b.input != "" {
		args = append(args, "-i", b.input)
	}
	if len(b.filters) > 0 {
		args = append(args, "-vf", strings.Join(b.filters, ","))
	}
	args = append(args, b.outputArgs...)
	if b.output != "" {
		args = append(args, b.output)
	}
	return args
}

// Encoder creates an ffmpeg command from the builder state.
func (b *Builder) Encoder() *Encoder {
	return &Encoder{
		Binary: b.binary,
		Args:   b.Build(),
		logger: slog.Default().With(slog.String("component", "ffmpeg")),
	}
}

// Encoder is a single supervised ffmpeg process writing MPEG-TS to stdout.
// Start it once; read output from Stdout until EOF; Stop tears it down with
// SIGTERM, waits up to the grace period, then kills.
type Encoder struct {
	Binary string
	Args   []string

	// OnStderr, when set before Start, receives every stderr line with
	// its classified severity. Called from the capture goroutine.
	OnStderr func(line string, severity Severity)

	logger *slog.Logger

	mu        sync.Mutex
	cmd       *exec.Cmd
	stdout    io.ReadCloser
	startedAt time.Time
	monitor   *ProcessMonitor
	stderr    *stderrLog

	done    chan struct{}
	waitErr error
}

// String returns the full command line for logging.
func (e *Encoder) String() string {
	return e.Binary + " " + strings.Join(e.Args, " ")
}

// Start launches the process and begins stderr capture and resource
// monitoring. Cancelling ctx triggers the same graceful stop protocol as
// Stop.
func (e *Encoder) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.cmd != nil {
		return fmt.Errorf("ffmpeg: already started")
	}
	if e.logger == nil {
		e.logger = slog.Default().With(slog.String("component", "ffmpeg"))
	}

	cmd := exec.CommandContext(ctx, e.Binary, e.Args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = stopGracePeriod

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg: start: %w", err)
	}

	e.cmd = cmd
	e.stdout = stdout
	e.startedAt = time.Now()
	e.stderr = newStderrLog(stderrTailSize)
	e.stderr.onLine = e.OnStderr
	e.monitor = NewProcessMonitor(cmd.Process.Pid)
	e.monitor.Start()
	e.done = make(chan struct{})

	e.logger.Debug("Encoder started",
		slog.Int("pid", cmd.Process.Pid),
		slog.String("command", e.String()))

	stderrDone := make(chan struct{})
	go func() {
		defer close(stderrDone)
		e.stderr.consume(stderr)
	}()

	go func() {
		err := cmd.Wait()
		<-stderrDone
		e.monitor.Stop()
		e.waitErr = err
		close(e.done)
	}()

	return nil
}

// Stdout returns the process output stream. Valid after Start.
func (e *Encoder) Stdout() io.Reader {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stdout
}

// Wait blocks until the process exits and returns its exit error, if any.
func (e *Encoder) Wait() error {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return ErrNotStarted
	}
	<-done
	return e.waitErr
}

// Stop terminates the process: SIGTERM first so ffmpeg can flush its muxer,
// then SIGKILL if it has not exited within the grace period. Safe to call
// concurrently and after exit.
func (e *Encoder) Stop() error {
	e.mu.Lock()
	cmd, done := e.cmd, e.done
	e.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return nil
	}

	select {
	case <-done:
		return e.waitErr
	default:
	}

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already reaped between the check and the signal.
		<-done
		return e.waitErr
	}

	select {
	case <-done:
	case <-time.After(stopGracePeriod):
		e.logger.Warn("Encoder ignored SIGTERM, killing",
			slog.Int("pid", cmd.Process.Pid))
		_ = cmd.Process.Kill()
		<-done
	}
	return e.waitErr
}

// Running reports whether the process has started and not yet exited.
func (e *Encoder) Running() bool {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// PID returns the process ID, or 0 before Start.
func (e *Encoder) PID() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cmd == nil || e.cmd.Process == nil {
		return 0
	}
	return e.cmd.Process.Pid
}

// Uptime returns how long the process has been running.
func (e *Encoder) Uptime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startedAt.IsZero() {
		return 0
	}
	return time.Since(e.startedAt)
}

// Stats returns a snapshot of process resource usage, or nil before Start.
func (e *Encoder) Stats() *ProcessStats {
	e.mu.Lock()
	monitor := e.monitor
	e.mu.Unlock()
	if monitor == nil {
		return nil
	}
	stats := monitor.Stats()
	return &stats
}

// Monitor exposes the process monitor so delivery loops can report the
// bytes they copy out of Stdout.
func (e *Encoder) Monitor() *ProcessMonitor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.monitor
}

// StderrTail returns the most recent stderr lines.
func (e *Encoder) StderrTail() []string {
	e.mu.Lock()
	stderr := e.stderr
	e.mu.Unlock()
	if stderr == nil {
		return nil
	}
	return stderr.tail()
}

// LastError returns the most recent stderr line classified as an error, or
// "" if none was seen.
func (e *Encoder) LastError() string {
	e.mu.Lock()
	stderr := e.stderr
	e.mu.Unlock()
	if stderr == nil {
		return ""
	}
	return stderr.lastError()
}

// ExitReason summarizes an exit error together with captured stderr context
// for session end diagnostics.
func (e *Encoder) ExitReason(err error) string {
	if err == nil {
		return "exited cleanly"
	}
	if last := e.LastError(); last != "" {
		return fmt.Sprintf("%v: %s", err, last)
	}
	return err.Error()
}
