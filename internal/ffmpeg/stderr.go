package ffmpeg

import (
	"bufio"
	"io"
	"strings"
	"sync"
)

// Severity classifies an ffmpeg stderr line.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
)

// errorMarkers are substrings that mark a stderr line as an error worth
// surfacing in session diagnostics. Matched case-insensitively.
var errorMarkers = []string{
	"error",
	"failed",
	"invalid data",
	"could not",
	"unable to",
	"no such file",
	"connection refused",
	"connection reset",
	"timed out",
	"timeout",
	"403 forbidden",
	"404 not found",
	"401 unauthorized",
	"server returned 5",
	"broken pipe",
	"premature end",
	"decode_slice_header",
	"non-monotonic dts",
	"access denied",
}

// warningMarkers mark lines that indicate degraded but recoverable input.
var warningMarkers = []string{
	"warning",
	"deprecated",
	"corrupt",
	"discontinuity",
	"skipping",
	"past duration",
	"dropping",
	"retry",
	"reconnect",
}

// classifyStderr assigns a severity to one stderr line.
func classifyStderr(line string) Severity {
	lower := strings.ToLower(line)
	for _, marker := range errorMarkers {
		if strings.Contains(lower, marker) {
			return SeverityError
		}
	}
	for _, marker := range warningMarkers {
		if strings.Contains(lower, marker) {
			return SeverityWarning
		}
	}
	return SeverityInfo
}

// stderrLog retains the most recent stderr lines in a bounded ring and
// remembers the last line classified as an error.
type stderrLog struct {
	mu      sync.Mutex
	lines   []string
	next    int
	wrapped bool
	lastErr string
	onLine  func(line string, severity Severity)
}

func newStderrLog(size int) *stderrLog {
	return &stderrLog{lines: make([]string, size)}
}

// consume reads lines until EOF, recording each one. Blocks; run it in its
// own goroutine.
func (l *stderrLog) consume(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)
	for scanner.Scan() {
		l.record(scanner.Text())
	}
}

func (l *stderrLog) record(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}
	severity := classifyStderr(line)

	l.mu.Lock()
	l.lines[l.next] = line
	l.next++
	if l.next == len(l.lines) {
		l.next = 0
		l.wrapped = true
	}
	if severity == SeverityError {
		l.lastErr = line
	}
	onLine := l.onLine
	l.mu.Unlock()

	if onLine != nil {
		onLine(line, severity)
	}
}

// tail returns the retained lines oldest-first.
func (l *stderrLog) tail() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.wrapped {
		out := make([]string, l.next)
		copy(out, l.lines[:l.next])
		return out
	}
	out := make([]string, 0, len(l.lines))
	out = append(out, l.lines[l.next:]...)
	out = append(out, l.lines[:l.next]...)
	return out
}

func (l *stderrLog) lastError() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}
