package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Binaries describes the located ffmpeg/ffprobe pair.
type Binaries struct {
	FFmpeg   string   `json:"ffmpeg"`
	FFprobe  string   `json:"ffprobe,omitempty"`
	Version  string   `json:"version"`
	Major    int      `json:"major"`
	Minor    int      `json:"minor"`
	HWAccels []string `json:"hwaccels,omitempty"`
}

var versionPattern = regexp.MustCompile(`^n?(\d+)\.(\d+)`)

// Locator resolves and caches the ffmpeg binary locations. Configured paths
// take precedence; otherwise PATH is searched. Results are cached so health
// checks do not spawn version probes on every request.
type Locator struct {
	ffmpegPath  string
	ffprobePath string

	mu       sync.Mutex
	cached   *Binaries
	cachedAt time.Time
	ttl      time.Duration
}

// NewLocator creates a Locator. Empty paths mean "search PATH".
func NewLocator(ffmpegPath, ffprobePath string) *Locator {
	return &Locator{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		ttl:         5 * time.Minute,
	}
}

// Locate returns the binary information, re-detecting after the cache TTL.
func (l *Locator) Locate(ctx context.Context) (*Binaries, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cached != nil && time.Since(l.cachedAt) < l.ttl {
		return l.cached, nil
	}

	info, err := l.detect(ctx)
	if err != nil {
		return nil, err
	}
	l.cached = info
	l.cachedAt = time.Now()
	return info, nil
}

// FFmpegPath returns the resolved ffmpeg path, locating on first use.
func (l *Locator) FFmpegPath(ctx context.Context) (string, error) {
	info, err := l.Locate(ctx)
	if err != nil {
		return "", err
	}
	return info.FFmpeg, nil
}

// FFprobePath returns the resolved ffprobe path, or "" when ffprobe is not
// installed. Probing is optional; stream delivery works without it.
func (l *Locator) FFprobePath(ctx context.Context) string {
	info, err := l.Locate(ctx)
	if err != nil {
		return ""
	}
	return info.FFprobe
}

func (l *Locator) detect(ctx context.Context) (*Binaries, error) {
	ffmpeg := l.ffmpegPath
	if ffmpeg == "" {
		path, err := exec.LookPath("ffmpeg")
		if err != nil {
			return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
		}
		ffmpeg = path
	}

	info := &Binaries{FFmpeg: ffmpeg}

	version, major, minor, err := readVersion(ctx, ffmpeg)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg at %s is not runnable: %w", ffmpeg, err)
	}
	info.Version = version
	info.Major = major
	info.Minor = minor

	if accels, err := DetectHWAccels(ctx, ffmpeg); err == nil {
		info.HWAccels = accels
	}

	ffprobe := l.ffprobePath
	if ffprobe == "" {
		if path, err := exec.LookPath("ffprobe"); err == nil {
			ffprobe = path
		}
	}
	info.FFprobe = ffprobe

	return info, nil
}

// readVersion parses "ffmpeg version 6.1.1 Copyright ..." from -version
// output.
func readVersion(ctx context.Context, binary string) (full string, major, minor int, err error) {
	cmd := exec.CommandContext(ctx, binary, "-version")
	output, err := cmd.Output()
	if err != nil {
		return "", 0, 0, err
	}

	for _, line := range strings.Split(string(output), "\n") {
		if !strings.HasPrefix(line, "ffmpeg version") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			break
		}
		full = fields[2]
		if m := versionPattern.FindStringSubmatch(full); len(m) == 3 {
			major, _ = strconv.Atoi(m[1])
			minor, _ = strconv.Atoi(m[2])
		}
		return full, major, minor, nil
	}
	return "", 0, 0, fmt.Errorf("unrecognized -version output")
}
