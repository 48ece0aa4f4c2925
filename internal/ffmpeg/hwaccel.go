package ffmpeg

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// softwareEncoders maps generic codec names to ffmpeg software encoders.
var softwareEncoders = map[string]string{
	"h264":  "libx264",
	"avc":   "libx264",
	"hevc":  "libx265",
	"h265":  "libx265",
	"vp9":   "libvpx-vp9",
	"av1":   "libsvtav1",
	"mpeg2": "mpeg2video",
}

// hwEncoderSuffixes maps an accel name to the encoder suffix ffmpeg uses.
var hwEncoderSuffixes = map[string]string{
	"cuda":         "nvenc",
	"nvdec":        "nvenc",
	"qsv":          "qsv",
	"vaapi":        "vaapi",
	"videotoolbox": "videotoolbox",
}

// EncoderFor resolves a generic codec name ("h264") plus an acceleration
// choice to a concrete ffmpeg encoder ("h264_nvenc"). Unknown codec names
// pass through untouched so explicit encoder names keep working. "auto" and
// "" fall back to the software encoder; runtime accel probing happens at
// startup, not per session.
func EncoderFor(codec, accel string) string {
	codec = strings.ToLower(strings.TrimSpace(codec))

	if suffix, ok := hwEncoderSuffixes[strings.ToLower(accel)]; ok {
		base := codec
		if base == "avc" {
			base = "h264"
		}
		if base == "h265" {
			base = "hevc"
		}
		if base == "h264" || base == "hevc" {
			return base + "_" + suffix
		}
	}

	if sw, ok := softwareEncoders[codec]; ok {
		return sw
	}
	return codec
}

// IsHardwareEncoder reports whether an encoder name targets a hardware
// backend.
func IsHardwareEncoder(encoder string) bool {
	for _, suffix := range hwEncoderSuffixes {
		if strings.HasSuffix(encoder, "_"+suffix) {
			return true
		}
	}
	return false
}

// DetectHWAccels lists the hardware acceleration methods the binary was
// built with. The list reflects compile-time support; a method may still
// fail at runtime without the matching device.
func DetectHWAccels(ctx context.Context, binary string) ([]string, error) {
	cmd := exec.CommandContext(ctx, binary, "-hide_banner", "-hwaccels")
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: listing hwaccels: %w", err)
	}

	var accels []string
	inList := false
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "Hardware acceleration methods:" {
			inList = true
			continue
		}
		if inList && line != "" {
			accels = append(accels, line)
		}
	}
	return accels, nil
}
