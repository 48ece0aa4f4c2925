package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncoderFor(t *testing.T) {
	tests := []struct {
		codec string
		accel string
		want  string
	}{
		{"h264", "", "libx264"},
		{"h264", "none", "libx264"},
		{"h264", "auto", "libx264"},
		{"avc", "", "libx264"},
		{"hevc", "", "libx265"},
		{"h265", "", "libx265"},
		{"vp9", "", "libvpx-vp9"},
		{"mpeg2", "", "mpeg2video"},

		{"h264", "cuda", "h264_nvenc"},
		{"h264", "nvdec", "h264_nvenc"},
		{"avc", "cuda", "h264_nvenc"},
		{"h264", "qsv", "h264_qsv"},
		{"hevc", "vaapi", "hevc_vaapi"},
		{"h265", "videotoolbox", "hevc_videotoolbox"},
		{"H264", "CUDA", "h264_nvenc"},

		// Codecs without a hardware variant fall back to software.
		{"vp9", "cuda", "libvpx-vp9"},
		{"mpeg2", "qsv", "mpeg2video"},

		// Explicit encoder names pass through.
		{"libx264", "", "libx264"},
		{"h264_v4l2m2m", "", "h264_v4l2m2m"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, EncoderFor(tt.codec, tt.accel),
			"codec=%s accel=%s", tt.codec, tt.accel)
	}
}

func TestIsHardwareEncoder(t *testing.T) {
	assert.True(t, IsHardwareEncoder("h264_nvenc"))
	assert.True(t, IsHardwareEncoder("hevc_qsv"))
	assert.True(t, IsHardwareEncoder("h264_vaapi"))
	assert.False(t, IsHardwareEncoder("libx264"))
	assert.False(t, IsHardwareEncoder("copy"))
}
