package ffmpeg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_ZoneOrder(t *testing.T) {
	args := NewBuilder("ffmpeg").
		GlobalArgs("-threads", "2").
		InputArgs("-rtsp_transport", "tcp").
		Input("rtsp://cam.local/s1").
		VideoFilter("scale=1280:720").
		OutputArgs("-c:v", "libx264").
		Output("pipe:1").
		Build()

	require.NotEmpty(t, args)

	global := argIndex(args, "-threads")
	inputFlag := argIndex(args, "-rtsp_transport")
	input := argIndex(args, "-i")
	filter := argIndex(args, "-vf")
	output := argIndex(args, "-c:v")

	assert.Less(t, global, inputFlag, "global args precede input args")
	assert.Less(t, inputFlag, input, "input args precede -i")
	assert.Less(t, input, filter, "filters follow the input")
	assert.Less(t, filter, output, "output args follow filters")
	assert.Equal(t, "pipe:1", args[len(args)-1])
}

func TestBuilder_FiltersJoined(t *testing.T) {
	args := NewBuilder("ffmpeg").
		Input("http://x/s").
		VideoFilter("scale=1280:720").
		VideoFilter("fps=30").
		VideoFilter(""). // dropped
		Output("pipe:1").
		Build()

	assert.Equal(t, "scale=1280:720,fps=30", argValue(t, args, "-vf"))
}

func TestBuilder_Defaults(t *testing.T) {
	args := NewBuilder("ffmpeg").Build()

	assert.Equal(t, "error", argValue(t, args, "-loglevel"))
	assert.Contains(t, args, "-hide_banner")
	assert.Contains(t, args, "-nostats")
	assert.Contains(t, args, "-y")

	// No input or output configured, none emitted.
	assert.Equal(t, -1, argIndex(args, "-i"))
}

func TestBuilder_EmptyOptionsSkipped(t *testing.T) {
	args := NewBuilder("ffmpeg").
		LogLevel("").
		UserAgent("").
		Headers(nil).
		Input("http://x/s").
		Output("pipe:1").
		Build()

	assert.Equal(t, "error", argValue(t, args, "-loglevel"))
	assert.Equal(t, -1, argIndex(args, "-user_agent"))
	assert.Equal(t, -1, argIndex(args, "-headers"))
}

func TestBuilder_HeadersCRLFJoined(t *testing.T) {
	args := NewBuilder("ffmpeg").
		Headers([]string{"A: 1", "B: 2"}).
		Input("http://x/s").
		Output("pipe:1").
		Build()

	assert.Equal(t, "A: 1\r\nB: 2\r\n", argValue(t, args, "-headers"))
}

func TestEncoder_String(t *testing.T) {
	enc := NewBuilder("/usr/bin/ffmpeg").
		Input("http://x/s").
		Output("pipe:1").
		Encoder()

	s := enc.String()
	assert.Contains(t, s, "/usr/bin/ffmpeg ")
	assert.Contains(t, s, "-i http://x/s")
}

func TestEncoder_LifecycleBeforeStart(t *testing.T) {
	enc := NewBuilder("ffmpeg").Encoder()

	assert.False(t, enc.Running())
	assert.Zero(t, enc.PID())
	assert.Zero(t, enc.Uptime())
	assert.Nil(t, enc.Stats())
	assert.Empty(t, enc.StderrTail())
	assert.ErrorIs(t, enc.Wait(), ErrNotStarted)
	assert.NoError(t, enc.Stop())
}

func TestEncoder_ExitReason(t *testing.T) {
	enc := NewBuilder("ffmpeg").Encoder()
	assert.Equal(t, "exited cleanly", enc.ExitReason(nil))

	enc.stderr = newStderrLog(4)
	enc.stderr.record("[tcp @ 0x1] Connection refused")
	assert.Equal(t, "exit status 1: [tcp @ 0x1] Connection refused",
		enc.ExitReason(errExitStatus1{}))
}

type errExitStatus1 struct{}

func (errExitStatus1) Error() string { return "exit status 1" }
