package stream

import (
	"bytes"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
)

// codecProbeSize is how much of the leading output is buffered for codec
// detection. Enough transport packets to carry PAT and PMT.
const codecProbeSize = 64 * 1024

// detectCodecs inspects the leading bytes of an MPEG-TS stream and names
// the first video and audio codec found. Returns empty strings when the
// data is not parseable transport stream, which callers treat as unknown.
func detectCodecs(data []byte) (video, audio string) {
	if len(data) == 0 {
		return "", ""
	}
	reader := &mpegts.Reader{R: bytes.NewReader(data)}
	if err := reader.Initialize(); err != nil {
		return "", ""
	}
	for _, track := range reader.Tracks() {
		switch track.Codec.(type) {
		case *mpegts.CodecH264:
			if video == "" {
				video = "h264"
			}
		case *mpegts.CodecH265:
			if video == "" {
				video = "h265"
			}
		case *mpegts.CodecMPEG4Audio:
			if audio == "" {
				audio = "aac"
			}
		case *mpegts.CodecAC3:
			if audio == "" {
				audio = "ac3"
			}
		case *mpegts.CodecMPEG1Audio:
			if audio == "" {
				audio = "mp3"
			}
		case *mpegts.CodecOpus:
			if audio == "" {
				audio = "opus"
			}
		}
	}
	return video, audio
}
