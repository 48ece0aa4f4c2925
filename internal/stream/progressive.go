package stream

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/asticode/go-astits"

	"github.com/plexbridge/plexbridge/internal/metrics"
	"github.com/plexbridge/plexbridge/internal/models"
)

const (
	// keepaliveInterval paces the null packets that hold the client open
	// while the upstream connection is negotiated.
	keepaliveInterval = 2 * time.Second

	// tablesEvery re-emits PAT/PMT every Nth keepalive tick so demuxers
	// that join late still sync.
	tablesEvery = 5

	// resolveRetryDelay separates attempts against single-connection
	// upstreams that refuse while a prior connection drains.
	resolveRetryDelay = 2 * time.Second

	tsPacketSize = 188
)

var (
	keepaliveOnce sync.Once
	keepaliveNull []byte
	keepalivePSI  []byte
)

// keepalivePackets returns the null packet and the PAT/PMT table packets
// shared by all progressive sessions. The tables advertise an H.264 video
// PID and an AAC audio PID, which matches what the encoder emits once the
// real stream starts.
func keepalivePackets() (nullPkt, tables []byte) {
	keepaliveOnce.Do(func() {
		keepaliveNull = buildNullPacket()

		var buf bytes.Buffer
		mux := astits.NewMuxer(context.Background(), &buf)
		if err := mux.AddElementaryStream(astits.PMTElementaryStream{
			ElementaryPID: 256,
			StreamType:    astits.StreamTypeH264Video,
		}); err != nil {
			return
		}
		if err := mux.AddElementaryStream(astits.PMTElementaryStream{
			ElementaryPID: 257,
			StreamType:    astits.StreamTypeAACAudio,
		}); err != nil {
			return
		}
		mux.SetPCRPID(256)
		if _, err := mux.WriteTables(); err != nil {
			return
		}
		keepalivePSI = buf.Bytes()
	})
	return keepaliveNull, keepalivePSI
}

// buildNullPacket returns one MPEG-TS null packet: sync byte, PID 0x1FFF,
// payload-only adaptation control, stuffing to the packet boundary.
func buildNullPacket() []byte {
	pkt := make([]byte, tsPacketSize)
	pkt[0] = 0x47
	pkt[1] = 0x1F
	pkt[2] = 0xFF
	pkt[3] = 0x10
	for i := 4; i < tsPacketSize; i++ {
		pkt[i] = 0xFF
	}
	return pkt
}

type resolveResult struct {
	url string
	err error
}

// serveProgressive handles connection-limited sources: respond immediately
// with TS headers and keepalive packets while the upstream URL resolves in
// the background, then splice in the encoder output on the same response.
func (p *Proxy) serveProgressive(w http.ResponseWriter, r *http.Request, sess *Session, st *models.Stream, kind models.StreamKind) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sess.attachCancel(cancel)

	writeTSHeaders(w)
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}

	nullPkt, tables := keepalivePackets()
	if len(tables) > 0 {
		if _, err := w.Write(tables); err != nil {
			p.manager.End(sess.ID, models.EndReasonClientDisconnect, "")
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		sess.RecordBytes(len(tables))
	}

	sess.SetPhase(PhaseResolving)
	resolved := make(chan resolveResult, 1)
	attempts := p.settings.GetInt(ctx, "streaming.reconnectAttempts", 3)
	go func() {
		url, err := p.resolveWithRetry(ctx, st.URL, attempts)
		resolved <- resolveResult{url: url, err: err}
	}()

	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	tick := 0
	for {
		select {
		case <-ctx.Done():
			p.manager.End(sess.ID, models.EndReasonClientDisconnect, "")
			return

		case res := <-resolved:
			if res.err != nil {
				p.log.Error("source resolution failed",
					slog.String("session_id", sess.ID),
					slog.String("error", res.err.Error()))
				p.manager.End(sess.ID, models.EndReasonEncoderError, "resolving source: "+res.err.Error())
				return
			}
			sess.SetPhase(PhaseStreamResolved)
			enc, err := p.startEncoder(ctx, sess, st, kind, res.url)
			if err != nil {
				p.log.Error("encoder start failed",
					slog.String("session_id", sess.ID),
					slog.String("error", err.Error()))
				p.manager.End(sess.ID, models.EndReasonEncoderError, err.Error())
				return
			}
			p.pump(ctx, w, sess, enc)
			return

		case <-ticker.C:
			tick++
			if tick%tablesEvery == 0 && len(tables) > 0 {
				if _, err := w.Write(tables); err != nil {
					p.manager.End(sess.ID, models.EndReasonClientDisconnect, "")
					return
				}
				sess.RecordBytes(len(tables))
			}
			if _, err := w.Write(nullPkt); err != nil {
				p.manager.End(sess.ID, models.EndReasonClientDisconnect, "")
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
			sess.RecordBytes(len(nullPkt))
			metrics.KeepalivePackets.Inc()
		}
	}
}

// resolveWithRetry follows redirects to the final media URL, retrying when
// the upstream refuses because its single connection slot is still draining.
func (p *Proxy) resolveWithRetry(ctx context.Context, rawURL string, attempts int) (string, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		resolved, err := p.detector.ResolveFinal(ctx, rawURL)
		if err == nil {
			return resolved, nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(resolveRetryDelay):
		}
	}
	return "", lastErr
}
