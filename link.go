// Package audiorelay wires the audio reception pipeline to a real network
// transport and exposes the daemon-level Link and notification logging
// that cmd/audiorelayd assembles at startup.
package audiorelay

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/webtransport-go"

	"github.com/rustyguts/audiorelay/internal/audiosystem"
)

// dialTimeout bounds the WebTransport handshake; once connected the
// session-scoped context takes over, mirroring the teacher's
// connect-then-detach pattern.
const dialTimeout = 10 * time.Second

// Link is the network ingress: it dials the sending device, accepts the one
// reliable ordered WebTransport stream the device opens, and reads length-delimited
// MuxedAudioBuffers off it, forwarding each to a System. The stream itself
// is framed with a 4-byte big-endian length prefix; the bytes after that
// prefix are handed to the demuxer untouched, so the wire's own mux-frame
// header (codec tag, rate, timestamp) is never interpreted here.
type Link struct {
	mu      sync.Mutex
	session *webtransport.Session
	cancel  context.CancelFunc
}

// NewLink returns an unconnected Link.
func NewLink() *Link {
	return &Link{}
}

// Connect dials addr over WebTransport and accepts the stream the sender
// opens to push muxed audio frames on.
func (l *Link) Connect(ctx context.Context, addr string) (*webtransport.Stream, error) {
	dialCtx, dialCancel := context.WithTimeout(ctx, dialTimeout)
	defer dialCancel()

	ctx, cancel := context.WithCancel(ctx)

	d := webtransport.Dialer{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec — self-signed device cert
		QUICConfig: &quic.Config{
			EnableDatagrams: true,
		},
	}

	_, sess, err := d.Dial(dialCtx, "https://"+addr, http.Header{})
	if err != nil {
		cancel()
		return nil, err
	}

	stream, err := sess.AcceptStream(ctx)
	if err != nil {
		cancel()
		sess.CloseWithError(0, "failed to accept audio stream")
		return nil, fmt.Errorf("accept audio stream: %w", err)
	}

	l.mu.Lock()
	l.session = sess
	l.cancel = cancel
	l.mu.Unlock()

	return stream, nil
}

// Disconnect closes the underlying session, if any.
func (l *Link) Disconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel()
	}
	if l.session != nil {
		l.session.CloseWithError(0, "client disconnect")
		l.session = nil
	}
}

// Pump reads length-delimited frames off stream and pushes each as a
// MuxedAudioBuffer into sys, until the stream closes or ctx is canceled.
// Grounded in the teacher's readControl loop (client/transport.go), which
// drives the same read-parse-dispatch shape over a bufio.Reader, but
// framed by length prefix instead of newlines since mux frames are binary.
func (l *Link) Pump(ctx context.Context, stream io.Reader, sys *audiosystem.System) error {
	r := bufio.NewReaderSize(stream, 64*1024)
	var lenBuf [4]byte

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read frame length: %w", err)
		}
		n := binary.BigEndian.Uint32(lenBuf[:])

		frame := make([]byte, n)
		if _, err := io.ReadFull(r, frame); err != nil {
			return fmt.Errorf("read frame body: %w", err)
		}

		sys.Push(audiosystem.MuxedAudioBuffer(frame))
	}
}

// LogNotification renders an audiosystem.Notification the way the teacher
// logs transport events: a bracketed component tag and a one-line summary
// (client/transport.go's "[transport] invalid control msg: %v" convention).
func LogNotification(n audiosystem.Notification) {
	switch v := n.(type) {
	case audiosystem.FrameTooShort:
		log.Printf("[audio] dropped frame too short to hold a header: %d bytes", v.Len)
	case audiosystem.UnknownCodec:
		log.Printf("[audio] dropped frame with unknown codec tag %s", v.Tag)
	case audiosystem.DecoderFailed:
		log.Printf("[audio] decoder failed: %v", v.Err)
	case audiosystem.SinkFormatMismatch:
		log.Printf("[audio] sink format mismatch: requested %s, sink negotiated %s", v.Requested, v.ActualFmt)
	case audiosystem.RestartStream:
		log.Printf("[audio] requesting stream restart: %s", v.Reason)
	default:
		log.Printf("[audio] unhandled notification %T", n)
	}
}
