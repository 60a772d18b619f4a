package audiosystem

import (
	"encoding/binary"
	"fmt"

	opus "gopkg.in/hraban/opus.v2"
)

// Decoder is the plugin contract a codec backend implements (spec.md
// §4.2). Push must detect header changes and rebuild its internal state;
// Pull returns the next available decoded buffer or ok=false if the
// backend has not produced one yet. Push returning a non-nil error is a
// fatal backend failure (spec.md §4.2 "Backend fatal"); non-fatal decode
// errors are swallowed internally and simply produce no output for that
// packet.
type Decoder interface {
	Push(EncodedAudioBuffer) error
	Pull() (TimestampedRawAudioBuffer, bool)
	PushEOS()
	IsEOS() bool
}

// DecoderStage adapts a Decoder backend to the pipeline's Stage contract:
// it drains its input channel into the backend, drains the backend's
// output into its own output channel, and turns a fatal backend error
// into DecoderFailed + RestartStream notifications (spec.md §4.2, §7).
type DecoderStage struct {
	Notifier

	backend Decoder
	input   <-chan EncodedAudioBuffer
	output  chan<- TimestampedRawAudioBuffer

	pendingOut []TimestampedRawAudioBuffer
}

// NewDecoderStage wraps backend as a pipeline stage.
func NewDecoderStage(backend Decoder) *DecoderStage {
	return &DecoderStage{backend: backend}
}

// SetInput wires the channel this stage reads EncodedAudioBuffers from.
func (s *DecoderStage) SetInput(in <-chan EncodedAudioBuffer) {
	s.input = in
}

// SetOutput wires the channel this stage writes TimestampedRawAudioBuffers to.
func (s *DecoderStage) SetOutput(out chan<- TimestampedRawAudioBuffer) {
	s.output = out
}

// Start is a no-op; backend resources are created lazily on first header.
func (s *DecoderStage) Start() error { return nil }

// Update drains available input into the backend, then drains whatever
// the backend has produced downstream. A decoded buffer that can't be sent
// because the output is momentarily full is held in pendingOut and retried
// ahead of newer ones on the next call, rather than dropped.
func (s *DecoderStage) Update() error {
	s.flushPending()

	if s.input == nil {
		return nil
	}

drain:
	for {
		select {
		case buf := <-s.input:
			if buf.IsEndOfStream() {
				s.backend.PushEOS()
				continue
			}
			if err := s.backend.Push(buf); err != nil {
				s.Notify(DecoderFailed{Err: err})
				s.Notify(RestartStream{Reason: "decoder backend failed, requesting fresh stream header"})
			}
		default:
			break drain
		}
	}

	if s.output == nil {
		return nil
	}
	for {
		out, ok := s.backend.Pull()
		if !ok {
			break
		}
		select {
		case s.output <- out:
		default:
			s.pendingOut = append(s.pendingOut, out)
		}
	}
	return nil
}

func (s *DecoderStage) flushPending() {
	if s.output == nil {
		return
	}
	for len(s.pendingOut) > 0 {
		select {
		case s.output <- s.pendingOut[0]:
			s.pendingOut = s.pendingOut[1:]
		default:
			return
		}
	}
}

// Stop pulls any remaining decoded buffers before the stage is torn down.
func (s *DecoderStage) Stop() {
	s.backend.PushEOS()
	if s.output == nil {
		return
	}
	for {
		out, ok := s.backend.Pull()
		if !ok {
			break
		}
		select {
		case s.output <- out:
		default:
		}
	}
}

// opusMaxFrameSamples is the largest Opus frame the decoder can ever
// produce: 120 ms at 48 kHz (RFC 6716 §2.1.4).
const opusMaxFrameSamples = 5760

// OpusDecoder is the mandatory codec backend (spec.md §6), grounded in
// client/audio.go's playbackLoop (opus.NewDecoder, dec.Decode,
// dec.Decode(nil, pcm) for packet-loss concealment). It decodes to
// interleaved signed 16-bit little-endian PCM.
type OpusDecoder struct {
	channels int

	header    EncodedAudioHeader
	haveDec   bool
	dec       *opus.Decoder
	pending   []TimestampedRawAudioBuffer
	eosPushed bool
}

// NewOpusDecoder returns a Decoder backend for mono Opus streams.
func NewOpusDecoder() *OpusDecoder {
	return &OpusDecoder{channels: 1}
}

// Push decodes one Opus packet. A nil Payload is treated as a signaled
// lost frame and decoded via Opus's packet-loss concealment
// (dec.Decode(nil, pcm)), matching client/audio.go's PLC fallback path.
func (d *OpusDecoder) Push(buf EncodedAudioBuffer) error {
	if !d.haveDec || d.header != buf.Header {
		old := d.header
		if err := d.onHeaderChange(old, buf.Header); err != nil {
			return err
		}
	}

	pcm := make([]int16, opusMaxFrameSamples)
	n, err := d.dec.Decode(buf.Payload, pcm)
	if err != nil {
		// Non-fatal: this packet produces no output, decoding continues.
		return nil
	}

	raw := NewRawAudioBuffer(int16ToLE(pcm[:n]), FormatS16LE, d.header.SampleRate)
	d.pending = append(d.pending, TimestampedRawAudioBuffer{Raw: raw, StartTS: buf.StartTS})
	return nil
}

// onHeaderChange rebuilds the Opus decoder for the new header, per
// spec.md §4.2's on_header_change contract. Output already decoded under
// the old header stays queued, so Pull drains it before any new output.
func (d *OpusDecoder) onHeaderChange(_, newHeader EncodedAudioHeader) error {
	d.eosPushed = false
	dec, err := opus.NewDecoder(int(newHeader.SampleRate), d.channels)
	if err != nil {
		return fmt.Errorf("rebuild opus decoder at %d Hz: %w", newHeader.SampleRate, err)
	}
	d.dec = dec
	d.haveDec = true
	d.header = newHeader
	return nil
}

// Pull returns the next decoded buffer, if one is queued.
func (d *OpusDecoder) Pull() (TimestampedRawAudioBuffer, bool) {
	if len(d.pending) == 0 {
		return TimestampedRawAudioBuffer{}, false
	}
	out := d.pending[0]
	d.pending = d.pending[1:]
	return out, true
}

// PushEOS enqueues the end-of-stream sentinel and resets decode state so
// a subsequent header starts fresh (spec.md §4.3.3's Fresh state).
func (d *OpusDecoder) PushEOS() {
	d.eosPushed = true
	d.pending = append(d.pending, TimestampedEndOfStream())
	d.haveDec = false
	d.dec = nil
	d.header = EncodedAudioHeader{}
}

// IsEOS reports whether PushEOS has been called since the last header.
func (d *OpusDecoder) IsEOS() bool {
	return d.eosPushed
}

// int16ToLE packs interleaved int16 PCM samples into little-endian bytes.
func int16ToLE(pcm []int16) []byte {
	out := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
