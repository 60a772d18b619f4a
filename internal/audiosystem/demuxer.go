package audiosystem

import (
	"encoding/binary"
)

// frameHeaderLen is the fixed portion of a mux frame: 1 byte codec tag,
// 4 bytes sample rate, 8 bytes start timestamp (spec.md §4.1).
const frameHeaderLen = 1 + 4 + 8

// Demuxer parses the fixed framing of incoming MuxedAudioBuffers into
// EncodedAudioBuffers. It buffers pushed input internally so it can be
// driven by the pipeline's update loop independently of the link that
// feeds it.
type Demuxer struct {
	Notifier

	output chan<- EncodedAudioBuffer

	pending    []MuxedAudioBuffer
	pendingOut []EncodedAudioBuffer

	framesParsed  uint64
	framesDropped uint64
}

// NewDemuxer returns a Demuxer with no output wired yet.
func NewDemuxer() *Demuxer {
	return &Demuxer{}
}

// SetOutput wires the channel the demuxer forwards EncodedAudioBuffers to.
func (d *Demuxer) SetOutput(out chan<- EncodedAudioBuffer) {
	d.output = out
}

// Push appends a muxed buffer to the internal FIFO. If there is no
// downstream yet, buffers simply accumulate (bounded by memory, per
// spec.md §4.1).
func (d *Demuxer) Push(buf MuxedAudioBuffer) {
	d.pending = append(d.pending, buf)
}

// Start is a no-op; the demuxer holds no backend resources.
func (d *Demuxer) Start() error { return nil }

// Update drains the internal FIFO, parsing each entry and forwarding
// successful EncodedAudioBuffers downstream. Failed parses are dropped
// and counted.
func (d *Demuxer) Update() error {
	d.drain()
	return nil
}

// Stop drains any remaining entries, then forwards the end-of-stream
// sentinel.
func (d *Demuxer) Stop() {
	d.drain()
	if d.output != nil {
		select {
		case d.output <- EndOfStream():
		default:
		}
	}
}

// drain parses everything pending and tries to forward it. A buffer that
// can't be sent because the output is momentarily full is held in
// pendingOut and retried ahead of newer ones on the next call, rather than
// dropped.
func (d *Demuxer) drain() {
	d.flushPending()

	for _, muxed := range d.pending {
		encoded, ok := d.parse(muxed)
		if !ok {
			continue
		}
		if d.output == nil {
			continue
		}
		select {
		case d.output <- encoded:
		default:
			d.pendingOut = append(d.pendingOut, encoded)
		}
	}
	d.pending = d.pending[:0]
}

func (d *Demuxer) flushPending() {
	if d.output == nil {
		return
	}
	for len(d.pendingOut) > 0 {
		select {
		case d.output <- d.pendingOut[0]:
			d.pendingOut = d.pendingOut[1:]
		default:
			return
		}
	}
}

// parse decodes the bit-exact frame layout of spec.md §4.1: 1 byte codec
// tag, 4 bytes big-endian sample rate, 8 bytes big-endian start timestamp
// in nanoseconds, then the remaining bytes as payload.
func (d *Demuxer) parse(buf MuxedAudioBuffer) (EncodedAudioBuffer, bool) {
	if len(buf) < frameHeaderLen {
		d.framesDropped++
		d.Notify(FrameTooShort{Len: len(buf)})
		return EncodedAudioBuffer{}, false
	}

	tag := CodecTag(buf[0])
	if !isKnownCodec(tag) {
		d.framesDropped++
		d.Notify(UnknownCodec{Tag: tag})
		return EncodedAudioBuffer{}, false
	}

	sampleRate := binary.BigEndian.Uint32(buf[1:5])
	startNanos := binary.BigEndian.Uint64(buf[5:13])
	payload := buf[frameHeaderLen:]

	start := ClockTime(startNanos)
	d.framesParsed++

	return EncodedAudioBuffer{
		Header: EncodedAudioHeader{
			Codec:      tag,
			SampleRate: sampleRate,
		},
		StartTS: &start,
		Payload: payload,
	}, true
}

// isKnownCodec reports whether tag names a codec the core recognizes.
// Opus is mandatory; additional tagged variants can be registered by
// decoder plugins without changing the demuxer.
func isKnownCodec(tag CodecTag) bool {
	return tag == CodecOpus
}

// Stats returns the running counts of parsed and dropped frames.
func (d *Demuxer) Stats() (parsed, dropped uint64) {
	return d.framesParsed, d.framesDropped
}
