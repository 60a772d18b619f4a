package audiosystem

import (
	"fmt"
	"time"
)

// RawAudioFormat is the ordered enum of sample encodings the pipeline can
// carry. Order matters only for readability; bytes-per-sample is a pure
// function of the variant (spec.md §3 invariant).
type RawAudioFormat int

const (
	FormatUnspecified RawAudioFormat = iota
	FormatU8
	FormatS16LE
	FormatS16BE
	FormatS24LE
	FormatS24BE
	FormatS32LE
	FormatS32BE
	FormatF32LE
	FormatF32BE
)

// BytesPerSample returns the size in bytes of one sample in this format.
func (f RawAudioFormat) BytesPerSample() int {
	switch f {
	case FormatU8:
		return 1
	case FormatS16LE, FormatS16BE:
		return 2
	case FormatS24LE, FormatS24BE:
		return 3
	case FormatS32LE, FormatS32BE, FormatF32LE, FormatF32BE:
		return 4
	default:
		return 0
	}
}

func (f RawAudioFormat) String() string {
	switch f {
	case FormatU8:
		return "U8"
	case FormatS16LE:
		return "S16LE"
	case FormatS16BE:
		return "S16BE"
	case FormatS24LE:
		return "S24LE"
	case FormatS24BE:
		return "S24BE"
	case FormatS32LE:
		return "S32LE"
	case FormatS32BE:
		return "S32BE"
	case FormatF32LE:
		return "F32LE"
	case FormatF32BE:
		return "F32BE"
	default:
		return "Unspecified"
	}
}

// CodecTag identifies the codec used to encode a stream. Opus is
// mandatory (spec.md §6); the tag space is otherwise open to extension.
type CodecTag uint8

const (
	CodecOpus CodecTag = 1
)

func (c CodecTag) String() string {
	switch c {
	case CodecOpus:
		return "opus"
	default:
		return fmt.Sprintf("codec(%d)", uint8(c))
	}
}

// MuxedAudioBuffer is an opaque byte vector as it arrives off the network:
// a codec+rate header, a start timestamp, and a payload, framed as
// described in spec.md §4.1. It is produced by the link and destroyed
// after demuxing.
type MuxedAudioBuffer []byte

// EncodedAudioHeader identifies the codec and sample rate of an encoded
// stream. It is a small value type, copied by reference wherever it
// travels alongside a buffer.
type EncodedAudioHeader struct {
	Codec      CodecTag
	SampleRate uint32 // Hz
}

// EncodedAudioBuffer is produced by the demuxer and consumed by the
// decoder: a header, an optional start timestamp, and the codec payload.
type EncodedAudioBuffer struct {
	Header  EncodedAudioHeader
	StartTS *ClockTime
	Payload []byte
}

// IsEndOfStream reports whether this buffer is the end-of-stream sentinel
// (a zero-value header with a nil payload).
func (b EncodedAudioBuffer) IsEndOfStream() bool {
	return b.Payload == nil && b.StartTS == nil && b.Header == EncodedAudioHeader{}
}

// EndOfStream returns the end-of-stream sentinel EncodedAudioBuffer.
func EndOfStream() EncodedAudioBuffer {
	return EncodedAudioBuffer{}
}

// RawAudioBuffer is a raw PCM byte vector tagged with its sample format
// and rate. It is owned by exactly one pipeline stage at a time; ownership
// transfers by move (the owning stage stops touching it once sent
// downstream).
type RawAudioBuffer struct {
	Bytes      []byte
	Format     RawAudioFormat
	SampleRate uint32
}

// NewRawAudioBuffer constructs a RawAudioBuffer. bytes must be a multiple
// of format.BytesPerSample(); the pipeline's producers (decoder, resizer)
// are responsible for upholding this invariant.
func NewRawAudioBuffer(bytes []byte, format RawAudioFormat, sampleRate uint32) RawAudioBuffer {
	return RawAudioBuffer{Bytes: bytes, Format: format, SampleRate: sampleRate}
}

// Len returns the number of bytes held.
func (b RawAudioBuffer) Len() int {
	return len(b.Bytes)
}

// SampleCount returns len(bytes) / bytes_per_sample, or 0 if the format
// carries no size (Unspecified).
func (b RawAudioBuffer) SampleCount() int {
	bps := b.Format.BytesPerSample()
	if bps == 0 {
		return 0
	}
	return len(b.Bytes) / bps
}

// Duration returns the buffer's playback duration: sample_count /
// sample_rate, in nanoseconds, rounded toward zero when the rate does not
// evenly divide the sample count.
func (b RawAudioBuffer) Duration() ClockTime {
	if b.SampleRate == 0 {
		return 0
	}
	samples := uint64(b.SampleCount())
	return ClockTime(samples * uint64(time.Second) / uint64(b.SampleRate))
}

// SampleDuration returns the duration of exactly one sample at this
// buffer's rate, in nanoseconds (rounded toward zero).
func (b RawAudioBuffer) SampleDuration() ClockTime {
	if b.SampleRate == 0 {
		return 0
	}
	return ClockTime(uint64(time.Second) / uint64(b.SampleRate))
}

// TruncateFront drops the first n samples from the buffer in place.
func (b *RawAudioBuffer) TruncateFront(n int) {
	bps := b.Format.BytesPerSample()
	if bps == 0 || n <= 0 {
		return
	}
	cut := n * bps
	if cut >= len(b.Bytes) {
		b.Bytes = b.Bytes[:0]
		return
	}
	b.Bytes = b.Bytes[cut:]
}

// TimestampedRawAudioBuffer is a RawAudioBuffer paired with an optional
// start timestamp taken from the encoded stream's monotonic clock. Its
// duration is always derived from Raw; it is never stored redundantly.
type TimestampedRawAudioBuffer struct {
	Raw     RawAudioBuffer
	StartTS *ClockTime
}

// IsEndOfStream reports whether this is the end-of-stream sentinel.
func (b TimestampedRawAudioBuffer) IsEndOfStream() bool {
	return b.StartTS == nil && b.Raw.Bytes == nil && b.Raw.Format == FormatUnspecified
}

// TimestampedEndOfStream returns the end-of-stream sentinel.
func TimestampedEndOfStream() TimestampedRawAudioBuffer {
	return TimestampedRawAudioBuffer{}
}

// Duration forwards to the underlying raw buffer.
func (b TimestampedRawAudioBuffer) Duration() ClockTime {
	return b.Raw.Duration()
}

// ResizableRawAudioBuffer pairs a raw buffer with the exact sample count
// the resizer must produce from it. Produced by the synchronizer,
// consumed by the resizer.
type ResizableRawAudioBuffer struct {
	Raw             RawAudioBuffer
	DesiredSamples  int
}

// NoSamples returns the buffer's current sample count.
func (b ResizableRawAudioBuffer) NoSamples() int {
	return b.Raw.SampleCount()
}
