package audiosystem

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// passthroughDecoder is a Decoder backend that treats its payload as raw
// S16LE PCM already, for exercising the pipeline end to end without a real
// codec.
type passthroughDecoder struct {
	pending []TimestampedRawAudioBuffer
	eos     bool
}

func (d *passthroughDecoder) Push(buf EncodedAudioBuffer) error {
	raw := NewRawAudioBuffer(append([]byte(nil), buf.Payload...), FormatS16LE, buf.Header.SampleRate)
	d.pending = append(d.pending, TimestampedRawAudioBuffer{Raw: raw, StartTS: buf.StartTS})
	return nil
}

func (d *passthroughDecoder) Pull() (TimestampedRawAudioBuffer, bool) {
	if len(d.pending) == 0 {
		return TimestampedRawAudioBuffer{}, false
	}
	out := d.pending[0]
	d.pending = d.pending[1:]
	return out, true
}

func (d *passthroughDecoder) PushEOS() { d.eos = true }
func (d *passthroughDecoder) IsEOS() bool { return d.eos }

func TestPipeline_EndToEndDeliversAudioToSink(t *testing.T) {
	clock := NewFakeClock(0)
	slave := NewSlaveClock(clock, clock)
	mic := &mockMic{}

	p := NewPipeline(&passthroughDecoder{}, mic, clock, slave, 0)
	assert.NoError(t, p.Start())
	defer p.Stop()

	// Twice the prefill threshold: the synchronizer rounds the buffer's
	// duration down and may shave a sample, so exactly minPrefillBytes
	// would land just under the threshold.
	payload := make([]byte, 2*minPrefillBytes)
	for i := range payload {
		payload[i] = byte(i)
	}
	p.Demuxer.Push(frame(CodecOpus, 48000, 0, payload))

	// One tick per stage boundary is enough to walk a single buffer all
	// the way from demuxer input to the sink's queue, since Tick runs
	// every stage once in dependency order.
	for i := 0; i < 3; i++ {
		assert.NoError(t, p.Tick())
	}

	assert.Equal(t, 1, mic.opens, "sink should have opened the microphone once audio reached it")
	assert.True(t, p.Sink.Queue().HasBytes())
}

func TestPipeline_NotificationsReachSupervisor(t *testing.T) {
	clock := NewFakeClock(0)
	slave := NewSlaveClock(clock, clock)
	mic := &mockMic{}

	p := NewPipeline(&passthroughDecoder{}, mic, clock, slave, 0)
	assert.NoError(t, p.Start())
	defer p.Stop()

	var seen []Notification
	sys := NewSystem(p, func(n Notification) { seen = append(seen, n) })

	sys.Push(MuxedAudioBuffer([]byte{1, 2})) // too short to hold a header
	assert.NoError(t, sys.Tick())

	assert.Len(t, seen, 1)
	_, ok := seen[0].(FrameTooShort)
	assert.True(t, ok)
}
