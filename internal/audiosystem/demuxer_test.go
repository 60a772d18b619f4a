package audiosystem

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func frame(codec CodecTag, rate uint32, startNanos uint64, payload []byte) MuxedAudioBuffer {
	buf := make([]byte, frameHeaderLen+len(payload))
	buf[0] = byte(codec)
	binary.BigEndian.PutUint32(buf[1:5], rate)
	binary.BigEndian.PutUint64(buf[5:13], startNanos)
	copy(buf[13:], payload)
	return MuxedAudioBuffer(buf)
}

func TestDemuxer_ParsesWellFormedFrame(t *testing.T) {
	d := NewDemuxer()
	out := make(chan EncodedAudioBuffer, 4)
	d.SetOutput(out)

	payload := []byte{0xAA, 0xBB, 0xCC}
	d.Push(frame(CodecOpus, 48000, 123456789, payload))
	assert.NoError(t, d.Update())

	select {
	case buf := <-out:
		assert.Equal(t, CodecOpus, buf.Header.Codec)
		assert.Equal(t, uint32(48000), buf.Header.SampleRate)
		assert.Equal(t, ClockTime(123456789), *buf.StartTS)
		assert.Equal(t, payload, buf.Payload)
	default:
		t.Fatal("expected a parsed frame on output")
	}

	parsed, dropped := d.Stats()
	assert.Equal(t, uint64(1), parsed)
	assert.Equal(t, uint64(0), dropped)
}

func TestDemuxer_DropsFrameTooShort(t *testing.T) {
	d := NewDemuxer()
	notes := make(chan Notification, 4)
	d.SetNotificationSink(notes)

	d.Push(MuxedAudioBuffer([]byte{1, 2, 3}))
	assert.NoError(t, d.Update())

	select {
	case n := <-notes:
		_, ok := n.(FrameTooShort)
		assert.True(t, ok)
	default:
		t.Fatal("expected a FrameTooShort notification")
	}

	_, dropped := d.Stats()
	assert.Equal(t, uint64(1), dropped)
}

func TestDemuxer_DropsUnknownCodec(t *testing.T) {
	d := NewDemuxer()
	notes := make(chan Notification, 4)
	d.SetNotificationSink(notes)

	d.Push(frame(CodecTag(99), 48000, 0, []byte{1, 2}))
	assert.NoError(t, d.Update())

	select {
	case n := <-notes:
		uc, ok := n.(UnknownCodec)
		assert.True(t, ok)
		assert.Equal(t, CodecTag(99), uc.Tag)
	default:
		t.Fatal("expected an UnknownCodec notification")
	}
}

func TestDemuxer_StopForwardsEndOfStream(t *testing.T) {
	d := NewDemuxer()
	out := make(chan EncodedAudioBuffer, 1)
	d.SetOutput(out)

	d.Stop()

	select {
	case buf := <-out:
		assert.True(t, buf.IsEndOfStream())
	default:
		t.Fatal("expected end-of-stream sentinel")
	}
}
