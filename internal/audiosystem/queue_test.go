package audiosystem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestRawAudioQueue_PopIsByteExactFIFO(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := NewRawAudioQueue(0)
		defer h.Close()

		n := rapid.IntRange(1, 8).Draw(t, "buffers")
		var want []byte
		for i := 0; i < n; i++ {
			data := rapid.SliceOfN(rapid.Byte(), 0, 64).Draw(t, "data")
			h.PushBuffer(NewRawAudioBuffer(data, FormatU8, 8000))
			want = append(want, data...)
		}

		var got []byte
		for {
			chunkSize := rapid.IntRange(1, 17).Draw(t, "chunk")
			chunk, _, _, ok := h.PopBytes(chunkSize)
			if !ok || len(chunk) == 0 {
				if h.NoBytes() {
					break
				}
				continue
			}
			got = append(got, chunk...)
			if h.NoBytes() {
				break
			}
		}

		assert.Equal(t, want, got)
	})
}

func TestRawAudioQueue_PushBufferDropsOldestOnOverflow(t *testing.T) {
	maxDur := ClockTimeFromDuration(0).Add(ClockTime(1_000_000_000)) // 1 second
	h := NewRawAudioQueue(maxDur)
	defer h.Close()

	// Each buffer is 0.5s at the format/rate used.
	mkBuf := func(tag byte) RawAudioBuffer {
		bytes := make([]byte, 8000) // 4000 samples @ S16LE, 8000Hz = 0.5s
		for i := range bytes {
			bytes[i] = tag
		}
		return NewRawAudioBuffer(bytes, FormatS16LE, 8000)
	}

	h.PushBuffer(mkBuf(1))
	h.PushBuffer(mkBuf(2))
	assert.LessOrEqual(t, h.Duration(), maxDur)

	h.PushBuffer(mkBuf(3))
	assert.LessOrEqual(t, h.Duration(), maxDur)

	data, _, _, ok := h.PopBytes(1)
	assert.True(t, ok)
	// The oldest buffer (tag 1) should have been dropped by now.
	assert.NotEqual(t, byte(1), data[0])
}

func TestRawAudioQueueHandle_PopBytesWithPropsRejectsMismatch(t *testing.T) {
	h := NewRawAudioQueue(0)
	defer h.Close()

	h.PushBuffer(NewRawAudioBuffer([]byte{1, 2, 3, 4}, FormatS16LE, 48000))

	_, ok := h.PopBytesWithProps(2, FormatU8, 48000)
	assert.False(t, ok, "format mismatch must not pop")

	_, ok = h.PopBytesWithProps(2, FormatS16LE, 44100)
	assert.False(t, ok, "rate mismatch must not pop")

	data, ok := h.PopBytesWithProps(2, FormatS16LE, 48000)
	assert.True(t, ok)
	assert.Equal(t, []byte{1, 2}, data)
}

func TestRawAudioQueueHandle_RefCounting(t *testing.T) {
	h := NewRawAudioQueue(0)
	assert.Equal(t, int32(1), h.Refs())

	clone := h.Clone()
	assert.Equal(t, int32(2), h.Refs())

	clone.Close()
	assert.Equal(t, int32(1), h.Refs())

	h.Close()
	assert.Equal(t, int32(0), h.Refs())
}
