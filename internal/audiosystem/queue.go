package audiosystem

import (
	"sync"
	"sync/atomic"
)

// RawAudioQueue is the bounded FIFO of RawAudioBuffers bridging the
// pipeline's tail into the sink's pull-driven callback (spec.md §4.6).
// All operations are short and protected by a single mutex: callers must
// not hold the lock across arbitrary work (spec.md §5). The pop path is not
// allocation-free: each pop returns its bytes in a newly allocated slice.
type RawAudioQueue struct {
	mu sync.Mutex

	buffers     []RawAudioBuffer
	frontOffset int // bytes already consumed from buffers[0]

	maxDuration ClockTime // 0 means unbounded
}

// newRawAudioQueue constructs the unshared core. Use NewRawAudioQueue for
// the reference-counted handle callers should actually hold.
func newRawAudioQueue(maxDuration ClockTime) *RawAudioQueue {
	return &RawAudioQueue{maxDuration: maxDuration}
}

// RawAudioQueueHandle is a reference-counted handle onto a shared
// RawAudioQueue (spec.md §9: "never expose raw borrowed slices of its
// contents across thread boundaries"). The sink holds one strong
// reference and the virtual-microphone element holds another; Go's GC
// reclaims the underlying queue once both handles are dropped, but the
// explicit counter lets Close() assert expected ownership discipline in
// tests and lets a future owner know whether it is the last one out.
type RawAudioQueueHandle struct {
	q    *RawAudioQueue
	refs *atomic.Int32
}

// NewRawAudioQueue creates a new bounded queue and returns the first
// strong handle onto it. maxDuration of 0 means unbounded.
func NewRawAudioQueue(maxDuration ClockTime) RawAudioQueueHandle {
	refs := new(atomic.Int32)
	refs.Store(1)
	return RawAudioQueueHandle{q: newRawAudioQueue(maxDuration), refs: refs}
}

// Clone returns a new strong handle onto the same underlying queue.
func (h RawAudioQueueHandle) Clone() RawAudioQueueHandle {
	h.refs.Add(1)
	return h
}

// Close releases this handle. It does not free the queue (Go's GC does
// that once the last handle is unreachable); it exists so owners can
// assert they are done.
func (h RawAudioQueueHandle) Close() {
	h.refs.Add(-1)
}

// Refs returns the number of live strong handles.
func (h RawAudioQueueHandle) Refs() int32 {
	return h.refs.Load()
}

// PushBuffer enqueues buf. If the queue would exceed max_duration, the
// oldest buffer is dropped (spec.md §9 Open Question: drop-oldest is the
// chosen overflow policy; truncate-front is reserved for the
// synchronizer's overlap case only).
func (h RawAudioQueueHandle) PushBuffer(buf RawAudioBuffer) {
	q := h.q
	q.mu.Lock()
	defer q.mu.Unlock()

	q.buffers = append(q.buffers, buf)

	for q.maxDuration > 0 && len(q.buffers) > 1 && q.durationLocked() > q.maxDuration {
		q.buffers = q.buffers[1:]
		q.frontOffset = 0
	}
}

// FrontFormat returns the sample format of the buffer currently at the
// front of the queue, if any.
func (h RawAudioQueueHandle) FrontFormat() (RawAudioFormat, bool) {
	q := h.q
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buffers) == 0 {
		return FormatUnspecified, false
	}
	return q.buffers[0].Format, true
}

// FrontSampleRate returns the sample rate of the front buffer, if any.
func (h RawAudioQueueHandle) FrontSampleRate() (uint32, bool) {
	q := h.q
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buffers) == 0 {
		return 0, false
	}
	return q.buffers[0].SampleRate, true
}

// HasBytes reports whether any unconsumed bytes remain in the queue.
func (h RawAudioQueueHandle) HasBytes() bool {
	q := h.q
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, buf := range q.buffers {
		consumed := 0
		if i == 0 {
			consumed = q.frontOffset
		}
		if len(buf.Bytes) > consumed {
			return true
		}
	}
	return false
}

// NoBytes is the negation of HasBytes.
func (h RawAudioQueueHandle) NoBytes() bool {
	return !h.HasBytes()
}

// TotalBytes returns the number of unconsumed bytes currently held.
func (h RawAudioQueueHandle) TotalBytes() int {
	q := h.q
	q.mu.Lock()
	defer q.mu.Unlock()

	total := 0
	for i, buf := range q.buffers {
		if i == 0 {
			total += len(buf.Bytes) - q.frontOffset
			continue
		}
		total += len(buf.Bytes)
	}
	return total
}

// Duration returns the sum of held-buffer durations minus the portion
// already consumed from the front buffer (spec.md §3 invariant).
func (h RawAudioQueueHandle) Duration() ClockTime {
	q := h.q
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.durationLocked()
}

// durationLocked must be called with q.mu held.
func (q *RawAudioQueue) durationLocked() ClockTime {
	var total ClockTime
	for i, buf := range q.buffers {
		if i == 0 {
			remaining := buf
			remaining.TruncateFront(q.frontOffset / max(1, buf.Format.BytesPerSample()))
			total = total.Add(remaining.Duration())
			continue
		}
		total = total.Add(buf.Duration())
	}
	return total
}

// AvailableDuration returns max_duration minus the currently held
// duration, or a large sentinel if the queue is unbounded.
func (h RawAudioQueueHandle) AvailableDuration() ClockTime {
	q := h.q
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.maxDuration == 0 {
		return ClockTime(^uint64(0))
	}
	return q.maxDuration.SaturatingSub(q.durationLocked())
}

// PopBytes pops up to desired bytes from the front buffer. It never reads
// past the front buffer's boundary; callers loop if they need more than
// one buffer's worth. Returns ok=false if the queue is empty.
func (h RawAudioQueueHandle) PopBytes(desired int) (bytes []byte, format RawAudioFormat, rate uint32, ok bool) {
	q := h.q
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.popBytesLocked(desired)
}

// PopBytesWithProps atomically checks that the front buffer matches
// format and rate, then pops from it; returns ok=false (without popping)
// if the front buffer does not match or the queue is empty.
func (h RawAudioQueueHandle) PopBytesWithProps(desired int, format RawAudioFormat, rate uint32) ([]byte, bool) {
	q := h.q
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.buffers) == 0 {
		return nil, false
	}
	front := q.buffers[0]
	if front.Format != format || front.SampleRate != rate {
		return nil, false
	}

	bytes, _, _, ok := q.popBytesLocked(desired)
	return bytes, ok
}

// popBytesLocked must be called with q.mu held.
func (q *RawAudioQueue) popBytesLocked(desired int) ([]byte, RawAudioFormat, uint32, bool) {
	if len(q.buffers) == 0 {
		return nil, FormatUnspecified, 0, false
	}

	front := &q.buffers[0]
	available := len(front.Bytes) - q.frontOffset
	n := desired
	if n > available {
		n = available
	}

	out := make([]byte, n)
	copy(out, front.Bytes[q.frontOffset:q.frontOffset+n])
	q.frontOffset += n

	format, rate := front.Format, front.SampleRate

	if q.frontOffset >= len(front.Bytes) {
		q.buffers = q.buffers[1:]
		q.frontOffset = 0
	}

	return out, format, rate, true
}
