package audiosystem

import "time"

// syncState is the Fresh/Running state machine of spec.md §4.3.3: a fresh
// synchronizer accepts the first buffer's start timestamp unconditionally
// as the playout origin; a running one computes the desired play date from
// that origin and the elapsed duration already played out.
type syncState int

const (
	syncFresh syncState = iota
	syncRunning
)

// Synchronizer re-times decoded audio against the host's slaved clock: it
// establishes a playout origin on the first buffer of a stream, corrects
// for jitter by truncating whatever overlaps a buffer already scheduled,
// and stretches each buffer's declared duration into sink-domain time so
// the resizer downstream is told exactly how many samples the sink will
// actually consume (spec.md §4.3.1).
type Synchronizer struct {
	Notifier

	clock    Clock
	slaveClk SlaveClock
	obsTimer *Timer
	input    <-chan TimestampedRawAudioBuffer
	output   chan<- ResizableRawAudioBuffer

	state      syncState
	originHost ClockTime // master-domain time the current stream began playing
	originSrc  ClockTime // sender-domain timestamp of the stream's first buffer
	playedUpTo ClockTime // sender-domain timestamp up to which playout has been scheduled

	held *TimestampedRawAudioBuffer // buffer popped but not yet due, held for the next Update
}

// NewSynchronizer returns a Synchronizer pacing output against clock, using
// slaveClk's calibration to translate durations into sink-domain time.
func NewSynchronizer(clock Clock, slaveClk SlaveClock) *Synchronizer {
	return &Synchronizer{
		clock:    clock,
		slaveClk: slaveClk,
		obsTimer: NewTimer(clock, ObservationInterval),
		state:    syncFresh,
	}
}

// SetInput wires the channel this stage reads decoded buffers from.
func (s *Synchronizer) SetInput(in <-chan TimestampedRawAudioBuffer) {
	s.input = in
}

// SetOutput wires the channel this stage writes resize requests to.
func (s *Synchronizer) SetOutput(out chan<- ResizableRawAudioBuffer) {
	s.output = out
}

// Start is a no-op; the synchronizer begins Fresh and primes itself off
// the first buffer it sees.
func (s *Synchronizer) Start() error { return nil }

// Update paces SlaveClock observations and processes whatever decoded
// buffers are currently queued.
func (s *Synchronizer) Update() error {
	if s.obsTimer.IsTimeOut() {
		s.slaveClk.RecordObservation()
	}

	if s.input == nil {
		return nil
	}

drain:
	for {
		var buf TimestampedRawAudioBuffer
		if s.held != nil {
			buf = *s.held
			s.held = nil
		} else {
			select {
			case b := <-s.input:
				buf = b
			default:
				break drain
			}
		}
		if !s.process(buf) {
			// Buffer is not due yet: hold it at the front and stop, so a
			// later buffer already in the channel can't be emitted ahead
			// of it next tick.
			s.held = &buf
			break drain
		}
	}
	return nil
}

// Stop resets to Fresh; a subsequent stream starts its own playout origin.
func (s *Synchronizer) Stop() {
	s.reset()
}

// Origin returns the host-domain instant and sender-domain timestamp the
// current stream's playout began at, and whether a stream is running at
// all (false while Fresh).
func (s *Synchronizer) Origin() (host, src ClockTime, running bool) {
	return s.originHost, s.originSrc, s.state == syncRunning
}

func (s *Synchronizer) reset() {
	s.state = syncFresh
	s.originHost = 0
	s.originSrc = 0
	s.playedUpTo = 0
	s.held = nil
}

// process implements spec.md §4.3.1's per-buffer algorithm:
//
//	a. End-of-stream resets the state machine and forwards the sentinel.
//	b. A buffer with no start timestamp is forwarded as-is (undated audio
//	   is assumed contiguous with whatever preceded it).
//	c. Fresh: the buffer's timestamp becomes the playout origin in both
//	   domains; nothing is truncated.
//	d-f. Running: compute how much of the buffer's sender-domain span
//	   already overlaps what has been scheduled, and truncate that
//	   overlap off the front before forwarding; a wholly stale buffer is
//	   dropped outright.
//	g. If the buffer's desired play date (its position relative to the
//	   origin, mapped into host time) is still in the future, the buffer
//	   is not due: it is handed back to the caller to hold and retried on
//	   a later Update, without consuming anything further this tick.
//	i-j. Otherwise delay is how late the buffer already is; that lateness
//	   is subtracted from the sink-domain duration before the resizer is
//	   told the exact output sample count to produce.
//	k-l. playedUpTo moves to the end of the buffer's sender-domain span
//	   (start timestamp plus pre-truncation duration) so the next buffer's
//	   overlap is computed against it.
//
// process returns false when the buffer was not due yet and must be held;
// the caller must not advance past it until it is re-offered and returns
// true.
func (s *Synchronizer) process(buf TimestampedRawAudioBuffer) bool {
	if buf.IsEndOfStream() {
		s.reset()
		s.forward(ResizableRawAudioBuffer{})
		return true
	}

	if buf.StartTS == nil {
		s.forward(s.toResizable(buf.Raw, buf.Raw.Duration()))
		return true
	}

	srcStart := *buf.StartTS
	srcEnd := srcStart.Add(buf.Raw.Duration())

	if s.state == syncFresh {
		s.state = syncRunning
		s.originHost = s.clock.Now()
		s.originSrc = srcStart
		s.playedUpTo = srcStart
	}

	raw := buf.Raw
	if srcStart.Less(s.playedUpTo) {
		overlap := s.playedUpTo.SaturatingSub(srcStart)
		overlapSamples := durationToSamples(overlap, raw.SampleRate)
		raw.TruncateFront(overlapSamples)
	}

	if srcEnd.Less(s.playedUpTo) {
		// Buffer is wholly stale (entirely before the already-scheduled
		// horizon); drop it rather than forward an empty resize request.
		s.playedUpTo = maxClockTime(s.playedUpTo, srcEnd)
		return true
	}

	effectiveStart := maxClockTime(srcStart, s.playedUpTo)
	elapsedSrc := effectiveStart.SaturatingSub(s.originSrc)
	desiredPlayDate := s.originHost.Add(s.slaveClk.CalibrationInfo().ScaleDuration(elapsedSrc))

	now := s.clock.Now()
	if now.Less(desiredPlayDate) {
		return false
	}
	delay := now.SaturatingSub(desiredPlayDate)

	remaining := srcEnd.SaturatingSub(effectiveStart)
	s.playedUpTo = srcEnd

	sinkDuration := s.slaveClk.CalibrationInfo().ScaleDuration(remaining).SaturatingSub(delay)
	s.forward(s.toResizable(raw, sinkDuration))
	return true
}

func (s *Synchronizer) toResizable(raw RawAudioBuffer, wantDuration ClockTime) ResizableRawAudioBuffer {
	desired := durationToSamples(wantDuration, raw.SampleRate)
	return ResizableRawAudioBuffer{Raw: raw, DesiredSamples: desired}
}

func (s *Synchronizer) forward(r ResizableRawAudioBuffer) {
	if s.output == nil {
		return
	}
	select {
	case s.output <- r:
	default:
	}
}

// durationToSamples converts a ClockTime duration to a sample count at
// rate Hz, rounding toward zero.
func durationToSamples(d ClockTime, rate uint32) int {
	if rate == 0 {
		return 0
	}
	return int(d.Nanos() * uint64(rate) / uint64(time.Second))
}

func maxClockTime(a, b ClockTime) ClockTime {
	if a.Less(b) {
		return b
	}
	return a
}
