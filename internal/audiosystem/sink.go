package audiosystem

import "github.com/gordonklaus/portaudio"

// VirtualMicrophone is the contract a playout backend implements
// (spec.md §4.5): it owns a RawAudioQueueHandle it pulls from on its own
// callback thread, and it reports the format/rate it actually negotiated
// with the OS so the pipeline can detect drift between what was produced
// and what is being consumed.
type VirtualMicrophone interface {
	// Open negotiates a concrete format/rate with the OS and starts the
	// callback thread pulling from queue.
	Open(queue RawAudioQueueHandle, format RawAudioFormat, rate uint32) error
	// Format reports the format/rate actually negotiated, which the
	// producer side must match or have the resizer convert to.
	Format() (RawAudioFormat, uint32)
	// Close stops the callback thread and releases OS resources.
	Close() error
}

// minPrefillBytes is how much audio SinkStage insists on holding in the
// queue before it lets VirtualMicrophone start pulling, absorbing the
// first burst of network jitter before playout begins (spec.md §4.5).
const minPrefillBytes = 4096

// SinkStage is the pipeline's tail: it buffers resized audio into a
// RawAudioQueue that VirtualMicrophone's own callback thread drains
// independently of the cooperative Update() loop driving the rest of the
// pipeline (spec.md §5's "sink runs on a foreign thread").
type SinkStage struct {
	Notifier

	queue  RawAudioQueueHandle
	mic    VirtualMicrophone
	input  <-chan RawAudioBuffer
	opened bool
}

// NewSinkStage returns a SinkStage feeding mic from a fresh bounded queue.
func NewSinkStage(mic VirtualMicrophone, maxDuration ClockTime) *SinkStage {
	return &SinkStage{
		queue: NewRawAudioQueue(maxDuration),
		mic:   mic,
	}
}

// SetInput wires the channel this stage reads resized buffers from.
func (s *SinkStage) SetInput(in <-chan RawAudioBuffer) {
	s.input = in
}

// Queue returns the handle VirtualMicrophone's callback pulls from. It is
// also the handle other components (stats reporting, tests) observe.
func (s *SinkStage) Queue() RawAudioQueueHandle {
	return s.queue
}

// Start is a no-op; the microphone device opens lazily once the queue has
// enough audio to absorb startup jitter (see Update).
func (s *SinkStage) Start() error { return nil }

// Update drains resized buffers into the queue and opens the microphone
// device once the prefill threshold is reached.
func (s *SinkStage) Update() error {
	if s.input != nil {
	drain:
		for {
			select {
			case buf := <-s.input:
				s.queue.PushBuffer(buf)
			default:
				break drain
			}
		}
	}

	if !s.opened && s.queue.TotalBytes() >= minPrefillBytes {
		format, rate := mustFront(s.queue)
		if err := s.mic.Open(s.queue.Clone(), format, rate); err != nil {
			return err
		}
		if actualFmt, _ := s.mic.Format(); actualFmt != format {
			s.Notify(SinkFormatMismatch{Requested: format, ActualFmt: actualFmt})
		}
		s.opened = true
	}
	return nil
}

// Stop closes the microphone device, if it was opened.
func (s *SinkStage) Stop() {
	if s.opened {
		s.mic.Close()
		s.opened = false
	}
}

func mustFront(q RawAudioQueueHandle) (RawAudioFormat, uint32) {
	format, _ := q.FrontFormat()
	rate, _ := q.FrontSampleRate()
	return format, rate
}

// PortAudioSink is the default VirtualMicrophone, a pull-driven callback
// stream grounded in the callback-constructor form of portaudio.OpenDefaultStream
// (not the teacher's own blocking Read/Write loop, which spec.md's
// foreign-thread callback requirement rules out). On underrun it emits
// silence rather than blocking the audio thread.
type PortAudioSink struct {
	stream     *portaudio.Stream
	queue      RawAudioQueueHandle
	format     RawAudioFormat
	sampleRate uint32
	underruns  uint64
}

// NewPortAudioSink returns an unopened PortAudioSink.
func NewPortAudioSink() *PortAudioSink {
	return &PortAudioSink{}
}

// Open starts a PortAudio output stream whose callback pulls exactly the
// number of bytes it is handed each tick from queue, zero-filling any
// shortfall rather than stalling the OS's audio thread.
func (p *PortAudioSink) Open(queue RawAudioQueueHandle, format RawAudioFormat, rate uint32) error {
	p.queue = queue
	p.format = format
	p.sampleRate = rate

	callback := func(out []int16) {
		samples := 0
		for samples < len(out) {
			data, ok := p.queue.PopBytesWithProps((len(out)-samples)*2, p.format, p.sampleRate)
			if !ok {
				break
			}
			for i := 0; i+1 < len(data); i += 2 {
				out[samples] = int16(uint16(data[i]) | uint16(data[i+1])<<8)
				samples++
			}
		}
		if samples < len(out) {
			p.underruns++
		}
		for i := samples; i < len(out); i++ {
			out[i] = 0
		}
	}

	stream, err := portaudio.OpenDefaultStream(0, 1, float64(rate), framesPerCallback, callback)
	if err != nil {
		return err
	}
	if err := stream.Start(); err != nil {
		return err
	}
	p.stream = stream
	return nil
}

// framesPerCallback is the fixed callback buffer size requested from
// PortAudio, matching the 20ms-at-48kHz framing the rest of the pipeline
// assumes for steady-state latency.
const framesPerCallback = 960

// Format reports the format/rate negotiated in Open. PortAudio's
// int16-stream API always yields S16LE.
func (p *PortAudioSink) Format() (RawAudioFormat, uint32) {
	return FormatS16LE, p.sampleRate
}

// Close stops and releases the underlying PortAudio stream.
func (p *PortAudioSink) Close() error {
	if p.stream == nil {
		return nil
	}
	if err := p.stream.Stop(); err != nil {
		return err
	}
	return p.stream.Close()
}

// Underruns returns the running count of callback invocations that could
// not be fully satisfied from the queue.
func (p *PortAudioSink) Underruns() uint64 {
	return p.underruns
}
