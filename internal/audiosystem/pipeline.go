package audiosystem

// channelCapacity bounds every inter-stage channel. It is large enough
// to absorb one scheduling tick's worth of buffers without blocking a
// producer stage, per spec.md §5's "elements never block on send".
const channelCapacity = 64

// Pipeline wires the five fixed stages into a chain of typed channels:
// Demuxer -> Decoder -> Synchronizer -> Resizer -> Sink. It owns every
// stage and the channels between them, and drains one shared notification
// sideband.
type Pipeline struct {
	Demuxer      *Demuxer
	Decoder      *DecoderStage
	Synchronizer *Synchronizer
	Resizer      *Resizer
	Sink         *SinkStage

	notifications chan Notification
}

// NewPipeline chains the given stages together. mic and clocks are
// supplied by the caller so tests can substitute fakes (spec.md §4.3.2's
// slaved clock and §4.5's microphone backend are both swappable).
func NewPipeline(decoderBackend Decoder, mic VirtualMicrophone, hostClock Clock, slaveClk SlaveClock, queueMaxDuration ClockTime) *Pipeline {
	p := &Pipeline{
		Demuxer:      NewDemuxer(),
		Decoder:      NewDecoderStage(decoderBackend),
		Synchronizer: NewSynchronizer(hostClock, slaveClk),
		Resizer:      NewResizer(),
		Sink:         NewSinkStage(mic, queueMaxDuration),

		notifications: make(chan Notification, channelCapacity),
	}

	encoded := make(chan EncodedAudioBuffer, channelCapacity)
	decoded := make(chan TimestampedRawAudioBuffer, channelCapacity)
	resizable := make(chan ResizableRawAudioBuffer, channelCapacity)
	resized := make(chan RawAudioBuffer, channelCapacity)

	p.Demuxer.SetOutput(encoded)
	p.Decoder.SetInput(encoded)
	p.Decoder.SetOutput(decoded)
	p.Synchronizer.SetInput(decoded)
	p.Synchronizer.SetOutput(resizable)
	p.Resizer.SetInput(resizable)
	p.Resizer.SetOutput(resized)
	p.Sink.SetInput(resized)

	for _, n := range p.notifiers() {
		n.SetNotificationSink(p.notifications)
	}

	return p
}

// notifiers returns every stage that can raise a Notification.
func (p *Pipeline) notifiers() []*Notifier {
	return []*Notifier{&p.Demuxer.Notifier, &p.Decoder.Notifier, &p.Synchronizer.Notifier, &p.Resizer.Notifier, &p.Sink.Notifier}
}

// stagesLeafFirst orders the pipeline's stages for startup/teardown:
// leaves (the sink, which owns the externally-visible device) first on
// Stop, and data sources first on Start, matching spec.md §5's dependency
// ordering. Update runs in the same order every tick so a buffer produced
// this tick can be consumed by its downstream neighbor in the same pass.
func (p *Pipeline) stagesLeafFirst() []Stage {
	return []Stage{p.Demuxer, p.Decoder, p.Synchronizer, p.Resizer, p.Sink}
}

// Start opens every stage in pipeline order.
func (p *Pipeline) Start() error {
	for _, s := range p.stagesLeafFirst() {
		if err := s.Start(); err != nil {
			return err
		}
	}
	return nil
}

// Tick runs one update pass across every stage in pipeline order, so data
// pushed into the demuxer this tick can reach the sink in the same call.
func (p *Pipeline) Tick() error {
	for _, s := range p.stagesLeafFirst() {
		if err := s.Update(); err != nil {
			return err
		}
	}
	return nil
}

// Stop tears every stage down in reverse pipeline order, so downstream
// consumers have already stopped pulling before their upstream producers
// are torn down.
func (p *Pipeline) Stop() {
	stages := p.stagesLeafFirst()
	for i := len(stages) - 1; i >= 0; i-- {
		stages[i].Stop()
	}
}

// Notifications exposes the shared sideband channel for the supervisor to
// drain.
func (p *Pipeline) Notifications() <-chan Notification {
	return p.notifications
}

// System is the top-level supervisor (spec.md §9's AudioSystem): it owns
// one Pipeline, feeds it muxed input from the network link, and drains
// notifications into a logging sink every tick.
type System struct {
	pipeline *Pipeline
	onNotify func(Notification)
}

// NewSystem returns a System driving pipeline, calling onNotify for every
// notification drained each Tick.
func NewSystem(pipeline *Pipeline, onNotify func(Notification)) *System {
	return &System{pipeline: pipeline, onNotify: onNotify}
}

// Push feeds one muxed network buffer into the pipeline's demuxer.
func (s *System) Push(buf MuxedAudioBuffer) {
	s.pipeline.Demuxer.Push(buf)
}

// Start opens the pipeline.
func (s *System) Start() error {
	return s.pipeline.Start()
}

// Tick runs one pipeline pass and drains any notifications it raised.
func (s *System) Tick() error {
	if err := s.pipeline.Tick(); err != nil {
		return err
	}
	s.drainNotifications()
	return nil
}

// Stop tears the pipeline down after a final notification drain.
func (s *System) Stop() {
	s.drainNotifications()
	s.pipeline.Stop()
}

func (s *System) drainNotifications() {
	if s.onNotify == nil {
		return
	}
	for {
		select {
		case n := <-s.pipeline.Notifications():
			s.onNotify(n)
		default:
			return
		}
	}
}

// Pipeline exposes the underlying Pipeline for callers that need direct
// access (stats reporting, tests).
func (s *System) Pipeline() *Pipeline {
	return s.pipeline
}
