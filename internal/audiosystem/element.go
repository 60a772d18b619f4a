package audiosystem

// Notification is the typed sideband message an element raises instead of
// returning an error across a stage boundary (spec.md §7: "errors never
// cross an element boundary as exceptions; they become typed notifications
// on the sideband channel").
type Notification interface {
	notification()
}

// FrameTooShort is raised when a MuxedAudioBuffer is too small to contain
// a full frame header.
type FrameTooShort struct{ Len int }

func (FrameTooShort) notification() {}

// UnknownCodec is raised when a mux frame names a codec tag the demuxer
// does not recognize.
type UnknownCodec struct{ Tag CodecTag }

func (UnknownCodec) notification() {}

// DecoderFailed is raised when the decoder plugin reports a fatal,
// non-recoverable backend error. The supervisor should request upstream
// restart so the remote sender resends a stream header.
type DecoderFailed struct{ Err error }

func (DecoderFailed) notification() {}

// SinkFormatMismatch is raised when the queue's front buffer format does
// not match what the sink callback negotiated, producing a zero-filled
// span for the requested callback.
type SinkFormatMismatch struct {
	Requested RawAudioFormat
	ActualFmt RawAudioFormat
}

func (SinkFormatMismatch) notification() {}

// RestartStream asks the supervisor to signal the remote sender to
// prepend a fresh stream header, following a stream-level reset.
type RestartStream struct{ Reason string }

func (RestartStream) notification() {}

// Notifier is embedded by elements that raise notifications onto a shared
// sideband channel. The channel is buffered and non-blocking on send:
// slow notification consumers must never stall the data path.
type Notifier struct {
	out chan<- Notification
}

// SetNotificationSink wires the element's outgoing notification channel.
func (n *Notifier) SetNotificationSink(out chan<- Notification) {
	n.out = out
}

// Notify raises a notification, dropping it silently if nobody is
// listening or the sideband channel is momentarily full.
func (n *Notifier) Notify(note Notification) {
	if n.out == nil {
		return
	}
	select {
	case n.out <- note:
	default:
	}
}

// Stage is the lifecycle contract every pipeline element satisfies:
// start/update/stop, matching spec.md §5's "one update pass per tick
// across elements in dependency order".
type Stage interface {
	// Start prepares the stage to begin processing (opening backend
	// resources, priming state). Called in pipeline order, demuxer first.
	Start() error
	// Update drains available input and forwards what it produces. It
	// must not block: elements suspend only by returning.
	Update() error
	// Stop tears the stage down. Called leaf-first; in-flight buffers
	// are drained or dropped per spec.md §5.
	Stop()
}
