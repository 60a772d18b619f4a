package audiosystem

// Resizer adapts a buffer's sample count to exactly what the synchronizer
// computed the sink needs, by one of five strategies depending on the ratio
// of desired to available samples (spec.md §4.4, grounded in
// original_source's resizer.rs ratio-based bins):
//
//   - equal:                         pass through unchanged.
//   - desired <= 3/4 * available:    discard — drop the front of the excess
//     outright, no averaging.
//   - 3/4 * available < desired < available: downsample by windowed
//     averaging (too few samples are being dropped for a hard cut to be
//     inaudible, so averaging preserves energy instead).
//   - available <= desired < 4/3 * available: upsample by linear
//     interpolation between adjacent samples.
//   - desired >= 4/3 * available, or available == 0: treat interpolation as
//     unreliable and pad with silence instead.
type Resizer struct {
	Notifier

	input  <-chan ResizableRawAudioBuffer
	output chan<- RawAudioBuffer

	pendingOut []RawAudioBuffer
}

// NewResizer returns a Resizer with no channels wired yet.
func NewResizer() *Resizer {
	return &Resizer{}
}

// SetInput wires the channel this stage reads resize requests from.
func (r *Resizer) SetInput(in <-chan ResizableRawAudioBuffer) {
	r.input = in
}

// SetOutput wires the channel this stage writes resized buffers to.
func (r *Resizer) SetOutput(out chan<- RawAudioBuffer) {
	r.output = out
}

// Start is a no-op; the resizer holds no backend resources.
func (r *Resizer) Start() error { return nil }

// Update drains available resize requests and forwards the resized result.
// A result that cannot be sent because the output is momentarily full is
// held in pendingOut and retried ahead of newer results on the next call,
// rather than dropped.
func (r *Resizer) Update() error {
	r.flushPending()

	if r.input == nil {
		return nil
	}
drain:
	for {
		select {
		case req := <-r.input:
			out := Resize(req)
			if r.output == nil {
				continue
			}
			select {
			case r.output <- out:
			default:
				r.pendingOut = append(r.pendingOut, out)
			}
		default:
			break drain
		}
	}
	return nil
}

// flushPending retries sending buffers held back by previous backpressure,
// stopping at the first one that still can't be sent to preserve order.
func (r *Resizer) flushPending() {
	if r.output == nil {
		return
	}
	for len(r.pendingOut) > 0 {
		select {
		case r.output <- r.pendingOut[0]:
			r.pendingOut = r.pendingOut[1:]
		default:
			return
		}
	}
}

// Stop is a no-op; the resizer carries no state across buffers.
func (r *Resizer) Stop() {}

// Resize implements the bin selection of spec.md §4.4 as a pure function,
// independent of the channel-driven Stage wrapper so it is directly
// testable.
func Resize(req ResizableRawAudioBuffer) RawAudioBuffer {
	have := req.NoSamples()
	want := req.DesiredSamples

	switch {
	case want == have:
		return req.Raw
	case want == 0:
		raw := req.Raw
		raw.Bytes = raw.Bytes[:0]
		return raw
	case have == 0:
		return addSilence(req.Raw, want)
	case want < have:
		// want*4 <= have*3  <=>  want <= 3/4*have
		if want*4 <= have*3 {
			return discard(req.Raw, want)
		}
		return downsample(req.Raw, want)
	case want*3 < have*4:
		// want < 4/3*have
		return upsample(req.Raw, want)
	default:
		return addSilence(req.Raw, want)
	}
}

// discard drops the front (have-want) samples outright, for the case where
// so many samples are being shed that averaging them would gain nothing.
func discard(raw RawAudioBuffer, want int) RawAudioBuffer {
	bps := raw.Format.BytesPerSample()
	if bps == 0 || want <= 0 {
		raw.Bytes = raw.Bytes[:0]
		return raw
	}
	have := raw.SampleCount()
	raw.TruncateFront(have - want)
	return raw
}

// downsample collapses have samples into want (want < have) by averaging
// each output sample over its proportional window of input samples.
func downsample(raw RawAudioBuffer, want int) RawAudioBuffer {
	bps := raw.Format.BytesPerSample()
	if bps == 0 || want <= 0 {
		raw.Bytes = raw.Bytes[:0]
		return raw
	}
	have := raw.SampleCount()

	out := make([]int64, want)
	counts := make([]int, want)
	for i := 0; i < have; i++ {
		bin := i * want / have
		if bin >= want {
			bin = want - 1
		}
		out[bin] += int64(readSample(raw.Bytes, i, raw.Format))
		counts[bin]++
	}

	buf := make([]byte, want*bps)
	for i := 0; i < want; i++ {
		avg := int64(0)
		if counts[i] > 0 {
			avg = out[i] / int64(counts[i])
		}
		writeSample(buf, i, raw.Format, avg)
	}
	return NewRawAudioBuffer(buf, raw.Format, raw.SampleRate)
}

// upsample stretches have samples to want (have < want < 4/3*have) by
// linearly interpolating between each pair of adjacent source samples.
func upsample(raw RawAudioBuffer, want int) RawAudioBuffer {
	bps := raw.Format.BytesPerSample()
	have := raw.SampleCount()
	if bps == 0 || have == 0 {
		return addSilence(raw, want)
	}

	buf := make([]byte, want*bps)
	for i := 0; i < want; i++ {
		idx, frac := interpPosition(i, want, have)
		a := readSample(raw.Bytes, idx, raw.Format)
		b := a
		if idx+1 < have {
			b = readSample(raw.Bytes, idx+1, raw.Format)
		}
		v := a + (b-a)*frac/1000
		writeSample(buf, i, raw.Format, v)
	}
	return NewRawAudioBuffer(buf, raw.Format, raw.SampleRate)
}

// interpPosition maps output sample i of want total onto a source index
// and a permille (0-1000) fractional offset toward the next source sample.
func interpPosition(i, want, have int) (idx int, fracPermille int64) {
	if want <= 1 {
		return 0, 0
	}
	// Position in source-sample units, scaled by 1000 to keep this integer.
	scaled := int64(i) * int64(have-1) * 1000 / int64(want-1)
	idx = int(scaled / 1000)
	fracPermille = scaled % 1000
	if idx >= have {
		idx = have - 1
		fracPermille = 0
	}
	return idx, fracPermille
}

// addSilence pads raw with zero samples until it holds want samples.
func addSilence(raw RawAudioBuffer, want int) RawAudioBuffer {
	bps := raw.Format.BytesPerSample()
	if bps == 0 {
		return raw
	}
	targetLen := want * bps
	if len(raw.Bytes) >= targetLen {
		raw.Bytes = raw.Bytes[:targetLen]
		return raw
	}
	buf := make([]byte, targetLen)
	copy(buf, raw.Bytes)
	raw.Bytes = buf
	return raw
}

// readSample reads the i-th sample of format f as a sign-extended int64,
// per original_source's per-sample tagged arithmetic (resizer.rs's Sample
// enum), re-expressed here as plain integer ops on the native width.
func readSample(b []byte, i int, f RawAudioFormat) int64 {
	bps := f.BytesPerSample()
	off := i * bps
	if off+bps > len(b) {
		return 0
	}
	switch f {
	case FormatU8:
		return int64(b[off]) - 128
	case FormatS16LE:
		return int64(int16(uint16(b[off]) | uint16(b[off+1])<<8))
	case FormatS16BE:
		return int64(int16(uint16(b[off+1]) | uint16(b[off])<<8))
	case FormatS24LE:
		v := uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16
		return int64(signExtend24(v))
	case FormatS24BE:
		v := uint32(b[off+2]) | uint32(b[off+1])<<8 | uint32(b[off])<<16
		return int64(signExtend24(v))
	case FormatS32LE:
		v := uint32(b[off]) | uint32(b[off+1])<<8 | uint32(b[off+2])<<16 | uint32(b[off+3])<<24
		return int64(int32(v))
	case FormatS32BE:
		v := uint32(b[off+3]) | uint32(b[off+2])<<8 | uint32(b[off+1])<<16 | uint32(b[off])<<24
		return int64(int32(v))
	default:
		return 0
	}
}

// writeSample writes v (as produced by readSample) back into b at sample
// index i in format f, wrapping on overflow the same way the native width
// would; wraparound correctness for out-of-range v is the caller's burden.
func writeSample(b []byte, i int, f RawAudioFormat, v int64) {
	bps := f.BytesPerSample()
	off := i * bps
	if off+bps > len(b) {
		return
	}
	switch f {
	case FormatU8:
		b[off] = byte(v + 128)
	case FormatS16LE:
		u := uint16(int16(v))
		b[off], b[off+1] = byte(u), byte(u>>8)
	case FormatS16BE:
		u := uint16(int16(v))
		b[off], b[off+1] = byte(u>>8), byte(u)
	case FormatS24LE:
		u := uint32(v) & 0xFFFFFF
		b[off], b[off+1], b[off+2] = byte(u), byte(u>>8), byte(u>>16)
	case FormatS24BE:
		u := uint32(v) & 0xFFFFFF
		b[off], b[off+1], b[off+2] = byte(u>>16), byte(u>>8), byte(u)
	case FormatS32LE:
		u := uint32(int32(v))
		b[off], b[off+1], b[off+2], b[off+3] = byte(u), byte(u>>8), byte(u>>16), byte(u>>24)
	case FormatS32BE:
		u := uint32(int32(v))
		b[off], b[off+1], b[off+2], b[off+3] = byte(u>>24), byte(u>>16), byte(u>>8), byte(u)
	}
}

func signExtend24(v uint32) int32 {
	if v&0x800000 != 0 {
		return int32(v | 0xFF000000)
	}
	return int32(v)
}

