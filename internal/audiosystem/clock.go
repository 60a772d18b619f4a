// Package audiosystem implements the audio reception and playout pipeline:
// demux, decode, synchronize, resize, and sink stages chained by typed
// in-memory queues, plus the slaved-clock calibration that keeps the
// pipeline's pace matched to the sink's actual consumption rate.
package audiosystem

import (
	"math/big"
	"time"
)

// ClockTime is a 64-bit nanosecond count since an arbitrary epoch. It is
// unsigned: subtraction that would go negative saturates to zero rather
// than wrapping, matching the teacher's ClockTime-as-Duration-of-Duration
// convention (client/audio.go treats timings the same way with
// time.Duration, which the stdlib itself saturates toward extremes).
type ClockTime uint64

// ClockTimeFromDuration converts a time.Duration to a ClockTime. Negative
// durations saturate to zero.
func ClockTimeFromDuration(d time.Duration) ClockTime {
	if d < 0 {
		return 0
	}
	return ClockTime(d)
}

// Duration converts t back to a time.Duration.
func (t ClockTime) Duration() time.Duration {
	return time.Duration(t)
}

// Nanos returns the raw nanosecond count.
func (t ClockTime) Nanos() uint64 {
	return uint64(t)
}

// Add returns t+o.
func (t ClockTime) Add(o ClockTime) ClockTime {
	return t + o
}

// SaturatingSub returns t-o, clamped to zero instead of wrapping when o > t.
// Property: for a >= b, a.SaturatingSub(b) + b == a; for a < b it is 0.
func (t ClockTime) SaturatingSub(o ClockTime) ClockTime {
	if t <= o {
		return 0
	}
	return t - o
}

// Less reports whether t < o.
func (t ClockTime) Less(o ClockTime) bool {
	return t < o
}

// Clock abstracts a monotonic time source so the pipeline's scheduling
// logic can be driven by a fake clock under test.
type Clock interface {
	Now() ClockTime
}

// SystemClock is a Clock backed by the host's monotonic wall clock.
type SystemClock struct {
	start time.Time
}

// NewSystemClock returns a SystemClock whose epoch is the moment it is
// created; all subsequent Now() calls report elapsed time since then.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

// Now returns elapsed nanoseconds since the clock was created.
func (c *SystemClock) Now() ClockTime {
	return ClockTimeFromDuration(time.Since(c.start))
}

// FakeClock is a manually-advanced Clock for deterministic tests.
type FakeClock struct {
	now ClockTime
}

// NewFakeClock returns a FakeClock starting at t.
func NewFakeClock(t ClockTime) *FakeClock {
	return &FakeClock{now: t}
}

// Now returns the clock's current reading.
func (c *FakeClock) Now() ClockTime {
	return c.now
}

// Set moves the clock's reading to t.
func (c *FakeClock) Set(t ClockTime) {
	c.now = t
}

// Advance moves the clock's reading forward by d.
func (c *FakeClock) Advance(d ClockTime) {
	c.now += d
}

// MinObservations is the minimum number of recorded (master, slave)
// samples before a calibration slope is computed; below this the
// calibration defaults to identity (1/1).
const MinObservations = 4

// MaxObservations bounds the ring of retained observations.
const MaxObservations = 32

// ObservationInterval is how often a SlaveClock records a new observation.
const ObservationInterval = 100 * time.Millisecond

// ClockObservation is a single (master_time, slave_time) sample recorded
// while calibrating a slaved clock against the master (system) clock.
type ClockObservation struct {
	Master ClockTime
	Slave  ClockTime
}

// ClockCalibrationInfo is the least-squares linear fit between master and
// slave time, computed from the most recent observations. A calibration
// with fewer than MinObservations samples is the identity slope 1/1.
type ClockCalibrationInfo struct {
	SlopeNum   int64
	SlopeDenom int64
	MeanMaster ClockTime
	MeanSlave  ClockTime
}

// identityCalibration is the default used until enough observations exist.
var identityCalibration = ClockCalibrationInfo{SlopeNum: 1, SlopeDenom: 1}

// ToSlaveTime maps a master-domain instant into the slave domain using
// this calibration: slave_time(t) = (t - mean_master) * denom/num + mean_slave.
func (c ClockCalibrationInfo) ToSlaveTime(t ClockTime) ClockTime {
	if c.SlopeNum == 0 {
		return t
	}
	delta := int64(t) - int64(c.MeanMaster)
	// The product can exceed int64, so it is formed at arbitrary precision.
	scaled := new(big.Int).Mul(big.NewInt(delta), big.NewInt(c.SlopeDenom))
	scaled.Quo(scaled, big.NewInt(c.SlopeNum))
	result := int64(c.MeanSlave) + scaled.Int64()
	if result < 0 {
		return 0
	}
	return ClockTime(result)
}

// ToMasterTime maps a slave-domain instant into the master domain:
// master_time(t) = (t - mean_slave) * num/denom + mean_master.
func (c ClockCalibrationInfo) ToMasterTime(t ClockTime) ClockTime {
	if c.SlopeDenom == 0 {
		return t
	}
	delta := int64(t) - int64(c.MeanSlave)
	scaled := new(big.Int).Mul(big.NewInt(delta), big.NewInt(c.SlopeNum))
	scaled.Quo(scaled, big.NewInt(c.SlopeDenom))
	result := int64(c.MeanMaster) + scaled.Int64()
	if result < 0 {
		return 0
	}
	return ClockTime(result)
}

// ScaleDuration stretches a master-domain duration into the slave domain
// by the inverse slope (denom/num), as the synchronizer does in §4.3.1.j:
// a buffer's intended duration, produced on the host, is re-expressed in
// however many sink-domain nanoseconds the sink will actually consume.
func (c ClockCalibrationInfo) ScaleDuration(d ClockTime) ClockTime {
	if c.SlopeNum == 0 {
		return d
	}
	scaled := new(big.Int).Mul(new(big.Int).SetUint64(uint64(d)), big.NewInt(c.SlopeDenom))
	scaled.Quo(scaled, big.NewInt(c.SlopeNum))
	if scaled.Sign() < 0 {
		return 0
	}
	return ClockTime(scaled.Uint64())
}

// SlaveClock wraps a base clock (typically a sink's playback-position
// reading) and periodically records (master_time, slave_time)
// observations so the synchronizer can track drift between the two.
type SlaveClock interface {
	// RecordObservation samples the master and base clocks and stores
	// the pair in the calibration ring.
	RecordObservation()
	// CalibrationInfo returns the current least-squares fit.
	CalibrationInfo() ClockCalibrationInfo
	// Master returns the master clock's current reading.
	Master() ClockTime
	// SlaveTime returns the base clock's current reading.
	SlaveTime() ClockTime
}

// slaveClock is the concrete SlaveClock: a ring of observations
// recalculated into a calibration on every new sample once
// MinObservations samples exist.
type slaveClock struct {
	master Clock
	base   Clock

	observations []ClockObservation // bounded ring, oldest first
	calibration  ClockCalibrationInfo
}

// NewSlaveClock returns a SlaveClock observing base against master.
func NewSlaveClock(master, base Clock) SlaveClock {
	return &slaveClock{
		master:      master,
		base:        base,
		calibration: identityCalibration,
	}
}

func (s *slaveClock) RecordObservation() {
	obs := ClockObservation{Master: s.master.Now(), Slave: s.base.Now()}

	// Same-nanosecond observations collapse safely: recording is
	// idempotent-ish per spec.md §5, so skip an exact duplicate of the
	// most recent sample rather than skewing the ring with it.
	if n := len(s.observations); n > 0 && s.observations[n-1] == obs {
		return
	}

	s.observations = append(s.observations, obs)
	if len(s.observations) > MaxObservations {
		s.observations = s.observations[len(s.observations)-MaxObservations:]
	}

	if len(s.observations) >= MinObservations {
		s.calibration = computeCalibration(s.observations)
	}
}

func (s *slaveClock) CalibrationInfo() ClockCalibrationInfo {
	return s.calibration
}

func (s *slaveClock) Master() ClockTime {
	return s.master.Now()
}

func (s *slaveClock) SlaveTime() ClockTime {
	return s.base.Now()
}

// computeCalibration performs an integer least-squares fit of master time
// as a function of slave time over the given observations, per
// spec.md §4.3.2:
//
//	slope_num   = Σ(master·slave) − N·mean(master)·mean(slave)
//	slope_denom = Σ(slave·slave)  − N·mean(slave)²
func computeCalibration(obs []ClockObservation) ClockCalibrationInfo {
	n := int64(len(obs))

	var sumMaster, sumSlave, sumMasterSlave, sumSlaveSlave int64
	for _, o := range obs {
		m, s := int64(o.Master), int64(o.Slave)
		sumMaster += m
		sumSlave += s
		sumMasterSlave += m * s
		sumSlaveSlave += s * s
	}

	meanMaster := sumMaster / n
	meanSlave := sumSlave / n

	slopeNum := sumMasterSlave - n*meanMaster*meanSlave
	slopeDenom := sumSlaveSlave - n*meanSlave*meanSlave

	if slopeNum == 0 || slopeDenom == 0 {
		return ClockCalibrationInfo{
			SlopeNum:   1,
			SlopeDenom: 1,
			MeanMaster: ClockTime(meanMaster),
			MeanSlave:  ClockTime(meanSlave),
		}
	}

	return ClockCalibrationInfo{
		SlopeNum:   slopeNum,
		SlopeDenom: slopeDenom,
		MeanMaster: ClockTime(meanMaster),
		MeanSlave:  ClockTime(meanSlave),
	}
}

// Timer fires once per interval when polled with IsTimeOut; used by the
// synchronizer to pace SlaveClock.RecordObservation calls without
// spawning a goroutine per element (spec.md §5's cooperative scheduling).
type Timer struct {
	interval time.Duration
	clock    Clock
	next     ClockTime
	started  bool
}

// NewTimer returns a Timer that fires every interval, measured against clock.
func NewTimer(clock Clock, interval time.Duration) *Timer {
	return &Timer{interval: interval, clock: clock}
}

// IsTimeOut reports whether the interval has elapsed since the last fire,
// and if so arms the next deadline. The first call always fires.
func (t *Timer) IsTimeOut() bool {
	now := t.clock.Now()
	if !t.started {
		t.started = true
		t.next = now.Add(ClockTimeFromDuration(t.interval))
		return true
	}
	if now.Less(t.next) {
		return false
	}
	t.next = now.Add(ClockTimeFromDuration(t.interval))
	return true
}
