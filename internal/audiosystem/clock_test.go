package audiosystem

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestClockTime_SaturatingSub(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := ClockTime(rapid.Uint64().Draw(t, "a"))
		b := ClockTime(rapid.Uint64().Draw(t, "b"))

		lo, hi := a, b
		if b < a {
			lo, hi = b, a
		}

		assert.Equal(t, hi, hi.SaturatingSub(lo).Add(lo))
	})
}

func TestTimer_FiresOnFirstPollThenWaitsInterval(t *testing.T) {
	clock := NewFakeClock(0)
	timer := NewTimer(clock, 100*time.Millisecond)

	assert.True(t, timer.IsTimeOut(), "first poll always fires")
	assert.False(t, timer.IsTimeOut(), "second immediate poll should not fire")

	clock.Advance(ClockTimeFromDuration(99 * time.Millisecond))
	assert.False(t, timer.IsTimeOut())

	clock.Advance(ClockTimeFromDuration(2 * time.Millisecond))
	assert.True(t, timer.IsTimeOut())
}

func TestSlaveClock_IdentityBeforeMinObservations(t *testing.T) {
	master := NewFakeClock(0)
	base := NewFakeClock(0)
	sc := NewSlaveClock(master, base)

	for i := 0; i < MinObservations-1; i++ {
		master.Advance(ClockTimeFromDuration(10 * time.Millisecond))
		base.Advance(ClockTimeFromDuration(10 * time.Millisecond))
		sc.RecordObservation()
	}

	info := sc.CalibrationInfo()
	assert.Equal(t, identityCalibration.SlopeNum, info.SlopeNum)
	assert.Equal(t, identityCalibration.SlopeDenom, info.SlopeDenom)
}

func TestSlaveClock_TracksConstantDrift(t *testing.T) {
	master := NewFakeClock(0)
	base := NewFakeClock(0)
	sc := NewSlaveClock(master, base)

	// Slave clock runs at half the master's rate.
	for i := 0; i < MaxObservations; i++ {
		master.Advance(ClockTimeFromDuration(20 * time.Millisecond))
		base.Advance(ClockTimeFromDuration(10 * time.Millisecond))
		sc.RecordObservation()
	}

	info := sc.CalibrationInfo()
	master5s := ClockTimeFromDuration(5 * time.Second)
	slave5s := info.ToSlaveTime(master5s)

	// Allow generous tolerance: integer least squares over a short ring.
	want := ClockTimeFromDuration(2500 * time.Millisecond)
	diff := int64(slave5s) - int64(want)
	if diff < 0 {
		diff = -diff
	}
	assert.Lessf(t, diff, int64(200*time.Millisecond), "expected slave-domain mapping near %v, got %v", want, slave5s)
}

func TestCalibration_ObservationRingIsBounded(t *testing.T) {
	master := NewFakeClock(0)
	base := NewFakeClock(0)
	sc := NewSlaveClock(master, base).(*slaveClock)

	for i := 0; i < MaxObservations*3; i++ {
		master.Advance(ClockTimeFromDuration(10 * time.Millisecond))
		base.Advance(ClockTimeFromDuration(10 * time.Millisecond))
		sc.RecordObservation()
	}

	assert.LessOrEqual(t, len(sc.observations), MaxObservations)
}
