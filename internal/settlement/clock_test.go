package settlement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	loggerCfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"
)

const (
	day    = int64(24 * 3600)
	window = int64(1800)
)

func newTestLogger() logger.Logger {
	return logger.New(loggerCfg.LoggerCfg{
		Level:  "error",
		Format: "json",
	})
}

func TestInfoMidRound(t *testing.T) {
	// 12:00 into a daily round anchored at 0
	now := 3*day + 12*3600

	info := Info(now, 0, day, window)

	assert.Equal(t, 4*day, info.NextSettlement)
	assert.Equal(t, int64(12*3600), info.SecondsToSettlement)
	assert.Equal(t, 4*day-window, info.TwapWindowStart)
	assert.Equal(t, int64(12*3600)-window, info.SecondsToTwapWindow)
	assert.False(t, info.InTwapWindow)
}

func TestInfoExactBoundary(t *testing.T) {
	// at the instant of crossing, the next round's full duration remains and
	// the window is not active (half-open at the settlement instant)
	for _, k := range []int64{0, 1, 7} {
		now := k * day
		info := Info(now, 0, day, window)

		assert.Equal(t, day, info.SecondsToSettlement, "k=%d", k)
		assert.Equal(t, (k+1)*day, info.NextSettlement, "k=%d", k)
		assert.False(t, info.InTwapWindow, "k=%d", k)
	}
}

func TestInfoInsideWindow(t *testing.T) {
	now := day - 900 // 15 minutes to settlement

	info := Info(now, 0, day, window)

	assert.True(t, info.InTwapWindow)
	assert.Equal(t, int64(900), info.SecondsToSettlement)
	assert.Equal(t, int64(0), info.SecondsToTwapWindow)
}

func TestInfoWindowOpensExactly(t *testing.T) {
	now := day - window // window start instant

	info := Info(now, 0, day, window)

	assert.True(t, info.InTwapWindow)
	assert.Equal(t, window, info.SecondsToSettlement)
	assert.Equal(t, int64(0), info.SecondsToTwapWindow)

	// one second earlier the window has not opened yet
	info = Info(now-1, 0, day, window)
	assert.False(t, info.InTwapWindow)
	assert.Equal(t, int64(1), info.SecondsToTwapWindow)
}

func TestInfoBeforeEpochAnchor(t *testing.T) {
	anchor := 100 * day
	now := anchor - 3600 // one hour before the anchor

	info := Info(now, anchor, day, window)

	// rounds_elapsed = -1, so the first settlement is the anchor itself
	assert.Equal(t, anchor, info.NextSettlement)
	assert.Equal(t, int64(3600), info.SecondsToSettlement)
	assert.False(t, info.InTwapWindow)
}

func TestInfoShortRoundCapsWindow(t *testing.T) {
	roundDuration := int64(600) // shorter than the nominal window
	now := int64(100)

	info := Info(now, 0, roundDuration, window)

	assert.Equal(t, int64(600), info.NextSettlement)
	// effective window = round duration, so the whole round is in-window
	assert.Equal(t, int64(0), info.TwapWindowStart)
	assert.True(t, info.InTwapWindow)
}

func TestInfoNonZeroAnchor(t *testing.T) {
	anchor := int64(5000)
	now := anchor + 2*day + 100

	info := Info(now, anchor, day, window)

	assert.Equal(t, anchor+3*day, info.NextSettlement)
	assert.Equal(t, day-100, info.SecondsToSettlement)
}

func TestFloorDiv(t *testing.T) {
	assert.Equal(t, int64(2), floorDiv(7, 3))
	assert.Equal(t, int64(-3), floorDiv(-7, 3))
	assert.Equal(t, int64(-1), floorDiv(-3, 3))
	assert.Equal(t, int64(0), floorDiv(0, 3))
}

func TestClockDefaults(t *testing.T) {
	c, err := NewClock(newTestLogger(), nil, 0)
	require.NoError(t, err)

	assert.Equal(t, day, c.RoundDuration())

	info := c.Tick(3*day + 100)
	assert.Equal(t, 4*day, info.NextSettlement)
}

func TestClockConfigOverride(t *testing.T) {
	c, err := NewClock(newTestLogger(), &Config{RoundDurationHours: 1, EpochAnchor: 0}, window)
	require.NoError(t, err)

	info := c.Tick(3700)
	assert.Equal(t, int64(7200), info.NextSettlement)
}

func TestClockRejectsNegativeDuration(t *testing.T) {
	_, err := NewClock(newTestLogger(), &Config{RoundDurationHours: -1}, window)
	assert.Error(t, err)
}

func TestClockWindowTransitions(t *testing.T) {
	c, err := NewClock(newTestLogger(), nil, window)
	require.NoError(t, err)

	// walk across the window boundary; Tick must not panic and must flip state
	info := c.Tick(day - window - 1)
	assert.False(t, info.InTwapWindow)

	info = c.Tick(day - window)
	assert.True(t, info.InTwapWindow)

	info = c.Tick(day)
	assert.False(t, info.InTwapWindow)
}
