package settlement

import (
	"fmt"
	"time"

	"gitlab.com/nevasik7/alerting/logger"

	"pulseoracle/internal/domain"
	"pulseoracle/internal/twap"
)

// DefaultRoundDuration is one daily round.
const DefaultRoundDuration = 24 * time.Hour

type Config struct {
	// EpochAnchor is the unix-seconds origin rounds are counted from.
	// Zero anchors rounds to the unix epoch, which aligns daily rounds to
	// midnight UTC.
	EpochAnchor int64 `yaml:"epoch_anchor"`

	// RoundDurationHours is the round length; 0 means 24h.
	RoundDurationHours int64 `yaml:"round_duration_hours"`
}

// Info derives settlement timing from the wall clock and round configuration.
// Pure; safe from any goroutine.
//
// Floor division toward negative infinity keeps the result well-defined for
// now before the epoch anchor. The effective window is capped at the round
// duration so a short round cannot produce a window overlapping the previous
// settlement.
func Info(now, epochAnchor, roundDuration, twapWindowSecs int64) domain.SettlementInfo {
	roundsElapsed := floorDiv(now-epochAnchor, roundDuration)
	nextSettlement := epochAnchor + (roundsElapsed+1)*roundDuration
	secondsToSettlement := nextSettlement - now

	effectiveWindow := twapWindowSecs
	if roundDuration < effectiveWindow {
		effectiveWindow = roundDuration
	}

	twapWindowStart := nextSettlement - effectiveWindow
	secondsToTwapWindow := twapWindowStart - now
	if secondsToTwapWindow < 0 {
		secondsToTwapWindow = 0
	}

	return domain.SettlementInfo{
		NextSettlement:      nextSettlement,
		TwapWindowStart:     twapWindowStart,
		SecondsToTwapWindow: secondsToTwapWindow,
		SecondsToSettlement: secondsToSettlement,
		InTwapWindow:        secondsToSettlement > 0 && secondsToSettlement <= effectiveWindow,
	}
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// Clock wraps Info with the static round configuration. Its only mutable
// state is the previous in-window flag, kept for edge-triggered transition
// logging; it is driven from the single ticker goroutine.
type Clock struct {
	log logger.Logger

	epochAnchor    int64
	roundDuration  int64
	twapWindowSecs int64

	lastInWindow bool
}

func NewClock(log logger.Logger, cfg *Config, twapWindowSecs int64) (*Clock, error) {
	roundDuration := int64(DefaultRoundDuration / time.Second)
	epochAnchor := int64(0)

	if cfg != nil {
		if cfg.RoundDurationHours < 0 {
			return nil, fmt.Errorf("round duration must be positive, got %dh", cfg.RoundDurationHours)
		}
		if cfg.RoundDurationHours > 0 {
			roundDuration = cfg.RoundDurationHours * 3600
		}
		epochAnchor = cfg.EpochAnchor
	}

	if twapWindowSecs <= 0 {
		twapWindowSecs = twap.DefaultWindowSecs
	}

	return &Clock{
		log:            log,
		epochAnchor:    epochAnchor,
		roundDuration:  roundDuration,
		twapWindowSecs: twapWindowSecs,
	}, nil
}

// Tick recomputes the settlement info for now and logs window transitions.
func (c *Clock) Tick(now int64) domain.SettlementInfo {
	info := Info(now, c.epochAnchor, c.roundDuration, c.twapWindowSecs)

	if info.InTwapWindow && !c.lastInWindow {
		c.log.Infof("TWAP settlement window is now ACTIVE (settles at %d)", info.NextSettlement)
	} else if !info.InTwapWindow && c.lastInWindow {
		c.log.Info("TWAP settlement window has ended")
	}
	c.lastInWindow = info.InTwapWindow

	return info
}

// Snapshot computes the settlement info for now without touching the
// transition state; safe from any goroutine.
func (c *Clock) Snapshot(now int64) domain.SettlementInfo {
	return Info(now, c.epochAnchor, c.roundDuration, c.twapWindowSecs)
}

// RoundDuration exposes the configured round length in seconds.
func (c *Clock) RoundDuration() int64 {
	return c.roundDuration
}
