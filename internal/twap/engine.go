package twap

import (
	"errors"
	"fmt"
	"sync"

	"gitlab.com/nevasik7/alerting/logger"

	"pulseoracle/internal/domain"
)

const (
	// DefaultWindowSecs is the nominal TWAP look-back window (30 minutes).
	DefaultWindowSecs = 30 * 60

	// DefaultSampleIntervalSecs is the nominal spacing between accepted samples.
	DefaultSampleIntervalSecs = 1

	// MinCoverage is the fraction of expected samples required for a
	// settlement-grade TWAP.
	MinCoverage = 0.90
)

var ErrNoSamples = errors.New("no samples available for twap calculation")

// InsufficientCoverageError reports a window that exists but is too sparse to
// settle on. Callers treat it as "do not settle yet".
type InsufficientCoverageError struct {
	Actual   float64
	Required float64
}

func (e *InsufficientCoverageError) Error() string {
	return fmt.Sprintf("insufficient coverage: %.1f%% < %.1f%% required", e.Actual*100, e.Required*100)
}

type Config struct {
	WindowSecs         int64 `yaml:"window_secs"`
	SampleIntervalSecs int64 `yaml:"sample_interval_secs"`
}

// Engine accumulates per-symbol price samples and computes windowed averages.
//
// Concurrency: one writer path (Record/Prune/Clear) and many readers
// (Calculate*/SampleCount) behind a single RWMutex. Samples are appended in
// arrival order; timestamps track non-decreasing under normal operation but
// that is not enforced.
type Engine struct {
	log logger.Logger

	windowSecs         int64
	sampleIntervalSecs int64

	mu             sync.RWMutex
	samples        map[string][]domain.TwapSample
	lastSampleTime map[string]int64
}

func NewEngine(log logger.Logger, cfg *Config) *Engine {
	windowSecs := int64(DefaultWindowSecs)
	intervalSecs := int64(DefaultSampleIntervalSecs)

	if cfg != nil {
		if cfg.WindowSecs > 0 {
			windowSecs = cfg.WindowSecs
		}
		if cfg.SampleIntervalSecs > 0 {
			intervalSecs = cfg.SampleIntervalSecs
		}
	}

	return &Engine{
		log:                log,
		windowSecs:         windowSecs,
		sampleIntervalSecs: intervalSecs,
		samples:            make(map[string][]domain.TwapSample, 8),
		lastSampleTime:     make(map[string]int64, 8),
	}
}

// Record stores a sample from the update unless one was already accepted for
// the symbol less than the sample interval earlier. Returns whether a sample
// was stored; rejection has no side effect.
func (e *Engine) Record(update *domain.PriceUpdate) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if last, ok := e.lastSampleTime[update.Symbol]; ok {
		if update.PublishTime-last < e.sampleIntervalSecs {
			return false
		}
	}

	e.samples[update.Symbol] = append(e.samples[update.Symbol], domain.TwapSample{
		Price:     update.Price,
		Timestamp: update.PublishTime,
	})
	e.lastSampleTime[update.Symbol] = update.PublishTime

	e.log.Debugf("TWAP sample recorded for %s: $%.4f at %d", update.Symbol, update.Price, update.PublishTime)
	return true
}

// Calculate computes the TWAP over [windowEnd-window, windowEnd], both ends
// inclusive. The average is the unweighted mean of in-window sample prices;
// coverage is observed/expected and is not clipped. ok=false when the symbol
// has no samples at all or none fall in the window.
func (e *Engine) Calculate(symbol string, windowEnd int64) (domain.TwapResult, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return e.calculateLocked(symbol, windowEnd)
}

func (e *Engine) calculateLocked(symbol string, windowEnd int64) (domain.TwapResult, bool) {
	samples, ok := e.samples[symbol]
	if !ok {
		return domain.TwapResult{}, false
	}

	windowStart := windowEnd - e.windowSecs

	var sum float64
	var count int
	for _, s := range samples {
		if s.Timestamp >= windowStart && s.Timestamp <= windowEnd {
			sum += s.Price
			count++
		}
	}

	if count == 0 {
		e.log.Warnf("No samples found for %s in TWAP window ending at %d", symbol, windowEnd)
		return domain.TwapResult{}, false
	}

	return domain.TwapResult{
		Symbol:      symbol,
		TwapPrice:   sum / float64(count),
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		SampleCount: count,
		Coverage:    float64(count) / float64(e.expectedSamples()),
	}, true
}

// CalculateValidated is Calculate plus the settlement-grade coverage check.
func (e *Engine) CalculateValidated(symbol string, windowEnd int64) (domain.TwapResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result, ok := e.calculateLocked(symbol, windowEnd)
	if !ok {
		return domain.TwapResult{}, ErrNoSamples
	}

	if result.Coverage < MinCoverage {
		return domain.TwapResult{}, &InsufficientCoverageError{
			Actual:   result.Coverage,
			Required: MinCoverage,
		}
	}

	return result, nil
}

// CalculatePreview computes a rolling TWAP with the window ending at now.
// Unlike Calculate it never signals absence: a symbol with nothing in the
// window yields a zero-valued preview, and coverage is clipped to 1.0.
func (e *Engine) CalculatePreview(symbol string, now int64, inSettlementWindow bool) domain.TwapPreview {
	e.mu.RLock()
	defer e.mu.RUnlock()

	windowStart := now - e.windowSecs

	var sum float64
	var count int
	for _, s := range e.samples[symbol] {
		if s.Timestamp >= windowStart && s.Timestamp <= now {
			sum += s.Price
			count++
		}
	}

	if count == 0 {
		return domain.TwapPreview{
			Symbol:             symbol,
			InSettlementWindow: inSettlementWindow,
		}
	}

	coverage := float64(count) / float64(e.expectedSamples())
	if coverage > 1.0 {
		coverage = 1.0
	}

	return domain.TwapPreview{
		Symbol:             symbol,
		TwapPrice:          sum / float64(count),
		SampleCount:        count,
		Coverage:           coverage,
		InSettlementWindow: inSettlementWindow,
	}
}

// Prune drops every sample with timestamp strictly before cutoff. Idempotent;
// a no-op on an empty store.
func (e *Engine) Prune(cutoff int64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for symbol, samples := range e.samples {
		kept := samples[:0]
		for _, s := range samples {
			if s.Timestamp >= cutoff {
				kept = append(kept, s)
			}
		}
		if pruned := len(samples) - len(kept); pruned > 0 {
			e.log.Debugf("Pruned %d old samples for %s", pruned, symbol)
		}
		e.samples[symbol] = kept
	}
}

// Clear removes all state for one symbol, history and dedup timestamp both.
// Intended for post-settlement rollover.
func (e *Engine) Clear(symbol string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.samples, symbol)
	delete(e.lastSampleTime, symbol)

	e.log.Infof("Cleared TWAP samples for %s", symbol)
}

func (e *Engine) SampleCount(symbol string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	return len(e.samples[symbol])
}

// ExpectedSamples is the sample count a fully covered window would hold.
func (e *Engine) ExpectedSamples() int {
	return e.expectedSamples()
}

func (e *Engine) expectedSamples() int {
	return int(e.windowSecs / e.sampleIntervalSecs)
}

// WindowSecs exposes the configured window length for callers that derive
// prune cutoffs from it.
func (e *Engine) WindowSecs() int64 {
	return e.windowSecs
}
