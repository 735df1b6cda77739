package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"gitlab.com/nevasik7/alerting/logger"
	"golang.org/x/sync/errgroup"

	"pulseoracle/internal/bus"
	"pulseoracle/internal/domain"
	"pulseoracle/internal/metrics"
	"pulseoracle/internal/pubsub"
	"pulseoracle/internal/settlement"
	"pulseoracle/internal/stores/clickhouse"
	"pulseoracle/internal/twap"
)

var (
	ErrAssetNotFound = errors.New("asset not tracked")
)

// priceChangeLogRatio throttles per-symbol price logging to moves above 0.1%.
const priceChangeLogRatio = 0.001

const pruneInterval = time.Hour

// PriceFeed is the upstream streaming source consumed by the service.
type PriceFeed interface {
	Run(ctx context.Context) error
	Events() <-chan domain.OracleEvent
	FetchLatest(ctx context.Context) ([]domain.PriceUpdate, error)
}

// SettlementSink persists settled TWAP rows. Optional.
type SettlementSink interface {
	Enqueue(row clickhouse.SettlementRow) error
	Health(ctx context.Context) error
}

// Encapsulates the logic-business of the oracle;
// It the only point orchestration: feed → twap engine → settlement → broadcast → clickhouse;
// Implements from HTTP, WS and etc...
type OracleService struct {
	log         logger.Logger
	registry    *domain.Registry
	feed        PriceFeed
	engine      *twap.Engine
	clock       *settlement.Clock
	bus         *bus.Bus
	broadcaster pubsub.Broadcaster // optional cluster republish
	sink        SettlementSink     // optional persistence

	lastLoggedPrice map[string]float64
	prevNext        int64
}

func NewOracleService(
	log logger.Logger,
	registry *domain.Registry,
	feed PriceFeed,
	engine *twap.Engine,
	clock *settlement.Clock,
	eventBus *bus.Bus,
	broadcaster pubsub.Broadcaster,
	sink SettlementSink,
) *OracleService {
	return &OracleService{
		log:             log,
		registry:        registry,
		feed:            feed,
		engine:          engine,
		clock:           clock,
		bus:             eventBus,
		broadcaster:     broadcaster,
		sink:            sink,
		lastLoggedPrice: make(map[string]float64),
	}
}

// Run drives the feed, the event pipeline and the settlement ticker until ctx
// is canceled.
func (s *OracleService) Run(ctx context.Context) error {
	s.bootstrap(ctx)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.feed.Run(ctx)
	})
	g.Go(func() error {
		return s.consumeEvents(ctx)
	})
	g.Go(func() error {
		return s.tickLoop(ctx)
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// bootstrap seeds the engine with one snapshot fetch so the first window is
// not empty while the stream warms up. Failure is non-fatal.
func (s *OracleService) bootstrap(ctx context.Context) {
	updates, err := s.feed.FetchLatest(ctx)
	if err != nil {
		s.log.Warnf("Bootstrap price fetch failed, starting cold: %v", err)
		return
	}

	for i := range updates {
		u := updates[i]
		if s.engine.Record(&u) {
			s.log.Infof("Bootstrapped %s at $%.4f", u.Symbol, u.Price)
		}
	}
}

func (s *OracleService) consumeEvents(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.feed.Events():
			s.handleEvent(ctx, ev)
		}
	}
}

func (s *OracleService) handleEvent(ctx context.Context, ev domain.OracleEvent) {
	switch ev.Type {
	case domain.EventPrice:
		u := ev.Price
		metrics.PriceUpdatesTotal.WithLabelValues(u.Symbol).Inc()

		if s.engine.Record(u) {
			metrics.SamplesRecordedTotal.WithLabelValues(u.Symbol).Inc()
		}
		s.logPriceMove(u)
	case domain.EventDisconnected:
		metrics.FeedReconnectsTotal.Inc()
	}

	s.publish(ctx, ev)
}

// logPriceMove logs a symbol's price only when it moved enough since the last
// logged value, keeping the info log readable at full stream rate.
func (s *OracleService) logPriceMove(u *domain.PriceUpdate) {
	last, seen := s.lastLoggedPrice[u.Symbol]
	if seen && last != 0 && math.Abs(u.Price-last)/math.Abs(last) < priceChangeLogRatio {
		return
	}

	s.lastLoggedPrice[u.Symbol] = u.Price
	s.log.Infof("%s: $%.4f (conf: $%.4f)", u.Symbol, u.Price, u.Confidence)
}

func (s *OracleService) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	pruneTicker := time.NewTicker(pruneInterval)
	defer pruneTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx, time.Now().Unix())
		case <-pruneTicker.C:
			now := time.Now().Unix()
			s.engine.Prune(now - 2*s.engine.WindowSecs())
		}
	}
}

// tick advances the settlement clock by one second: settles any round
// boundary that passed, then publishes the clock state and a live preview for
// every tracked asset.
func (s *OracleService) tick(ctx context.Context, now int64) {
	info := s.clock.Tick(now)

	if s.prevNext != 0 && info.NextSettlement > s.prevNext {
		s.settle(ctx, s.prevNext)
	}
	s.prevNext = info.NextSettlement

	s.publish(ctx, domain.NewSettlementEvent(info))

	for _, symbol := range s.registry.Symbols() {
		preview := s.engine.CalculatePreview(symbol, now, info.InTwapWindow)
		metrics.TwapCoverage.WithLabelValues(symbol).Set(preview.Coverage)
		s.publish(ctx, domain.NewTwapPreviewEvent(preview))
	}
}

// settle computes the final TWAP for every asset at the round boundary.
// Assets below the coverage floor are skipped and their samples retained, so
// a later round can still settle them.
func (s *OracleService) settle(ctx context.Context, windowEnd int64) {
	for _, symbol := range s.registry.Symbols() {
		res, err := s.engine.CalculateValidated(symbol, windowEnd)
		if err != nil {
			metrics.SettlementsTotal.WithLabelValues(symbol, "skipped").Inc()
			s.log.Warnf("Not settling %s this round: %v", symbol, err)
			continue
		}

		metrics.SettlementsTotal.WithLabelValues(symbol, "settled").Inc()
		s.log.Infof("Settled %s: TWAP $%.4f over %d samples (coverage %.1f%%)",
			symbol, res.TwapPrice, res.SampleCount, res.Coverage*100)

		s.publish(ctx, domain.NewTwapEvent(res))

		if s.sink != nil {
			if err := s.sink.Enqueue(clickhouse.RowFromResult(res, time.Unix(windowEnd, 0).UTC())); err != nil {
				s.log.Errorf("Failed to persist settlement for %s: %v", symbol, err)
			}
		}

		// settled samples must not leak into the next round
		s.engine.Clear(symbol)
	}
}

// publish fans the event out to local subscribers and, when configured, to
// the cluster. Broadcast errors are logged, never propagated.
func (s *OracleService) publish(ctx context.Context, ev domain.OracleEvent) {
	s.bus.Publish(ev)
	metrics.EventsPublishedTotal.WithLabelValues(string(ev.Type)).Inc()

	if s.broadcaster != nil {
		if err := s.broadcaster.Publish(ctx, ev); err != nil {
			s.log.Errorf("Failed to broadcast %s event: %v", ev.Type, err)
		}
	}
}

// Assets returns the tracked asset set; used by the HTTP handlers.
func (s *OracleService) Assets() []domain.Asset {
	return s.registry.Assets()
}

// Twap computes the validated TWAP for a symbol as of now.
func (s *OracleService) Twap(symbol string, now int64) (domain.TwapResult, error) {
	if _, ok := s.registry.BySymbol(symbol); !ok {
		return domain.TwapResult{}, ErrAssetNotFound
	}
	return s.engine.CalculateValidated(symbol, now)
}

// Preview computes the live in-progress TWAP for a symbol as of now.
func (s *OracleService) Preview(symbol string, now int64) (domain.TwapPreview, error) {
	if _, ok := s.registry.BySymbol(symbol); !ok {
		return domain.TwapPreview{}, ErrAssetNotFound
	}
	info := s.clock.Snapshot(now)
	return s.engine.CalculatePreview(symbol, now, info.InTwapWindow), nil
}

// Subscribe attaches a new local event stream consumer.
func (s *OracleService) Subscribe() *bus.Subscription {
	return s.bus.Subscribe()
}

func (s *OracleService) CheckDependency(ctx context.Context) error {
	errDependency := make([]string, 0, 2)

	if s.broadcaster != nil {
		if err := s.broadcaster.Health(ctx); err != nil {
			errDependency = append(errDependency, "NATS: connection not ready")
		}
	}

	if s.sink != nil {
		if err := s.sink.Health(ctx); err != nil {
			errDependency = append(errDependency, fmt.Sprintf("ClickHouse connection error: %v", err))
		}
	}

	if len(errDependency) > 0 {
		return fmt.Errorf("dependency check failed: %v", strings.Join(errDependency, "; "))
	}

	return nil
}
