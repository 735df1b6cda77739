package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PriceUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oracle_price_updates_total",
		Help: "Price updates received from the upstream feed, by symbol.",
	}, []string{"symbol"})

	SamplesRecordedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oracle_twap_samples_recorded_total",
		Help: "Price updates accepted into the TWAP window, by symbol.",
	}, []string{"symbol"})

	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oracle_events_published_total",
		Help: "Events published to the broadcast bus, by event type.",
	}, []string{"type"})

	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "oracle_settlements_total",
		Help: "Settlement attempts, by symbol and outcome.",
	}, []string{"symbol", "outcome"})

	FeedReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oracle_feed_reconnects_total",
		Help: "Upstream feed disconnects that triggered a reconnect.",
	})

	Subscribers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oracle_ws_subscribers",
		Help: "Currently connected websocket subscribers.",
	})

	TwapCoverage = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "oracle_twap_coverage",
		Help: "Most recent TWAP window coverage ratio, by symbol.",
	}, []string{"symbol"})
)

func Handler() http.Handler {
	h := promhttp.Handler()
	return h
}
