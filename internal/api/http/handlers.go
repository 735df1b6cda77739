package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"gitlab.com/nevasik7/alerting/logger"

	"pulseoracle/internal/bus"
	"pulseoracle/internal/domain"
	"pulseoracle/internal/service"
	"pulseoracle/internal/twap"
	"pulseoracle/pkg/httputil"
)

// Oracle is the service surface the API exposes over HTTP and WS.
type Oracle interface {
	Assets() []domain.Asset
	Twap(symbol string, now int64) (domain.TwapResult, error)
	Preview(symbol string, now int64) (domain.TwapPreview, error)
	Subscribe() *bus.Subscription
	CheckDependency(ctx context.Context) error
}

type API struct {
	log    logger.Logger
	oracle Oracle

	wsWriteTimeout time.Duration
}

func NewAPI(log logger.Logger, oracle Oracle, wsWriteTimeout time.Duration) *API {
	if wsWriteTimeout <= 0 {
		wsWriteTimeout = 5 * time.Second
	}
	return &API{
		log:            log,
		oracle:         oracle,
		wsWriteTimeout: wsWriteTimeout,
	}
}

func (a *API) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Readiness checks health external services/clients
func (a *API) Readiness(w http.ResponseWriter, r *http.Request) {
	if err := a.oracle.CheckDependency(r.Context()); err != nil {
		_ = httputil.Error(w, r, http.StatusServiceUnavailable, "not_ready", err.Error(), nil)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (a *API) Assets(w http.ResponseWriter, r *http.Request) {
	_ = httputil.JSON(w, http.StatusOK, a.oracle.Assets(), nil)
}

func (a *API) AssetTwap(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	res, err := a.oracle.Twap(symbol, time.Now().Unix())
	if err != nil {
		a.writeTwapError(w, r, symbol, err)
		return
	}

	_ = httputil.JSON(w, http.StatusOK, res, nil)
}

func (a *API) AssetPreview(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	preview, err := a.oracle.Preview(symbol, time.Now().Unix())
	if err != nil {
		a.writeTwapError(w, r, symbol, err)
		return
	}

	_ = httputil.JSON(w, http.StatusOK, preview, nil)
}

func (a *API) writeTwapError(w http.ResponseWriter, r *http.Request, symbol string, err error) {
	var covErr *twap.InsufficientCoverageError

	switch {
	case errors.Is(err, service.ErrAssetNotFound):
		_ = httputil.Error(w, r, http.StatusNotFound, "unknown_asset", "asset is not tracked: "+symbol, nil)
	case errors.Is(err, twap.ErrNoSamples):
		_ = httputil.Error(w, r, http.StatusNotFound, "no_samples", "no samples in window for "+symbol, nil)
	case errors.As(err, &covErr):
		_ = httputil.Error(w, r, http.StatusUnprocessableEntity, "insufficient_coverage", err.Error(), map[string]float64{
			"actual":   covErr.Actual,
			"required": covErr.Required,
		})
	default:
		a.log.Errorf("TWAP request failed for %s: %v", symbol, err)
		_ = httputil.Error(w, r, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}
