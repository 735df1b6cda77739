package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	loggerCfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"

	"pulseoracle/internal/bus"
	"pulseoracle/internal/domain"
	"pulseoracle/internal/service"
	"pulseoracle/internal/twap"
)

func newTestLogger() logger.Logger {
	return logger.New(loggerCfg.LoggerCfg{
		Level:  "error",
		Format: "json",
	})
}

type fakeOracle struct {
	bus     *bus.Bus
	twapErr error
	depErr  error
	twapRes domain.TwapResult
	preview domain.TwapPreview
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{bus: bus.New(16)}
}

func (f *fakeOracle) Assets() []domain.Asset {
	return domain.DefaultAssets()
}

func (f *fakeOracle) Twap(symbol string, _ int64) (domain.TwapResult, error) {
	if symbol != "SOL" {
		return domain.TwapResult{}, service.ErrAssetNotFound
	}
	if f.twapErr != nil {
		return domain.TwapResult{}, f.twapErr
	}
	return f.twapRes, nil
}

func (f *fakeOracle) Preview(symbol string, _ int64) (domain.TwapPreview, error) {
	if symbol != "SOL" {
		return domain.TwapPreview{}, service.ErrAssetNotFound
	}
	return f.preview, nil
}

func (f *fakeOracle) Subscribe() *bus.Subscription {
	return f.bus.Subscribe()
}

func (f *fakeOracle) CheckDependency(context.Context) error {
	return f.depErr
}

func newTestRouter(oracle Oracle) http.Handler {
	api := NewAPI(newTestLogger(), oracle, time.Second)
	return BuildRouter(api, nil, nil, nil, nil)
}

func doGet(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	var envelope struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Equal(t, "ok", envelope.Status)
	require.NoError(t, json.Unmarshal(envelope.Data, out))
}

func TestHealthz(t *testing.T) {
	rec := doGet(t, newTestRouter(newFakeOracle()), "/healthz")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestReadiness(t *testing.T) {
	oracle := newFakeOracle()
	router := newTestRouter(oracle)

	rec := doGet(t, router, "/readiness")
	assert.Equal(t, http.StatusOK, rec.Code)

	oracle.depErr = errors.New("NATS: connection not ready")
	rec = doGet(t, router, "/readiness")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_ready")
}

func TestAssetsEndpoint(t *testing.T) {
	rec := doGet(t, newTestRouter(newFakeOracle()), "/api/assets")
	require.Equal(t, http.StatusOK, rec.Code)

	var assets []domain.Asset
	decodeData(t, rec, &assets)

	require.Len(t, assets, 3)
	assert.Equal(t, "SOL", assets[0].Symbol)
}

func TestAssetTwapEndpoint(t *testing.T) {
	oracle := newFakeOracle()
	oracle.twapRes = domain.TwapResult{
		Symbol:      "SOL",
		TwapPrice:   204.5,
		WindowStart: 100,
		WindowEnd:   1900,
		SampleCount: 1800,
		Coverage:    1.0,
	}

	rec := doGet(t, newTestRouter(oracle), "/api/assets/SOL/twap")
	require.Equal(t, http.StatusOK, rec.Code)

	var res domain.TwapResult
	decodeData(t, rec, &res)
	assert.Equal(t, 204.5, res.TwapPrice)
	assert.Equal(t, 1800, res.SampleCount)
}

func TestAssetTwapUnknownSymbol(t *testing.T) {
	rec := doGet(t, newTestRouter(newFakeOracle()), "/api/assets/DOGE/twap")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown_asset")
}

func TestAssetTwapNoSamples(t *testing.T) {
	oracle := newFakeOracle()
	oracle.twapErr = twap.ErrNoSamples

	rec := doGet(t, newTestRouter(oracle), "/api/assets/SOL/twap")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "no_samples")
}

func TestAssetTwapInsufficientCoverage(t *testing.T) {
	oracle := newFakeOracle()
	oracle.twapErr = &twap.InsufficientCoverageError{Actual: 0.5, Required: 0.9}

	rec := doGet(t, newTestRouter(oracle), "/api/assets/SOL/twap")

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "insufficient_coverage")
}

func TestAssetPreviewEndpoint(t *testing.T) {
	oracle := newFakeOracle()
	oracle.preview = domain.TwapPreview{
		Symbol:             "SOL",
		TwapPrice:          203.1,
		SampleCount:        900,
		Coverage:           0.5,
		InSettlementWindow: true,
	}

	rec := doGet(t, newTestRouter(oracle), "/api/assets/SOL/preview")
	require.Equal(t, http.StatusOK, rec.Code)

	var preview domain.TwapPreview
	decodeData(t, rec, &preview)
	assert.Equal(t, 203.1, preview.TwapPrice)
	assert.True(t, preview.InSettlementWindow)
}
