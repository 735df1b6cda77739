package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"gitlab.com/nevasik7/alerting/logger"

	"pulseoracle/internal/domain"
)

// DefaultHermesURL is the public Hermes endpoint.
const DefaultHermesURL = "https://hermes.pyth.network"

// DefaultReconnectDelay is the fixed pause between reconnect attempts.
// No backoff and no retry cap: every failure is retried identically.
const DefaultReconnectDelay = 5 * time.Second

const defaultEventBuffer = 256

// Connection state of the ingestor loop
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateStreaming:
		return "STREAMING"
	default:
		return "UNKNOWN"
	}
}

type Config struct {
	HermesURL      string        `yaml:"hermes_url"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	EventBuffer    int           `yaml:"event_buffer"`
}

// Wire shapes of the Hermes price endpoints
type hermesResponse struct {
	Parsed []parsedPrice `json:"parsed"`
}

type parsedPrice struct {
	ID       string    `json:"id"`
	Price    priceData `json:"price"`
	EmaPrice priceData `json:"ema_price"`
}

type priceData struct {
	Price       string `json:"price"` // integer mantissa as string
	Conf        string `json:"conf"`  // integer mantissa as string
	Expo        int32  `json:"expo"`  // decimal exponent, typically negative
	PublishTime int64  `json:"publish_time"`
}

// Ingestor owns the single upstream streaming connection. Run cycles
// Disconnected -> Connecting -> Streaming forever, emitting a totally ordered
// Connected / Price* / (Error?) / Disconnected sequence per connection on the
// Events channel. Exactly one Run per Ingestor.
type Ingestor struct {
	log      logger.Logger
	baseURL  string
	registry *domain.Registry
	httpc    *http.Client

	reconnectDelay time.Duration
	events         chan domain.OracleEvent
	state          atomic.Int32
}

func NewIngestor(log logger.Logger, cfg *Config, registry *domain.Registry) (*Ingestor, error) {
	if registry == nil {
		return nil, errors.New("asset registry is required")
	}

	baseURL := DefaultHermesURL
	reconnectDelay := DefaultReconnectDelay
	buffer := defaultEventBuffer

	if cfg != nil {
		if cfg.HermesURL != "" {
			baseURL = strings.TrimRight(cfg.HermesURL, "/")
		}
		if cfg.ReconnectDelay > 0 {
			reconnectDelay = cfg.ReconnectDelay
		}
		if cfg.EventBuffer > 0 {
			buffer = cfg.EventBuffer
		}
	}

	return &Ingestor{
		log:      log,
		baseURL:  baseURL,
		registry: registry,
		// no client-level timeout: the streaming response stays open forever
		httpc:          &http.Client{},
		reconnectDelay: reconnectDelay,
		events:         make(chan domain.OracleEvent, buffer),
	}, nil
}

// Events is the ordered output stream consumed by the orchestrator.
func (i *Ingestor) Events() <-chan domain.OracleEvent {
	return i.events
}

func (i *Ingestor) State() State {
	return State(i.state.Load())
}

func (i *Ingestor) setState(s State) {
	i.state.Store(int32(s))
}

// Run streams price updates indefinitely, reconnecting after a fixed delay on
// every stream termination. Returns only when ctx is canceled.
func (i *Ingestor) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		i.setState(StateConnecting)

		err := i.stream(ctx)
		if ctx.Err() != nil {
			i.setState(StateDisconnected)
			return ctx.Err()
		}

		if err != nil {
			i.log.Errorf("Hermes connection error: %v", err)
			i.emit(ctx, domain.NewErrorEvent(err.Error()))
		} else {
			i.log.Info("Hermes connection closed gracefully")
		}

		i.setState(StateDisconnected)
		i.emit(ctx, domain.NewDisconnectedEvent())

		i.log.Infof("Reconnecting to Hermes in %s...", i.reconnectDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(i.reconnectDelay):
		}
	}
}

// FetchLatest issues a one-shot request for the current value of every
// tracked asset. Used for bootstrapping; not part of the streaming loop.
func (i *Ingestor) FetchLatest(ctx context.Context) ([]domain.PriceUpdate, error) {
	reqURL := i.baseURL + "/v2/updates/price/latest?" + i.idsQuery()
	i.log.Debugf("Fetching latest prices from: %s", reqURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build latest request: %w", err)
	}

	resp, err := i.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch latest prices: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("hermes latest returned status %d", resp.StatusCode)
	}

	var body hermesResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode latest response: %w", err)
	}

	updates := make([]domain.PriceUpdate, 0, len(body.Parsed))
	for _, p := range body.Parsed {
		if update, ok := i.decodeUpdate(p); ok {
			updates = append(updates, update)
		}
	}

	return updates, nil
}

func (i *Ingestor) stream(ctx context.Context) error {
	reqURL := i.baseURL + "/v2/updates/price/stream?" + i.idsQuery()
	i.log.Infof("Connecting to Hermes SSE stream: %s", reqURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := i.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hermes stream returned status %d", resp.StatusCode)
	}

	i.setState(StateStreaming)
	i.emit(ctx, domain.NewConnectedEvent())
	i.log.Info("Connected to Hermes")

	scanner := bufio.NewScanner(resp.Body)
	// price batches for many feeds can exceed the default line limit
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	eventType := "message"
	var data strings.Builder

	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case line == "":
			// blank line terminates one SSE event
			if data.Len() > 0 && eventType == "message" {
				i.handleMessage(ctx, data.String())
			}
			eventType = "message"
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// heartbeat comment, ignore
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stream read: %w", err)
	}

	// upstream closed the response body cleanly
	return nil
}

func (i *Ingestor) handleMessage(ctx context.Context, data string) {
	var update hermesResponse
	if err := json.Unmarshal([]byte(data), &update); err != nil {
		i.log.Warnf("Failed to parse SSE data: %v - %s", err, data)
		return
	}

	for _, p := range update.Parsed {
		if priceUpdate, ok := i.decodeUpdate(p); ok {
			i.log.Debugf("%s: $%.4f (conf: $%.4f)", priceUpdate.Symbol, priceUpdate.Price, priceUpdate.Confidence)
			i.emit(ctx, domain.NewPriceEvent(priceUpdate))
		}
	}
}

// decodeUpdate normalizes one wire record. Unknown feed ids are expected
// steady-state noise (feeds outside the tracking set) and are dropped without
// logging; malformed numeric fields are logged and dropped.
func (i *Ingestor) decodeUpdate(p parsedPrice) (domain.PriceUpdate, bool) {
	feedID := domain.NormalizeFeedID(p.ID)

	asset, ok := i.registry.ByFeedID(feedID)
	if !ok {
		return domain.PriceUpdate{}, false
	}

	priceRaw, err := strconv.ParseInt(p.Price.Price, 10, 64)
	if err != nil {
		i.log.Warnf("Unparseable price mantissa for %s: %q", asset.Symbol, p.Price.Price)
		return domain.PriceUpdate{}, false
	}

	confRaw, err := strconv.ParseInt(p.Price.Conf, 10, 64)
	if err != nil {
		i.log.Warnf("Unparseable confidence mantissa for %s: %q", asset.Symbol, p.Price.Conf)
		return domain.PriceUpdate{}, false
	}

	// expo is typically negative (e.g. -8): value = mantissa * 10^expo
	multiplier := math.Pow(10, float64(p.Price.Expo))

	return domain.PriceUpdate{
		Symbol:      asset.Symbol,
		Price:       float64(priceRaw) * multiplier,
		Confidence:  float64(confRaw) * multiplier,
		PublishTime: p.Price.PublishTime,
		FeedID:      feedID,
	}, true
}

// emit forwards an event to the orchestrator. The channel is sized for the
// peak publish rate; a full channel means the consumer loop is gone, which is
// an unrecoverable internal condition rather than something to drop silently.
func (i *Ingestor) emit(ctx context.Context, ev domain.OracleEvent) {
	select {
	case i.events <- ev:
	default:
		select {
		case i.events <- ev:
		case <-ctx.Done():
		case <-time.After(30 * time.Second):
			i.log.Panicf("Feed event channel full for 30s; consumer loop is stuck")
		}
	}
}

func (i *Ingestor) idsQuery() string {
	values := url.Values{}
	for _, id := range i.registry.FeedIDs() {
		values.Add("ids[]", id)
	}
	return values.Encode()
}
