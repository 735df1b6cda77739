package app

import (
	"context"
	"strings"
	"time"

	"github.com/grafana/pyroscope-go"
	lgcfg "gitlab.com/nevasik7/alerting/config"
	"gitlab.com/nevasik7/alerting/logger"

	httpapi "pulseoracle/internal/api/http"
	"pulseoracle/internal/api/http/mw"
	"pulseoracle/internal/bus"
	"pulseoracle/internal/config"
	"pulseoracle/internal/domain"
	"pulseoracle/internal/feed"
	"pulseoracle/internal/metrics"
	"pulseoracle/internal/pubsub"
	natsps "pulseoracle/internal/pubsub/nats"
	"pulseoracle/internal/security"
	"pulseoracle/internal/service"
	"pulseoracle/internal/settlement"
	"pulseoracle/internal/stores/clickhouse"
	"pulseoracle/internal/stores/redis"
	"pulseoracle/internal/twap"
)

type Container struct {
	app *App

	// infra
	redis *redis.Client
	ch    *clickhouse.Conn
	nc    *natsps.Client

	// servers
	httpSrv *httpapi.Server

	// metrics
	profiler *pyroscope.Profiler
}

func (c *Container) Start() error {
	return c.app.Start()
}

// Stop shuts the app down; resource cleanup happens via the function
// returned from Build.
func (c *Container) Stop(ctx context.Context) error {
	return c.app.Shutdown(ctx)
}

// Build constructs the image app. Required dependencies panic on failure;
// optional integrations (NATS, ClickHouse, Redis, JWT) are wired only when
// enabled in config.
func Build(ctx context.Context, cfg *config.Config) (*Container, func()) {
	lg := logger.New(lgcfg.LoggerCfg{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	lg.Info("Successfully initialize logger")

	profiler, err := metrics.InitPProf(&metrics.PProfConfig{
		Enabled:       cfg.Metrics.Pyroscope.Enabled,
		AppInstanceID: cfg.App.InstanceID,
		AppName:       cfg.Metrics.Pyroscope.AppName,
		ServerAddr:    cfg.Metrics.Pyroscope.ServerURL,
	})
	if err != nil {
		lg.Panicf("Pyroscope initialize failed: %v", err)
	}
	if profiler != nil {
		lg.Infof("Successfully initialize Pyroscope to %s as %s", cfg.Metrics.Pyroscope.ServerURL, cfg.Metrics.Pyroscope.AppName)
	}

	// Asset registry
	registry, err := domain.NewRegistry(cfg.Assets)
	if err != nil {
		lg.Panicf("Failed to initialize asset registry: %v", err)
	}
	lg.Infof("Tracking %d assets: %s", len(registry.Symbols()), strings.Join(registry.Symbols(), ", "))

	// TWAP Engine
	engine := twap.NewEngine(lg, &cfg.Twap)
	lg.Infof("Successfully initialize TWAP engine, window=%ds interval=%ds", engine.WindowSecs(), cfg.Twap.SampleIntervalSecs)

	// Settlement Clock
	clock, err := settlement.NewClock(lg, &cfg.Settlement, engine.WindowSecs())
	if err != nil {
		lg.Panicf("Failed to initialize settlement clock: %v", err)
	}

	// Hermes Ingestor
	ingestor, err := feed.NewIngestor(lg, &cfg.Feed, registry)
	if err != nil {
		lg.Panicf("Failed to initialize feed ingestor: %v", err)
	}

	// Broadcast Bus
	eventBus := bus.New(cfg.Bus.Capacity)

	// NATS Broadcaster (optional cluster fan-out)
	var (
		natsCl      *natsps.Client
		broadcaster pubsub.Broadcaster
	)
	if cfg.PubSub.Enabled {
		natsCl, err = natsps.Connect(lg, &cfg.PubSub.NATS)
		if err != nil {
			lg.Panicf("Failed to initialize nats client: %v", err)
		}
		broadcaster = natsCl
	}

	// ClickHouse Client + Writer (optional settlement persistence)
	var (
		ch       *clickhouse.Conn
		chWriter *clickhouse.Writer
		sink     service.SettlementSink
	)
	if cfg.Stores.ClickHouse.Enabled {
		ch, err = clickhouse.New(ctx, &cfg.Stores.ClickHouse)
		if err != nil {
			lg.Panicf("Failed to initialize clickhouse client: %v", err)
		}
		url := strings.Split(cfg.Stores.ClickHouse.DSN, "?")
		lg.Infof("Successfully initialize clickhouse client, url=%s", url[0])

		chWriter = clickhouse.NewWriter(lg, ch.Native, cfg.Stores.ClickHouse)
		sink = chWriter
		lg.Info("Successfully initialize clickhouse writer")
	}

	// Service Layer
	oracleService := service.NewOracleService(lg, registry, ingestor, engine, clock, eventBus, broadcaster, sink)

	// Redis + rate limit middleware (optional)
	var (
		rdb         *redis.Client
		rateLimitMW *mw.RateLimitMiddleware
	)

	var verifier *security.RS256Verifier
	if cfg.Security.JWT.Enabled {
		verifier, err = security.NewRS256Verifier(cfg.Security.JWT.PublicKeyPath, cfg.Security.JWT.Audience, cfg.Security.JWT.Issuer)
		if err != nil {
			lg.Panicf("Failed to initialize JWT verifier: %v", err)
		}
		lg.Info("Successfully initialize JWT-Verifier")
	}

	if cfg.RateLimit.Enabled {
		rdb, err = redis.New(ctx, cfg.Stores.Redis)
		if err != nil {
			lg.Panicf("Failed to initialize redis client: %v", err)
		}

		rateLimitMW = mw.NewRateLimit(rdb.Client, mw.RateLimitConfig{
			ByIP: mw.RateBucket{
				RefillPerSec: cfg.RateLimit.ByIP.RefillPerSec,
				Burst:        cfg.RateLimit.ByIP.Burst,
			},
			Verifier: verifier,
		})
		lg.Info("Successfully initialize rate limiter")
	}

	var jwtMW *mw.JWTMiddleware
	if verifier != nil {
		jwtMW = mw.NewJWTMiddleware(verifier)
	}

	var corsMW *mw.CORSMiddleware
	if cfg.API.HTTP.CORS.Enabled {
		corsMW = mw.NewCORSConfig(&cfg.API.HTTP.CORS)
	}

	// HTTP Server
	api := httpapi.NewAPI(lg, oracleService, cfg.API.WS.WriteTimeout)
	router := httpapi.BuildRouter(api, mw.NewLogging(lg), rateLimitMW, jwtMW, corsMW)
	httpSrv := httpapi.NewServer(lg, &cfg.API.HTTP, router)
	lg.Info("Successfully initialize HTTP server")

	c := &Container{
		app:      NewApp(lg, httpSrv, oracleService),
		redis:    rdb,
		ch:       ch,
		nc:       natsCl,
		httpSrv:  httpSrv,
		profiler: profiler,
	}

	cleanupF := func() {
		ctxClean, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if c.profiler != nil {
			if err := c.profiler.Stop(); err != nil {
				lg.Errorf("Failed to stop profiler: %v", err)
			}
		}

		if chWriter != nil {
			if err := chWriter.Close(ctxClean); err != nil {
				lg.Errorf("Failed to close by cleanupF clickhouse writer: %v", err)
			}
		}

		if ch != nil {
			if err := ch.Close(); err != nil {
				lg.Errorf("Failed to close by cleanupF clickhouse client: %v", err)
			}
		}

		if natsCl != nil {
			if err := natsCl.Close(); err != nil {
				lg.Errorf("Failed to close by cleanupF nats client: %v", err)
			}
		}

		if rdb != nil {
			if err := rdb.Close(); err != nil {
				lg.Errorf("Failed to close by cleanupF redis client: %v", err)
			}
		}

		eventBus.Close()

		lg.Info("Successfully cleaned up dependency")
	}

	lg.Info("Successfully initialize Wiring")
	return c, cleanupF
}
