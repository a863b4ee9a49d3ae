package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"pulseintel/internal/alerts"
	"pulseintel/internal/candle"
	"pulseintel/internal/config"
	"pulseintel/internal/ingest"
	"pulseintel/internal/metrics"
	"pulseintel/internal/priority"
	"pulseintel/internal/publisher"
	"pulseintel/internal/runs"
	"pulseintel/internal/service"
	"pulseintel/internal/supervisor"
	"pulseintel/internal/timeoracle"
	"pulseintel/internal/volume"
	"pulseintel/pkg/broadcaster"
	redisclient "pulseintel/pkg/redis"
)

// PulseIntel is the explicit service container: every dependency is
// constructed here and passed down, rather than reached for via a
// module-level singleton.
type PulseIntel struct {
	cfg         *config.Config
	logger      *zap.Logger
	redisClient *redisclient.Client
	metrics     *metrics.PrometheusMetrics
	broadcaster *broadcaster.Broadcaster
	supervisor  *supervisor.Supervisor
	oracle      *timeoracle.Oracle
	pipeline    *service.Pipeline
	dispatcher  *service.Dispatcher
	restClient  *ingest.RESTClient

	ctx    context.Context
	cancel context.CancelFunc
}

func main() {
	app := &PulseIntel{}

	if err := app.initialize(); err != nil {
		fmt.Printf("failed to initialize pulseintel: %v\n", err)
		os.Exit(1)
	}

	if err := app.start(); err != nil {
		fmt.Printf("failed to start pulseintel: %v\n", err)
		os.Exit(1)
	}

	app.waitForShutdown()

	if err := app.shutdown(); err != nil {
		fmt.Printf("error during shutdown: %v\n", err)
		os.Exit(1)
	}
}

func (app *PulseIntel) initialize() error {
	var err error

	app.ctx, app.cancel = context.WithCancel(context.Background())

	app.logger, err = setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	app.logger.Info("initializing pulseintel")

	execPath, _ := os.Executable()
	execDir := filepath.Dir(execPath)
	configPath := filepath.Join(execDir, "configs", "config.yaml")
	if _, statErr := os.Stat(configPath); os.IsNotExist(statErr) {
		configPath = "configs/config.yaml"
	}

	loader := config.NewConfigLoader()
	app.cfg, err = loader.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	app.logger.Info("configuration loaded", zap.Int("watchlist_size", len(app.cfg.Exchange.Watchlist)))

	app.redisClient, err = redisclient.NewClient(redisclient.ClientConfig{
		URL:      fmt.Sprintf("redis://%s", app.cfg.GetRedisAddress()),
		DB:       app.cfg.GetRedisDatabase(),
		Password: app.cfg.Redis.Password,
		PoolSize: app.cfg.Redis.PoolSize,
	}, app.logger)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	if err := app.redisClient.HealthCheck(app.ctx); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}

	app.metrics = metrics.NewPrometheusMetrics(app.logger)
	app.broadcaster = broadcaster.NewBroadcaster(app.logger)
	app.supervisor = supervisor.NewSupervisor(app.logger)

	app.oracle = timeoracle.New(app.logger)
	app.oracle.SetSyncMethod(timeoracle.SyncMethod(app.cfg.Pipeline.TimeSyncMethod))

	app.restClient = ingest.NewRESTClient(app.logger)

	app.buildPipeline()

	app.logger.Info("core components initialized")
	return nil
}

func setupLogger() (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	cfg.OutputPaths = []string{"stdout"}
	return cfg.Build()
}

func (app *PulseIntel) buildPipeline() {
	rdb := app.redisClient.Raw()

	store := candle.NewRedisStore(rdb, app.logger, (app.cfg.Pipeline.DataRetentionHours+1)*3600)
	cache := candle.NewCache(candle.DefaultCapacity)
	alertRepo := alerts.NewRedisRepository(rdb, app.logger)
	sink := service.NewMultiSink(
		service.NewBroadcastSink(app.broadcaster, app.logger),
		publisher.NewRedisSink(rdb, app.logger),
	)

	orderBookFetcher := func(ctx context.Context, symbol string) (*alerts.OrderBookSnapshot, error) {
		return app.restClient.FetchOrderBook(ctx, symbol)
	}

	onTrueClose := func(symbol string, closeTimeMs int64) {
		app.metrics.SetAlertCooldown(symbol, closeTimeMs)
	}
	volumeDet := volume.NewDetector(store, alertRepo, sink, volume.NewCache(), orderBookFetcher, onTrueClose)
	runDet := runs.NewDetector(alertRepo, sink, runs.NewTracker(), app.cfg.Pipeline.ConsecutiveLongCount)
	correlator := priority.NewCorrelator(alertRepo, sink)

	app.pipeline = service.NewPipeline(store, cache, volumeDet, runDet, correlator, alertRepo, app.logger, app.cfg.Pipeline)
	app.pipeline.SetMaintainRangeHook(func(ctx context.Context, symbol string) {
		totalHours := app.cfg.Pipeline.DataRetentionHours + app.cfg.Pipeline.AnalysisHours + 1
		err := app.pipeline.MaintainRange(ctx, symbol, app.cfg.Pipeline.AnalysisHours, app.cfg.Pipeline.DataRetentionHours, app.oracle.NowMs(), func(ctx context.Context, symbol string) error {
			return app.backfillSymbol(ctx, symbol, totalHours)
		})
		if err != nil {
			app.logger.Warn("maintain range failed", zap.String("symbol", symbol), zap.Error(err))
		}
	})

	app.dispatcher = service.NewDispatcher(app.cfg.Workers.Shards, app.cfg.Workers.QueueDepth)
}

// startupBackfill is the BackfillFunc handed to the ingestion session: it
// gates on spec.md 4.9's startup condition (integrity <80% or existing <60)
// before fetching, since it runs for every watchlist symbol on connect and
// on every newly-reconciled symbol.
func (app *PulseIntel) startupBackfill(ctx context.Context, symbol string) error {
	totalHours := app.cfg.Pipeline.DataRetentionHours + app.cfg.Pipeline.AnalysisHours + 1
	nowMs := app.oracle.NowMs()

	needsBackfill, err := app.pipeline.NeedsBackfill(ctx, symbol, totalHours, nowMs)
	if err != nil {
		return fmt.Errorf("backfill gate %s: %w", symbol, err)
	}
	if !needsBackfill {
		return nil
	}
	return app.backfillSymbol(ctx, symbol, totalHours)
}

// backfillSymbol fetches symbol's trailing history via REST and upserts it
// straight into the store and cache — it never runs fetched candles through
// the detector chain, since a backfill is a store-population step, not a
// replay of live ticks (spec.md 4.9). Unconditional: the maintainRange
// refill path applies its own gate (integrity <90% and missing >5) before
// calling this.
func (app *PulseIntel) backfillSymbol(ctx context.Context, symbol string, totalHours int) error {
	nowMs := app.oracle.NowMs()
	startMs := nowMs - int64(totalHours)*3600*1000

	candles, err := app.restClient.FetchKlines(ctx, symbol, startMs, nowMs, 1000)
	if err != nil {
		app.metrics.RecordBackfillTriggered(symbol, "error")
		return fmt.Errorf("backfill %s: %w", symbol, err)
	}

	if err := app.pipeline.IngestHistory(ctx, candles); err != nil {
		app.metrics.RecordBackfillTriggered(symbol, "error")
		return fmt.Errorf("backfill %s: %w", symbol, err)
	}
	app.metrics.RecordBackfillTriggered(symbol, "integrity")
	return nil
}

func (app *PulseIntel) start() error {
	app.logger.Info("starting pulseintel")

	go app.broadcaster.Run()
	go app.startWebSocketServer()
	go app.runJanitor()

	app.oracle.Start(app.ctx)

	if app.cfg.Monitoring.MetricsEnabled {
		if err := app.metrics.Start(strconv.Itoa(app.cfg.Monitoring.PrometheusPort)); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	if err := app.registerIngestionWorker(); err != nil {
		return fmt.Errorf("failed to register ingestion worker: %w", err)
	}

	if err := app.supervisor.Start(); err != nil {
		return fmt.Errorf("failed to start supervisor: %w", err)
	}

	app.logger.Info("pulseintel started", zap.Int("watchlist_size", len(app.cfg.Exchange.Watchlist)))
	return nil
}

// registerIngestionWorker wires the Bybit ingestion session into the
// supervisor with a fixed 5s backoff, per spec.md 4.9's "always retry after
// 5 seconds" reconnect policy (InitialBackoff == MaxBackoff, factor 1.0
// disables the exponential growth the supervisor otherwise applies).
func (app *PulseIntel) registerIngestionWorker() error {
	workerFunc := func(ctx context.Context) error {
		client := ingest.NewClient(app.cfg.Exchange.WebSocketURL, app.logger)

		watchlist := func(ctx context.Context) ([]string, error) {
			return app.cfg.Exchange.Watchlist, nil
		}

		onTick := func(ctx context.Context, c candle.Candle) {
			app.metrics.RecordTick(c.Symbol, c.IsClosed)
			app.dispatcher.Submit(c.Symbol, func() {
				start := time.Now()
				app.pipeline.HandleTick(ctx, c)
				if c.IsClosed {
					app.metrics.RecordProcessingLatency(c.Symbol, time.Since(start))
				}
			})
		}

		session := ingest.NewSession(client, app.logger, onTick, watchlist, app.startupBackfill)
		app.metrics.SetExchangeConnected(app.cfg.Exchange.Name, true)
		err := session.Run(ctx)
		app.metrics.SetExchangeConnected(app.cfg.Exchange.Name, false)
		if err != nil {
			app.metrics.RecordWebSocketReconnect(app.cfg.Exchange.Name, "connection_lost")
		}
		return err
	}

	return app.supervisor.AddWorker(supervisor.WorkerConfig{
		Name:           fmt.Sprintf("%s-ingestion", app.cfg.Exchange.Name),
		Exchange:       app.cfg.Exchange.Name,
		InitialBackoff: 5 * time.Second,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  1.0,
	}, workerFunc)
}

// janitorInterval mirrors cleanup_old_data's periodic retention sweep,
// run independently of the per-tick reader loop.
const janitorInterval = 15 * time.Minute

func (app *PulseIntel) runJanitor() {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-app.ctx.Done():
			return
		case <-ticker.C:
			nowMs := app.oracle.NowMs()
			for _, symbol := range app.cfg.Exchange.Watchlist {
				app.pipeline.Cleanup(app.ctx, symbol, app.cfg.Pipeline.DataRetentionHours, nowMs)
			}
		}
	}
}

func (app *PulseIntel) startWebSocketServer() {
	upgrader := websocket.Upgrader{
		CheckOrigin:       func(r *http.Request) bool { return true },
		EnableCompression: true,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			app.logger.Error("failed to upgrade websocket connection", zap.Error(err))
			return
		}
		app.broadcaster.Register(conn)
		defer app.broadcaster.Unregister(conn)

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	app.logger.Info("starting subscriber websocket server on :8899")
	if err := http.ListenAndServe(":8899", mux); err != nil {
		app.logger.Fatal("subscriber websocket server failed", zap.Error(err))
	}
}

func (app *PulseIntel) waitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	app.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
}

func (app *PulseIntel) shutdown() error {
	app.logger.Info("shutting down pulseintel")

	app.cancel()
	app.oracle.Stop()

	if err := app.supervisor.Stop(); err != nil {
		app.logger.Error("error stopping supervisor", zap.Error(err))
	}
	if app.dispatcher != nil {
		app.dispatcher.Close()
	}
	if err := app.metrics.Stop(); err != nil {
		app.logger.Error("error stopping metrics server", zap.Error(err))
	}
	if err := app.redisClient.Close(); err != nil {
		app.logger.Error("error closing redis client", zap.Error(err))
	}

	app.logger.Info("pulseintel shutdown complete")
	return nil
}
