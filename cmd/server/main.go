// Package main is the entry point for Sentinel, an autonomous
// news-clustering and prediction-market trading agent.
//
// The application wires three cooperating pipelines behind a shared
// resilience layer and message bus:
//   - a news-ingestion and story-clustering pipeline
//   - a prediction-market agent that consumes clustered news as context
//   - a supervisor that keeps both agents running and exposes health
package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel/internal/bus"
	"github.com/aristath/sentinel/internal/collaborators"
	"github.com/aristath/sentinel/internal/config"
	"github.com/aristath/sentinel/internal/llm"
	"github.com/aristath/sentinel/internal/metrics"
	"github.com/aristath/sentinel/internal/news"
	"github.com/aristath/sentinel/internal/overfill"
	"github.com/aristath/sentinel/internal/prediction"
	"github.com/aristath/sentinel/internal/resilience"
	"github.com/aristath/sentinel/internal/snapshot"
	"github.com/aristath/sentinel/internal/supervisor"
	"github.com/aristath/sentinel/pkg/logger"
)

// newsCategories is the fixed rotation of primary categories the news
// agent ingests; each cycle issues one search per category.
// NEWS_QUERIES_PER_CATEGORY is parsed into config but not read by the
// news pipeline.
var newsCategories = []string{"markets", "macro", "crypto", "politics"}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("failed to load configuration")
	}

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})
	logger.SetGlobalLogger(log)
	log.Info().Msg("starting sentinel")

	if cfg.MetricsEnabled {
		metrics.Init("sentinel")
	}

	eventBus := bus.New(log)
	breakers := resilience.NewRegistry(resilience.RegistryConfig{FailureThreshold: 5, ResetAfter: 60 * time.Second}, log)

	newsSourceHTTP := newResilientClient("news-source", resilience.ClassInfo, breakers, log)
	llmHTTP := newResilientClient("llm", resilience.ClassInfo, breakers, log)
	polymarketGammaHTTP := newResilientClient("polymarket-gamma", resilience.ClassExchange, breakers, log)
	polymarketClobHTTP := newResilientClient("polymarket-clob", resilience.ClassExchange, breakers, log)

	newsSource := collaborators.NewHTTPNewsSource(cfg.NewsSource, newsSourceHTTP, log)
	llmClient := collaborators.NewHTTPLLMClient(cfg.LLM, llmHTTP, log)
	theorizer := collaborators.NewTheorizer(llmClient)
	venue := collaborators.NewPolymarketClient(cfg.Polymarket, polymarketGammaHTTP, log)
	venuePositions := collaborators.NewPolymarketClient(cfg.Polymarket, polymarketClobHTTP, log)

	if cfg.Alerting.SlackBotToken != "" {
		notifier := collaborators.NewSlackNotifier(cfg.Alerting.SlackBotToken, cfg.Alerting.SlackChannel, log)
		notifier.Subscribe(eventBus)
	}

	newsStore := news.NewInMemoryStore()
	newsOrchestrator := wireNewsPipeline(cfg, newsStore, newsSource, llmClient, breakers, eventBus, log)
	predictionOrchestrator, snapshotSvc, execution := wirePredictionPipeline(cfg, venue, venuePositions, theorizer, newsStore, eventBus, log)
	quoteStream := collaborators.NewPolymarketQuoteStream(cfg.Polymarket.WSBase, log)

	sup := supervisor.New(
		[]supervisor.Child{
			newsAgentChild(cfg, newsOrchestrator, log),
			predictionAgentChild(predictionOrchestrator, snapshotSvc, log),
			quoteStreamChild(quoteStream, venue, execution, log),
		},
		func() { execution.EmergencyCloseAll() },
		log,
	)

	router := newAdminRouter(cfg, newsOrchestrator, predictionOrchestrator, log)
	httpSrv := &http.Server{Addr: portAddr(cfg.Port), Handler: router}

	go func() {
		log.Info().Int("port", cfg.Port).Msg("admin/health server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("admin server stopped unexpectedly")
		}
	}()

	sup.Run(context.Background())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("admin server forced to shutdown")
	}
	log.Info().Msg("sentinel stopped")
}

func portAddr(port int) string {
	if port <= 0 {
		port = 8001
	}
	return ":" + strconv.Itoa(port)
}

func newResilientClient(name string, class resilience.BucketClass, breakers *resilience.Registry, log zerolog.Logger) *resilience.ResilientHTTPClient {
	limiter := resilience.NewDualBucketRateLimiter(
		resilience.NewTokenBucket(20, 10, time.Second),
		resilience.NewTokenBucket(10, 5, time.Second),
	)
	return resilience.NewResilientHTTPClient(resilience.ResilientHTTPClientConfig{
		Name:       name,
		Class:      class,
		MaxRetries: 3,
		BaseDelay:  200 * time.Millisecond,
		MaxDelay:   5 * time.Second,
	}, breakers, limiter, log)
}

// wireNewsPipeline assembles C1-C10. VectorStore is wired to an
// HTTPVectorStore when NEWS_VECTOR_API_BASE is set, and left nil
// (disabling C6 phase-2 vector assignment) otherwise. EntityRepo is
// always nil: it has no concrete implementation and stays an optional
// collaborator per its own doc comment.
func wireNewsPipeline(cfg *config.Config, store *news.InMemoryStore, source *collaborators.HTTPNewsSource, llmClient llm.Client, breakers *resilience.Registry, eventBus *bus.Bus, log zerolog.Logger) *news.NewsOrchestrator {
	var entityCache, similarityCache llm.Cache
	if cfg.News.CacheRedisAddr != "" {
		entityCache = llm.NewRedisCache(cfg.News.CacheRedisAddr, 24*time.Hour)
		similarityCache = llm.NewRedisCache(cfg.News.CacheRedisAddr, 24*time.Hour)
		log.Info().Str("addr", cfg.News.CacheRedisAddr).Msg("using redis-backed entity/embedding caches")
	} else {
		entityCache = llm.NewLRUCache(500)
		similarityCache = llm.NewLRUCache(1000)
	}

	gate := news.NewIngestionGate(news.GateConfig{}, log)
	extractor := news.NewEntityExtractor(llmClient, entityCache, log)
	similarity := news.NewSemanticSimilarityService(llmClient, similarityCache, log)

	var vectors news.VectorStore
	if cfg.NewsSource.VectorAPIBase != "" {
		vectors = collaborators.NewHTTPVectorStore(cfg.NewsSource.VectorAPIBase, log)
	}

	assignment := news.NewClusterAssignmentEngine(store, vectors, similarity, nil, news.AssignmentConfig{
		EnhancedMode:            cfg.News.EnhancedClusteringEnabled || cfg.News.UseEnhancedSemanticClustering,
		VectorDistanceThreshold: cfg.News.VectorDistanceThreshold,
		FilterByCategory:        cfg.News.VectorFilterByCategory,
		BatchSize:               cfg.News.ClusterBatchSize,
	}, log)
	merger := news.NewClusterMerger(store, 72*time.Hour, log)
	anomaly := news.NewAnomalyDetector(log)
	heat := news.NewHeatPredictor(log)

	return news.NewNewsOrchestrator(source, source, store, gate, extractor, similarity, assignment, merger, anomaly, heat, llmClient, breakers, eventBus, log)
}

// wirePredictionPipeline assembles P1-P5.
func wirePredictionPipeline(cfg *config.Config, venue prediction.MarketDataSource, venuePositions prediction.VenuePositionFetcher, theorizer prediction.Theorizer, store *news.InMemoryStore, eventBus *bus.Bus, log zerolog.Logger) (*prediction.PredictionOrchestrator, *snapshot.Service, *prediction.PredictionExecutionEngine) {
	riskCfg := prediction.RiskConfig{
		MaxDailyLossPct:        cfg.Prediction.MaxDailyLossPct,
		MaxDailyLossUSD:        cfg.Prediction.MaxDailyLossUSD,
		MaxDailyTrades:         cfg.Prediction.MaxDailyTrades,
		MaxPortfolioHeatPct:    cfg.Prediction.MaxPortfolioHeatPct,
		MaxPositions:           cfg.Prediction.MaxPositions,
		MaxPositionPct:         cfg.Prediction.MaxPositionPct,
		CooldownAfterLossMinutes: cfg.Prediction.CooldownMinutes,
		CooldownAfterWinMinutes: cfg.Prediction.CooldownAfterWinMinutes,
		StopLossPct:            cfg.Prediction.StopLossPct,
		EnableCorrelationCheck: cfg.Prediction.EnableCorrelationCheck,
		MaxCorrelatedPositions: cfg.Prediction.MaxCorrelatedPositions,
		MaxSlippagePct:         cfg.Prediction.MaxSlippagePct,
		EmergencyStopDailyLoss: cfg.Prediction.EmergencyStopLossPct,
	}
	risk := prediction.NewRiskManager(riskCfg, log)
	trades := prediction.NewInMemoryTradeStore()
	backtestHistory := prediction.NewInMemoryBacktestHistory()
	learner := prediction.NewNoOpLearner(log)

	marketData := prediction.NewMarketDataNode(venue, 0, 0, 0, log)
	newsCtxNode := prediction.NewNewsContextNode(store, "markets", 72*time.Hour, 5, log)
	theorizerNode := prediction.NewTheorizerNode(theorizer, log)
	backtester := prediction.NewBacktesterNode(backtestHistory, 20, log)
	selector := prediction.NewIdeaSelector(3, 0, 0)
	execution := prediction.NewPredictionExecutionEngine(cfg.Prediction.PaperBalance, cfg.Prediction.PaperTrading, cfg.Prediction.MaxSlippagePct, risk, trades, eventBus, log)
	execution.SetOverfillRegistry(overfill.New(overfill.Config{TolerancePercent: 0.01, AutoAdjust: true}, log))
	reconciler := prediction.NewPositionReconciler(execution, venuePositions, risk, eventBus, log)

	var coldStore snapshot.ColdStore
	if cfg.SnapshotColdStore.Bucket != "" {
		store, err := collaborators.NewS3ColdStore(context.Background(), cfg.SnapshotColdStore.Bucket, cfg.SnapshotColdStore.Region, cfg.SnapshotColdStore.EndpointURL, log)
		if err != nil {
			log.Warn().Err(err).Msg("snapshot cold store unavailable, archival disabled")
		} else {
			coldStore = store
		}
	}
	snapshotSvc := snapshot.New(snapshot.Config{IntervalMs: 5 * 60 * 1000, MaxInMemory: 100, ColdStore: coldStore}, execution, log)

	orchestrator := prediction.NewPredictionOrchestrator(marketData, newsCtxNode, theorizerNode, backtester, selector, risk, execution, reconciler, learner, eventBus, log)
	return orchestrator, snapshotSvc, execution
}

// newsAgentChild drives the news cycle off a robfig/cron "@every"
// schedule rather than a bare ticker. The snapshot timer, stop-loss
// sweep and reconciler run on time.Ticker loops instead.
func newsAgentChild(cfg *config.Config, orchestrator *news.NewsOrchestrator, log zerolog.Logger) supervisor.Child {
	interval := time.Duration(cfg.News.CycleIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return supervisor.Child{
		Name: "news-agent",
		Run: func(ctx context.Context) error {
			idx := 0
			runOnce := func() {
				categories := newsCategories
				if cfg.News.RotationMode {
					categories = []string{newsCategories[idx%len(newsCategories)]}
					idx++
				}
				for _, category := range categories {
					result := orchestrator.RunCycle(ctx, category)
					if metrics.Enabled() {
						metrics.Global().RecordNewsCycle(category, string(result.Step), 0)
					}
				}
			}

			c := cron.New()
			if _, err := c.AddFunc("@every "+interval.String(), runOnce); err != nil {
				return err
			}
			runOnce()
			c.Start()
			<-ctx.Done()
			<-c.Stop().Done()
			return ctx.Err()
		},
	}
}

// predictionAgentChild drives the prediction cycle off its own cron
// schedule; the orchestrator's internal stop-loss-check and reconciler
// loops (P3/P5, P4) run on their own schedules once Start is called.
func predictionAgentChild(orchestrator *prediction.PredictionOrchestrator, snapshotSvc *snapshot.Service, log zerolog.Logger) supervisor.Child {
	return supervisor.Child{
		Name: "prediction-agent",
		Run: func(ctx context.Context) error {
			orchestrator.Start(ctx)
			defer orchestrator.Stop()
			snapshotSvc.Start(ctx)
			defer snapshotSvc.Shutdown()

			runOnce := func() {
				status := orchestrator.RunCycle(ctx)
				if metrics.Enabled() {
					metrics.Global().RecordPredictionCycle(string(status.State), 0)
				}
			}

			c := cron.New()
			if _, err := c.AddFunc("@every 2m", runOnce); err != nil {
				return err
			}
			runOnce()
			c.Start()
			<-ctx.Done()
			<-c.Stop().Done()
			return ctx.Err()
		},
	}
}

// quoteStreamChild refreshes the live-quote subscription list off the
// venue's open markets every cycle and keeps the websocket feed running
// in between, so P3's execution engine marks positions with a live price
// rather than only the price last seen when an order was placed.
func quoteStreamChild(stream *collaborators.PolymarketQuoteStream, venue prediction.MarketDataSource, updater collaborators.PriceUpdater, log zerolog.Logger) supervisor.Child {
	return supervisor.Child{
		Name: "quote-stream",
		Run: func(ctx context.Context) error {
			markets, err := venue.ListOpenMarkets(ctx)
			if err != nil {
				return err
			}
			assetIDs := make([]string, 0, len(markets))
			for _, m := range markets {
				assetIDs = append(assetIDs, m.MarketID)
			}
			stream.Run(ctx, assetIDs, updater)
			return ctx.Err()
		},
	}
}

func newAdminRouter(cfg *config.Config, newsOrchestrator *news.NewsOrchestrator, predictionOrchestrator *prediction.PredictionOrchestrator, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/status/prediction", func(w http.ResponseWriter, r *http.Request) {
		history := predictionOrchestrator.History()
		if len(history) == 0 {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("{}"))
			return
		}
		last := history[len(history)-1]
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"state":"` + string(last.State) + `","status":"` + string(last.Status) + `"}`))
	})

	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}
