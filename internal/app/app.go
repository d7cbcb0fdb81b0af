package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/nsqio/go-nsq"

	"marksort/backend/features/bookmark"
	"marksort/backend/features/job"
	"marksort/backend/features/stats"
	"marksort/backend/internal/adapter/gemini"
	"marksort/backend/internal/adapter/metadata"
	"marksort/backend/internal/cancel"
	"marksort/backend/internal/cluster"
	"marksort/backend/internal/config"
	"marksort/backend/internal/middleware"
	"marksort/backend/internal/queue"
	"marksort/backend/internal/settings"
	"marksort/backend/internal/vectorcache"
	"marksort/backend/internal/worker"
)

// ConsumerChannel is the NSQ channel every stage worker subscribes on.
const ConsumerChannel = "marksort"

// Options overrides external adapters, mostly for tests.
type Options struct {
	Embedder worker.Embedder
	Namer    cluster.Namer
	Fetcher  worker.MetadataFetcher
}

type App struct {
	Handler   http.Handler
	Bookmarks *bookmark.Service
	Queue     *queue.Queue
	Workers   map[queue.Stage]*queue.Worker

	cfg       *config.Config
	consumers []*nsq.Consumer
	closers   []io.Closer
}

func New(
	cfg *config.Config,
	db *sql.DB,
	vectors vectorcache.VectorStore,
	pub queue.Publisher,
	logger *slog.Logger,
	opts *Options,
) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}

	// Feature: Settings
	settingsRepo := settings.NewPostgresRepo(db)
	settingsService := settings.NewService(settingsRepo)
	seed := settings.Settings{GeminiAPIKey: cfg.GeminiAPIKey, NamingModel: cfg.NamingModel}
	if err := settingsService.Seed(context.Background(), seed); err != nil {
		slog.Warn("failed to seed settings", "error", err)
	}
	settingsHandler := settings.NewHandler(settingsService)

	registry := cancel.NewRegistry()

	// Queue
	queueRepo := queue.NewPostgresRepo(db)
	q := queue.New(queueRepo, pub, cfg.JobMaxAttempts)

	// Vector cache
	vecRepo := vectorcache.NewPostgresRepo(db)
	if vectors == nil {
		vectors = vecRepo
	}
	cache := vectorcache.New(vecRepo, vectors)

	a := &App{Queue: q, cfg: cfg, Workers: map[queue.Stage]*queue.Worker{}}

	// Adapters
	embedder := opts.Embedder
	if embedder == nil {
		e := gemini.NewEmbedder(settingsService, cfg.EmbeddingModel)
		a.closers = append(a.closers, e)
		embedder = e
	}
	namer := opts.Namer
	if namer == nil && cfg.EnableAINaming {
		n := gemini.NewNamer(settingsService, cfg.NamingModel)
		a.closers = append(a.closers, n)
		namer = n
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = metadata.NewFetcher(cfg.FetchTimeout)
	}

	// Feature: Clustering
	clusterRepo := cluster.NewPostgresRepo(db)
	engine := cluster.NewEngine(clusterRepo, cache, namer, registry, cluster.Options{
		Seed:          cfg.ClusterSeed,
		NamingTimeout: cfg.NamingTimeout,
	})

	bookmarkRepo := bookmark.NewPostgresRepo(db)

	// Feature: Job
	jobRepo := job.NewPostgresRepo(db)
	jobService := job.NewService(jobRepo, q, logger).WithReviver(bookmarkRepo)
	jobHandler := job.NewHandler(jobService)

	// Feature: Bookmark
	bookmarkService := bookmark.NewService(bookmarkRepo, clusterRepo, q, registry, cfg.TierLimits())
	bookmarkHandler := bookmark.NewHandler(bookmarkService)
	a.Bookmarks = bookmarkService

	// Feature: Stats
	statsHandler := stats.NewHandler(
		stats.CounterFunc(bookmarkRepo.CountAll),
		stats.CounterFunc(vecRepo.CountEmbedded),
		stats.CounterFunc(clusterRepo.CountAll),
		jobRepo,
	)

	// Workers
	policy := queue.Policy{BaseDelay: cfg.JobBackoffBase, MaxDelay: cfg.JobBackoffMax, Jitter: 0.5}
	handlers := map[queue.Stage]queue.Handler{
		queue.StageIngest:     worker.NewIngestProcessor(bookmarkRepo, cache, q, q, registry, cfg.IngestProgressEvery, cfg.ClusterTriggerDelay),
		queue.StageEnrichment: worker.NewEnrichmentProcessor(bookmarkRepo, fetcher, q, registry, cfg.FetchTimeout),
		queue.StageEmbedding:  worker.NewEmbeddingProcessor(bookmarkRepo, cache, embedder, registry, cfg.EmbedTimeout),
		queue.StageClustering: worker.NewClusteringProcessor(engine, registry),
	}
	for stage, h := range handlers {
		a.Workers[stage] = queue.NewWorker(stage, queueRepo, pub, h, policy, jobService)
	}

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /users/{userId}/ingest", middleware.CorrelationID(enableCORS(bookmarkHandler.Ingest)))
	mux.Handle("GET /users/{userId}/status", middleware.CorrelationID(enableCORS(bookmarkHandler.Status)))
	mux.Handle("GET /users/{userId}/structure", middleware.CorrelationID(enableCORS(bookmarkHandler.Structure)))
	mux.Handle("POST /users/{userId}/cancel", middleware.CorrelationID(enableCORS(bookmarkHandler.Cancel)))
	mux.Handle("POST /users/{userId}/cluster", middleware.CorrelationID(enableCORS(bookmarkHandler.Cluster)))

	mux.Handle("GET /settings", middleware.CorrelationID(enableCORS(settingsHandler.GetSettings)))
	mux.Handle("PUT /settings", middleware.CorrelationID(enableCORS(settingsHandler.UpdateSettings)))

	mux.Handle("GET /jobs/failed", middleware.CorrelationID(enableCORS(jobHandler.List)))
	mux.Handle("POST /jobs/{id}/retry", middleware.CorrelationID(enableCORS(jobHandler.Retry)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.Handle("OPTIONS /", enableCORS(func(w http.ResponseWriter, r *http.Request) {}))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	a.Handler = mux
	return a, nil
}

// Recover republishes jobs left active or undelivered by a previous process.
func (a *App) Recover(ctx context.Context) error {
	n, err := a.Queue.RecoverStuck(ctx, a.cfg.StuckJobThreshold)
	if err != nil {
		return fmt.Errorf("recover stuck jobs: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "recovered stuck jobs", "count", n)
	}
	return nil
}

// StartWorkers connects one NSQ consumer per stage.
func (a *App) StartWorkers() error {
	concurrency := map[queue.Stage]int{
		queue.StageIngest:     a.cfg.IngestConcurrency,
		queue.StageEnrichment: a.cfg.EnrichmentConcurrency,
		queue.StageEmbedding:  a.cfg.EmbeddingConcurrency,
		queue.StageClustering: a.cfg.ClusteringConcurrency,
	}
	for _, stage := range queue.Stages {
		c, err := queue.Consume(a.Workers[stage], ConsumerChannel, a.cfg.NSQLookupd, concurrency[stage])
		if err != nil {
			return fmt.Errorf("start %s consumer: %w", stage, err)
		}
		a.consumers = append(a.consumers, c)
		slog.Info("worker started", "stage", stage, "topic", stage.Topic(), "concurrency", concurrency[stage])
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.ServerPort)
	srv := &http.Server{
		Addr:    addr,
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close stops consumers and releases adapter clients.
func (a *App) Close() {
	for _, c := range a.consumers {
		c.Stop()
		<-c.StopChan
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			slog.Warn("failed to close adapter", "error", err)
		}
	}
}
