// Package server builds the long-lived services from configuration and runs
// them: stores, queue, event hub, crawl workers and the HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-ingest/internal/api"
	"github.com/JakeFAU/crawl-ingest/internal/clock/system"
	"github.com/JakeFAU/crawl-ingest/internal/config"
	"github.com/JakeFAU/crawl-ingest/internal/crawler"
	"github.com/JakeFAU/crawl-ingest/internal/dispatcher"
	"github.com/JakeFAU/crawl-ingest/internal/document"
	"github.com/JakeFAU/crawl-ingest/internal/events"
	"github.com/JakeFAU/crawl-ingest/internal/events/sinks"
	collyfetcher "github.com/JakeFAU/crawl-ingest/internal/fetcher/colly"
	"github.com/JakeFAU/crawl-ingest/internal/hash/sha256"
	"github.com/JakeFAU/crawl-ingest/internal/id/uuid"
	"github.com/JakeFAU/crawl-ingest/internal/policy/ratelimit"
	"github.com/JakeFAU/crawl-ingest/internal/proxy"
	queueMemory "github.com/JakeFAU/crawl-ingest/internal/queue/memory"
	natsqueue "github.com/JakeFAU/crawl-ingest/internal/queue/nats"
	goqueryselector "github.com/JakeFAU/crawl-ingest/internal/selector/goquery"
	"github.com/JakeFAU/crawl-ingest/internal/sources"
	gcsstorage "github.com/JakeFAU/crawl-ingest/internal/storage/gcs"
	localstorage "github.com/JakeFAU/crawl-ingest/internal/storage/local"
	memoryStorage "github.com/JakeFAU/crawl-ingest/internal/storage/memory"
	pgstore "github.com/JakeFAU/crawl-ingest/internal/storage/postgres"
	"github.com/JakeFAU/crawl-ingest/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	jobs       crawler.JobStore
	sources    crawler.SourceStore
	documents  document.Store
	relations  crawler.RelationStore
	blobs      crawler.BlobStore
	queue      crawler.Queue
	memQueue   *queueMemory.Queue
	hub        *events.Hub
	controller *crawler.Controller
	dispatch   *dispatcher.Dispatcher
	apiServer  *api.Server

	pool     *pgxpool.Pool
	natsConn *nats.Conn
	gcs      *storage.Client
}

// Build creates the application's dependencies. Partially built resources
// are released when a later step fails.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure(context.WithoutCancel(ctx))
		}
	}()

	logger.Info("building application dependencies",
		zap.String("storage", cfg.Storage.Driver),
		zap.String("queue", cfg.Queue.Driver),
		zap.String("blob", cfg.Storage.Blob),
	)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))
	if cfg.UsesNATS() {
		app.natsConn, err = nats.Connect(cfg.NATS.URL, nats.Name("crawl-ingest"))
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
	}
	if err = app.setupEvents(); err != nil {
		return nil, err
	}
	if err = app.setupStores(ctx); err != nil {
		return nil, err
	}
	if err = app.seedSources(ctx); err != nil {
		return nil, err
	}
	if err = app.setupBlobs(ctx); err != nil {
		return nil, err
	}
	if err = app.setupQueue(ctx); err != nil {
		return nil, err
	}
	app.controller = app.newController()
	app.setupDispatcher()
	app.apiServer = api.NewServer(api.Deps{
		Submitter: app.dispatch,
		Jobs:      app.jobs,
		Documents: app.documents,
		Sources:   app.sources,
		Ready:     app.ready,
		Logger:    logger.Named("api"),
	}, api.Config{
		RequestTimeout: cfg.Server.RequestTimeout,
		APIKey:         apiKey(cfg.Auth),
		PageSize:       cfg.Search.PageSize,
		HighlightStart: cfg.Search.HighlightStart,
		HighlightEnd:   cfg.Search.HighlightEnd,
	})
	return app, nil
}

func apiKey(auth config.AuthConfig) string {
	if !auth.Enabled {
		return ""
	}
	return auth.APIKey
}

func (a *App) setupEvents() error {
	var sinkList []events.Sink
	if a.cfg.Events.Log {
		sinkList = append(sinkList, sinks.NewLogSink(a.logger.Named("events")))
	}
	if a.cfg.Events.Prometheus {
		promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
		if err != nil {
			return fmt.Errorf("prometheus sink init failed: %w", err)
		}
		sinkList = append(sinkList, promSink)
	}
	if a.cfg.Events.NATS && a.natsConn != nil {
		sinkList = append(sinkList, sinks.NewNATSSink(a.natsConn, a.cfg.NATS.EventsSubject))
	}
	a.hub = events.NewHub(events.HubConfig{
		BufferSize: a.cfg.Events.BufferSize,
		Logger:     a.logger.Named("event_hub"),
	}, sinkList...)
	a.logger.Info("event hub initialized", zap.Int("sinks", len(sinkList)))
	return nil
}

func (a *App) setupStores(ctx context.Context) error {
	clock := system.New()
	hasher := sha256.New()
	ids := uuid.New()
	if a.cfg.Storage.Driver != config.DriverPostgres {
		a.logger.Info("using in-memory stores")
		a.jobs = memoryStorage.NewJobStore(clock)
		srcs, err := memoryStorage.NewSourceStore(clock)
		if err != nil {
			return fmt.Errorf("source store init failed: %w", err)
		}
		a.sources = srcs
		a.documents = memoryStorage.NewDocumentStore(ids, hasher,
			memoryStorage.WithEvents(a.hub), memoryStorage.WithClock(clock))
		a.relations = memoryStorage.NewRelationStore()
		return nil
	}

	var err error
	a.pool, err = pgstore.Open(ctx, pgstore.Config{
		DSN:             a.cfg.DB.DSN,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	if a.cfg.DB.Migrate {
		if err := pgstore.Migrate(ctx, a.pool); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		a.logger.Info("schema migrated")
	}
	a.jobs = pgstore.NewJobStore(a.pool, clock)
	a.sources = pgstore.NewSourceStore(a.pool, clock)
	a.relations = pgstore.NewRelationStore(a.pool)
	a.documents, err = pgstore.NewDocumentStore(a.pool, ids, hasher,
		pgstore.WithEvents(a.hub),
		pgstore.WithClock(clock),
		pgstore.WithLogger(a.logger.Named("documents")),
	)
	if err != nil {
		return fmt.Errorf("document store init failed: %w", err)
	}
	a.logger.Info("using postgres stores")
	return nil
}

// seedSources loads the configured YAML sources. Sources that already exist
// are left as they are.
func (a *App) seedSources(ctx context.Context) error {
	if a.cfg.Sources.File == "" {
		return nil
	}
	list, err := sources.Load(a.cfg.Sources.File)
	if err != nil {
		return err
	}
	created := 0
	for _, src := range list {
		err := a.sources.CreateSource(ctx, src)
		switch {
		case errors.Is(err, crawler.ErrSourceExists):
			a.logger.Debug("source already present", zap.String("source_id", src.ID))
		case err != nil:
			return fmt.Errorf("seed source %s: %w", src.ID, err)
		default:
			created++
		}
	}
	a.logger.Info("sources seeded", zap.String("file", a.cfg.Sources.File), zap.Int("created", created))
	return nil
}

func (a *App) setupBlobs(ctx context.Context) error {
	switch a.cfg.Storage.Blob {
	case config.BlobGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcs = client
		a.blobs, err = gcsstorage.New(client, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("using GCS blob store", zap.String("bucket", a.cfg.Storage.GCSBucket))
	case config.BlobLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		a.blobs = store
		a.logger.Info("using local blob store", zap.String("path", a.cfg.Storage.LocalDir))
	case config.BlobMemory:
		a.blobs = memoryStorage.NewBlobStore()
	}
	return nil
}

func (a *App) setupQueue(ctx context.Context) error {
	if a.cfg.Queue.Driver != config.DriverNATS {
		a.memQueue = queueMemory.NewQueue(a.cfg.Queue.Depth)
		a.queue = a.memQueue
		return nil
	}
	q, err := natsqueue.New(ctx, a.natsConn, natsqueue.Config{
		Subject:  a.cfg.NATS.JobsSubject,
		Stream:   a.cfg.NATS.JobsStream,
		Consumer: a.cfg.NATS.Consumer,
		AckWait:  a.cfg.NATS.AckWait,
	}, a.logger.Named("queue"))
	if err != nil {
		return fmt.Errorf("nats queue init failed: %w", err)
	}
	a.queue = q
	a.logger.Info("using nats job queue", zap.String("subject", a.cfg.NATS.JobsSubject))
	return nil
}

func (a *App) newController() *crawler.Controller {
	rotator := proxy.NewRotator(a.cfg.Crawler.Proxies, a.cfg.Crawler.ProxyCooldown,
		proxy.WithLogger(a.logger.Named("proxy")))
	limiter := ratelimit.New(ratelimit.Config{
		RPS:   a.cfg.Crawler.RateLimitPerDomain,
		Burst: a.cfg.Crawler.RateLimitBurst,
	})
	fetcher := collyfetcher.New(collyfetcher.Config{
		Timeout:        a.cfg.Crawler.RequestTimeout,
		BackoffBase:    a.cfg.Crawler.BackoffBase,
		AcceptLanguage: a.cfg.Crawler.AcceptLanguage,
	},
		collyfetcher.WithProxies(rotator),
		collyfetcher.WithLimiter(limiter),
		collyfetcher.WithLogger(a.logger.Named("fetcher")),
	)
	a.logger.Info("fetcher configured",
		zap.Int("proxies", rotator.Len()),
		zap.Duration("timeout", a.cfg.Crawler.RequestTimeout),
		zap.Float64("rate_limit_per_domain", a.cfg.Crawler.RateLimitPerDomain),
	)
	return crawler.NewController(crawler.Deps{
		Fetcher:   fetcher,
		Parser:    goqueryselector.NewParser(),
		Documents: a.documents,
		Relations: a.relations,
		Jobs:      a.jobs,
		Blobs:     a.blobs,
		Hasher:    sha256.New(),
		Clock:     system.New(),
		Events:    a.hub,
		Logger:    a.logger.Named("controller"),
	}, crawler.ControllerConfig{
		MinContentLength: a.cfg.Crawler.MinContentLength,
		Language:         a.cfg.Crawler.Language,
		ArchivePages:     a.cfg.Crawler.ArchivePages && a.blobs != nil,
		ArchivePrefix:    a.cfg.Storage.Prefix,
	})
}

func (a *App) setupDispatcher() {
	clock := system.New()
	runners := make([]dispatcher.Runner, 0, a.cfg.Crawler.Concurrency)
	for i := range a.cfg.Crawler.Concurrency {
		runners = append(runners, worker.New(
			a.queue,
			a.jobs,
			a.sources,
			a.controller,
			a.hub,
			clock,
			a.logger.Named("worker").With(zap.Int("index", i)),
		))
	}
	a.dispatch = dispatcher.New(a.queue, runners,
		dispatcher.WithJobStore(a.jobs, uuid.New()),
		dispatcher.WithEvents(a.hub),
		dispatcher.WithClock(clock),
		dispatcher.WithLogger(a.logger.Named("dispatcher")),
	)
	a.logger.Info("worker pool configured", zap.Int("workers", len(runners)))
}

func (a *App) ready(ctx context.Context) error {
	if a.pool != nil {
		if err := a.pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if a.natsConn != nil && !a.natsConn.IsConnected() {
		return errors.New("nats: not connected")
	}
	return nil
}

// Handler exposes the HTTP API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Controller returns the crawl controller for one-shot crawls.
func (a *App) Controller() *crawler.Controller {
	return a.controller
}

// Sources returns the source store.
func (a *App) Sources() crawler.SourceStore {
	return a.sources
}

// Run starts the workers and the HTTP server and blocks until ctx ends.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before the shutdown deadline")
	}
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases every resource Build acquired.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.memQueue != nil {
		a.memQueue.Close()
	}
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("event hub close failed", zap.Error(err))
		}
	}
	if a.natsConn != nil {
		if err := a.natsConn.Drain(); err != nil {
			a.logger.Warn("nats drain failed", zap.Error(err))
		}
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
