// Package app wires the enrollment pipeline and its serving surfaces.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	grpcapi "github.com/deportes-escolares/inscripciones/internal/api/grpc"
	httpapi "github.com/deportes-escolares/inscripciones/internal/api/http"
	"github.com/deportes-escolares/inscripciones/internal/cache"
	"github.com/deportes-escolares/inscripciones/internal/catalog"
	"github.com/deportes-escolares/inscripciones/internal/config"
	"github.com/deportes-escolares/inscripciones/internal/dashboard"
	"github.com/deportes-escolares/inscripciones/internal/logging"
	"github.com/deportes-escolares/inscripciones/internal/observability"
	"github.com/deportes-escolares/inscripciones/internal/server"
	"github.com/deportes-escolares/inscripciones/internal/source"
	"github.com/deportes-escolares/inscripciones/internal/storage"
	"github.com/deportes-escolares/inscripciones/internal/watch"
)

// filterStatsWindow is how long an unused filter value stays in the stats.
const filterStatsWindow = 24 * time.Hour

// App owns the pipeline (source, cache manager, build listeners) and, once
// Run is called, the HTTP and gRPC servers and the source watcher.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	registry  *prometheus.Registry
	metrics   *observability.Metrics
	filters   *observability.FilterStats
	manager   *cache.Manager
	catalog   *catalog.SQLiteCatalog
	storage   storage.ObjectStorage
	publisher *storage.Publisher

	mu       sync.Mutex
	httpAddr net.Addr
}

// New resolves and validates cfg, then builds the pipeline.
func New(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	a := &App{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		filters:  observability.NewFilterStats(filterStatsWindow),
	}
	if err := a.initPipeline(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) initPipeline(ctx context.Context) error {
	loader := source.NewExcelLoader(a.cfg.DataFile, source.Options{
		Sheet:        a.cfg.Sheet,
		IsDateColumn: a.cfg.IsDateColumn,
	})
	a.manager = cache.NewManager(loader, a.cfg.CacheFile, a.logger)

	a.registry.MustRegister(collectors.NewGoCollector())
	a.metrics = observability.NewMetrics(a.registry)
	observability.RegisterCacheStats(a.registry, a.manager)
	a.manager.AddListener("metrics", a.metrics)
	a.manager.OnLoad = a.metrics.ObserveSnapshot

	if a.cfg.Catalog.Enabled {
		cat, err := catalog.NewCatalog(a.cfg.Catalog.Path)
		if err != nil {
			return fmt.Errorf("failed to open build catalog: %w", err)
		}
		a.catalog = cat
		a.manager.AddListener("catalog", cat)
	}

	if a.cfg.Publish.Enabled {
		store, err := openStorage(ctx, a.cfg.Publish.Storage)
		if err != nil {
			return fmt.Errorf("failed to open publish storage: %w", err)
		}
		a.storage = store
		a.publisher = storage.NewPublisher(store, a.cfg.Publish.Prefix, a.logger)
		if a.catalog != nil {
			a.publisher.OnPublished = a.catalog.MarkPublished
		}
		a.manager.AddListener("publisher", a.publisher)
	}
	return nil
}

func openStorage(ctx context.Context, cfg config.StorageConfig) (storage.ObjectStorage, error) {
	switch cfg.Type {
	case "local":
		return storage.NewLocalStorage(cfg.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if cfg.S3.Region != "" {
			s3Cfg.Region = cfg.S3.Region
		}
		if cfg.S3.Endpoint != "" {
			s3Cfg.Endpoint = cfg.S3.Endpoint
		}
		return storage.NewS3Storage(ctx, cfg.S3.Bucket, s3Cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// Manager returns the snapshot manager.
func (a *App) Manager() *cache.Manager {
	return a.manager
}

// Publisher returns the snapshot publisher, or nil when publishing is disabled.
func (a *App) Publisher() *storage.Publisher {
	return a.publisher
}

// Catalog returns the build catalog, or nil when it is disabled.
func (a *App) Catalog() *catalog.SQLiteCatalog {
	return a.catalog
}

// HTTPAddr returns the bound HTTP address once Run is listening.
func (a *App) HTTPAddr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.httpAddr
}

// Run loads or builds the snapshot, then serves until ctx is cancelled or a
// server fails, then shuts down. A snapshot that cannot be built or persisted
// is returned before any listener starts.
func (a *App) Run(ctx context.Context) error {
	if _, err := a.manager.GetOrBuild(ctx); err != nil {
		a.logger.Error("initial snapshot build failed", "error", err)
		return fmt.Errorf("initial snapshot: %w", err)
	}

	sm := server.NewShutdownManager(server.DefaultShutdownConfig(), a.logger)

	opts := httpapi.Options{
		Snapshots:  a.manager,
		Filters:    a.filters,
		Metrics:    a.metrics,
		Gatherer:   a.registry,
		SportTypes: a.cfg.SportTypes,
		Palette:    dashboard.Palette(a.cfg.Palette),
		Logger:     a.logger,
	}
	if a.catalog != nil {
		opts.Builds = a.catalog
	}
	httpServer := &http.Server{
		Handler:      httpapi.NewHandler(opts).Routes(server.ShutdownMiddleware(sm)),
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}
	httpLn, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.HTTP.Addr, err)
	}
	a.mu.Lock()
	a.httpAddr = httpLn.Addr()
	a.mu.Unlock()
	sm.RegisterHTTPServer("http", httpServer)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("http server listening", "addr", httpLn.Addr().String())
		if err := httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if a.cfg.GRPC.Enabled {
		grpcLn, err := net.Listen("tcp", a.cfg.GRPC.Addr)
		if err != nil {
			httpLn.Close()
			return fmt.Errorf("failed to listen on %s: %w", a.cfg.GRPC.Addr, err)
		}
		grpcServer := grpc.NewServer()
		ds := grpcapi.NewDashboardServer(a.manager, a.cfg.SportTypes, dashboard.Palette(a.cfg.Palette), a.logger)
		hs := grpcapi.Register(grpcServer, ds)
		sm.RegisterCloser("grpc", server.CloserFunc(func() error {
			hs.SetServingStatus(grpcapi.ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
			grpcServer.GracefulStop()
			return nil
		}))
		g.Go(func() error {
			a.logger.Info("grpc server listening", "addr", grpcLn.Addr().String())
			if err := grpcServer.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	if a.cfg.Watch.Enabled {
		w, err := watch.New(a.cfg.DataFile, a.manager, a.cfg.Watch.Debounce, a.logger)
		if err != nil {
			a.logger.Warn("source watcher disabled", "error", err)
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				a.filters.Prune()
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		return sm.Shutdown(context.Background(), "context cancelled")
	})

	return g.Wait()
}

// Close releases the catalog.
func (a *App) Close() error {
	if a.catalog != nil {
		return a.catalog.Close()
	}
	return nil
}
