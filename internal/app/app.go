package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"txtconv/internal/config"
	"txtconv/internal/conv"
	apierrors "txtconv/internal/errors"
	"txtconv/internal/infrastructure"
	customMiddleware "txtconv/internal/middleware"
	"txtconv/internal/services"
	"txtconv/internal/store"
	handlers "txtconv/internal/transport/http"
	ws "txtconv/internal/websocket"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

const (
	VERSION = "1.0.0"
	AppName = "txtconv"
)

// BuildTime is set at compile time via -ldflags
var BuildTime = time.Now().Format(time.RFC3339)

// Application represents the main application container
type Application struct {
	Config         *config.Config
	Router         *chi.Mux
	Server         *http.Server
	Store          *store.Store
	WebSocketHub   *ws.Hub
	ConvertService *services.ConvertService
	HealthService  *services.HealthService
	Logger         *slog.Logger
	Metrics        *infrastructure.MetricsProviders
}

// NewApplication creates a new application instance with dependency injection
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Application starting",
		slog.String("name", AppName),
		slog.String("version", VERSION))

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to ensure directories: %w", err)
	}

	metrics, err := infrastructure.InitializeMetrics(infrastructure.DefaultMetricsConfig(VERSION), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	app := &Application{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := app.setupRouter(); err != nil {
		return nil, fmt.Errorf("failed to set up router: %w", err)
	}

	app.createServer()

	return app, nil
}

// initializeServices initializes all application services
func (a *Application) initializeServices() error {
	// Job history store, optional by configuration
	if a.Config.Store.Enabled {
		jobs, err := store.New(a.Config.Store.Path)
		if err != nil {
			return fmt.Errorf("failed to open job store at %s: %w", a.Config.Store.Path, err)
		}
		a.Store = jobs
		a.Logger.Info("Job store opened", slog.String("path", a.Config.Store.Path))
	} else {
		a.Logger.Info("Job history disabled by configuration")
	}

	// WebSocket hub for progress broadcasting
	hub := ws.NewHub(a.Logger)
	hub.ConfigureTiming(a.Config.WebSocket.PingPeriod, a.Config.WebSocket.PongWait)
	hub.Start()
	a.WebSocketHub = hub

	// Conversion engine and its instruments
	converter := conv.NewConverter(a.Config.Convert.DefaultTarget)

	var conversionMetrics *infrastructure.ConversionMetrics
	if a.Metrics.Meter != nil {
		cm, err := infrastructure.NewConversionMetrics(a.Metrics.Meter)
		if err != nil {
			return fmt.Errorf("failed to create conversion metrics: %w", err)
		}
		conversionMetrics = cm
	}

	a.ConvertService = services.NewConvertService(converter, a.Store, hub, conversionMetrics, a.Logger)
	a.ConvertService.SetBatchWorkers(a.Config.Convert.BatchWorkers)
	a.HealthService = services.NewHealthService(VERSION, BuildTime, a.Store, hub, a.Logger)

	return nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() error {
	r := chi.NewRouter()

	// Minimal middleware that won't interfere with WebSocket upgrades.
	// These are safe because they don't wrap the ResponseWriter.
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	// WebSocket route registered before the full middleware group
	wsHandler := handlers.NewWebSocketHandler(
		a.WebSocketHub,
		a.Config.Security.AllowedOrigins,
		a.Config.WebSocket.ReadBufferSize,
		a.Config.WebSocket.WriteBufferSize,
		a.Logger,
	)
	r.Handle("/ws", wsHandler)

	// Static assets outside the middleware group
	a.setupStaticRoutes(r)

	errorHandler := apierrors.NewErrorHandler(a.Logger, false)

	// Everything else gets the full middleware chain
	r.Group(func(r chi.Router) {
		if a.Metrics.Meter != nil {
			httpMetrics, err := infrastructure.NewHTTPMetrics(a.Metrics.Meter)
			if err != nil {
				a.Logger.Error("Failed to create HTTP metrics", slog.String("error", err.Error()))
			} else {
				r.Use(customMiddleware.HTTPMetrics(httpMetrics))
			}
		}

		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(customMiddleware.Recoverer(a.Logger))
		r.Use(customMiddleware.SecurityHeaders)
		r.Use(customMiddleware.Compress(5))

		if a.Config.Security.EnableCORS {
			r.Use(customMiddleware.CORS(a.corsConfig()))
		}

		if a.Config.Security.RateLimit.Enabled {
			r.Use(customMiddleware.NewRateLimiter(
				a.Config.Security.RateLimit.RPS,
				a.Config.Security.RateLimit.Burst,
				a.Logger,
			).Handler)
		}

		a.setupAPIRoutes(r, errorHandler)
	})

	r.NotFound(errorHandler.NotFound)
	r.MethodNotAllowed(errorHandler.MethodNotAllowed)

	// Prometheus endpoint outside the middleware group
	if a.Metrics.PrometheusHTTP != nil {
		r.Handle("/metrics", a.Metrics.PrometheusHTTP)
	}

	a.Router = r
	return nil
}

// setupAPIRoutes configures API endpoints
func (a *Application) setupAPIRoutes(r chi.Router, errorHandler *apierrors.ErrorHandler) {
	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		// Standard timeout for lightweight endpoints
		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.Timeout(a.Config.Server.ReadTimeout, a.Logger))

			healthHandler := handlers.NewHealthHandler(a.HealthService, a.Logger)
			r.Mount("/health", healthHandler.Routes())
			r.Get("/version", healthHandler.Version)

			charsetsHandler := handlers.NewCharsetsHandler(a.ConvertService, a.Logger)
			r.Mount("/charsets", charsetsHandler.Routes())

			jobsHandler := handlers.NewJobsHandler(a.ConvertService, a.Logger, errorHandler)
			r.Mount("/jobs", jobsHandler.Routes())
		})

		// Longer timeout for conversion endpoints that stream uploads
		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.Timeout(a.Config.Server.WriteTimeout, a.Logger))

			convertHandler := handlers.NewConvertHandler(
				a.ConvertService,
				a.Logger,
				errorHandler,
				a.Config.Convert.MaxTextBytes,
				a.Config.Convert.MaxUploadBytes,
			)
			r.Mount("/convert", convertHandler.Routes())
		})
	})
}

// setupStaticRoutes serves the static directory at the configured prefix.
// Missing directories are logged and skipped so the API still works.
func (a *Application) setupStaticRoutes(r chi.Router) {
	dir := a.Config.Paths.StaticDir
	if dir == "" {
		return
	}

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		a.Logger.Warn("Static directory not found, skipping static routes",
			slog.String("path", dir))
		return
	}

	prefix := strings.TrimSuffix(a.Config.Paths.StaticPrefix, "/")
	fileServer := customMiddleware.Compress(5)(
		http.StripPrefix(prefix, http.FileServer(http.Dir(dir))))
	r.Get(prefix+"/*", fileServer.ServeHTTP)

	indexPath := filepath.Join(dir, "index.html")
	if _, err := os.Stat(indexPath); err == nil {
		r.Get("/", func(w http.ResponseWriter, req *http.Request) {
			http.ServeFile(w, req, indexPath)
		})
	}

	a.Logger.Info("Static routes configured",
		slog.String("dir", dir),
		slog.String("prefix", prefix))
}

// corsConfig builds the CORS middleware configuration
func (a *Application) corsConfig() customMiddleware.CORSConfig {
	return customMiddleware.CORSConfig{
		AllowedOrigins: a.Config.Security.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept",
			"Content-Type",
			"X-Request-ID",
			"X-Requested-With",
		},
		ExposedHeaders: []string{
			"X-Request-ID",
			"X-Job-Id",
			"X-Source-Charset",
			"X-Target-Charset",
		},
		MaxAge: 300,
		Logger: a.Logger,
	}
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
	}
}

// Start starts the HTTP server in the background. Server errors cancel
// the supplied context so Run can unwind.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting server",
		slog.String("name", AppName),
		slog.String("version", VERSION),
		slog.Int("port", a.Config.Server.Port),
		slog.String("level", a.Config.Logging.Level))

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "Server started",
		slog.String("address", fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)))

	return nil
}

// Stop gracefully stops the application
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	a.WebSocketHub.Stop()

	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.ErrorContext(ctx, "Error closing job store", slog.String("error", err.Error()))
		}
	}

	if a.Metrics != nil {
		if err := a.Metrics.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down metrics", slog.String("error", err.Error()))
		}
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")

	if err := infrastructure.CloseLogFile(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}

	return nil
}

// Run runs the application until interrupted
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "Received interrupt signal")
	case <-ctx.Done():
		a.Logger.InfoContext(ctx, "Server stopped")
	}

	return a.Stop(context.Background())
}
