// Package app wires the portal together: configuration, logging,
// tracing, the licensing relay, the activation store, and the HTTP
// server that fronts them.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"keyportal/internal/activation"
	"keyportal/internal/config"
	"keyportal/internal/gateway"
	"keyportal/internal/infrastructure"
	"keyportal/internal/keygen"
	custommw "keyportal/internal/middleware"
	handlers "keyportal/internal/transport/http"
	ws "keyportal/internal/websocket"
)

const (
	AppName = "keyportal"
	Version = "1.0.0"
)

// Application is the assembled portal
type Application struct {
	Config *config.Config
	Logger *slog.Logger
	Router *chi.Mux
	Server *http.Server

	Gateway *gateway.Service
	Store   *activation.Store
	Hub     *ws.Hub

	OTelProviders *infrastructure.OTelProviders
}

// NewApplication builds the portal from configuration
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("application starting",
		slog.String("name", AppName),
		slog.String("version", Version))

	otelProviders, err := infrastructure.InitializeOTel(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
	}

	app.initializeServices()
	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices builds the relay, store, and hub in dependency order
func (a *Application) initializeServices() {
	upstream := keygen.NewClient(a.Config.Upstream, a.Logger)
	a.Gateway = gateway.NewService(upstream, a.Config.Upstream.PageSize, a.Logger)

	identity := activation.Identity{
		Email: a.Config.Portal.UserEmail,
		Name:  a.Config.Portal.UserName,
	}
	portalClient := activation.NewPortalClient(a.Gateway, upstream, a.Logger)
	a.Store = activation.NewStore(portalClient, identity, a.Logger)

	a.Hub = ws.NewHub(a.Logger)

	// Every committed store mutation is pushed to connected frontends
	// along with its resolved view.
	a.Store.Subscribe(func(state activation.State) {
		a.Hub.BroadcastState(state, activation.ResolveView(state))
	})
}

// setupRouter configures the HTTP router
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(custommw.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(custommw.StructuredLogger(a.Logger))
	r.Use(custommw.Recoverer(a.Logger))

	allowedDomain := a.Config.Security.AllowedDomain
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://" + allowedDomain, "https://" + allowedDomain},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if a.Config.Security.RateLimit.Enabled {
		r.Use(custommw.RateLimit(
			a.Config.Security.RateLimit.RPS,
			a.Config.Security.RateLimit.Burst,
			a.Logger,
		))
	}

	// Websocket upgrade carries its own origin check in the upgrader;
	// chi timeout middleware must not wrap it.
	wsHandler := ws.NewHandler(a.Hub, allowedDomain, a.Logger)
	r.Handle("/ws", wsHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(chimiddleware.Timeout(a.Config.Server.ReadTimeout))

		healthHandler := handlers.NewHealthHandler(Version)
		r.Mount("/health", healthHandler.Routes())

		// Relay endpoints sit behind the origin guard: the account token
		// lives here, so only the portal frontend may drive them.
		r.Group(func(r chi.Router) {
			r.Use(custommw.OriginGuard(allowedDomain, a.Logger))
			gatewayHandler := handlers.NewGatewayHandler(a.Gateway, a.Logger)
			r.Mount("/", gatewayHandler.Routes())
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	a.Router = r
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Run starts the portal and blocks until interrupted or the server
// fails. Shutdown is graceful within the configured timeout.
func (a *Application) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a.Hub.Start()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.Info("server listening",
			slog.String("addr", a.Server.Addr))
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		return a.Stop()
	})

	return g.Wait()
}

// Stop gracefully stops the portal
func (a *Application) Stop() error {
	a.Logger.Info("shutting down application")

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	a.Hub.Stop()

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.Error("error shutting down OpenTelemetry",
				slog.String("error", err.Error()))
		}
	}

	a.Logger.Info("application shutdown complete")
	return nil
}
