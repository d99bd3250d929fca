package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"golang.org/x/sync/errgroup"

	"mint/backend/internal/api"
	"mint/backend/internal/auth"
	"mint/backend/internal/catalog"
	"mint/backend/internal/config"
	"mint/backend/internal/execution"
	"mint/backend/internal/logging"
	"mint/backend/internal/mcp"
	"mint/backend/internal/observability"
	"mint/backend/internal/restclient"
	"mint/backend/internal/services"
	"mint/backend/internal/tls"
)

const shutdownTimeout = 30 * time.Second

func runServe(ctx context.Context) error {
	loader, cfg, logger, err := load()
	if err != nil {
		return err
	}
	logger.Info("configuration loaded",
		"environment", cfg.Environment,
		"config_file", loader.ConfigFileUsed(),
		"db_driver", cfg.DB.Driver,
		"okta_domain", cfg.Auth.OktaDomain,
		"okta_client_id", cfg.Auth.ClientID,
		"swagger_client_id", cfg.Auth.SwaggerClientID,
	)
	if cfg.Auth.SwaggerClientID != "" && cfg.Auth.SwaggerClientID == cfg.Auth.ClientID {
		logger.Warn("swagger client id matches backend client id; PKCE login from /docs will fail for a web app client")
	}
	loader.Watch(func(next *config.Config, err error) {
		if err != nil {
			logger.Warn("config reload failed", "error", err)
			return
		}
		logger.SetLevel(next.Log.Level)
		logger.Info("config reloaded", "log_level", next.Log.Level)
	})

	repo, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("database initialization failed", "error", err)
		return err
	}
	defer closeStore()
	logger.Info("store ready", "driver", cfg.DB.Driver)

	metrics, err := observability.Default()
	if err != nil {
		logger.Warn("metrics unavailable, using no-op instruments", "error", err)
		metrics = observability.Noop()
	}

	catalogOpts := []restclient.Option{restclient.WithTimeout(cfg.Catalog.Timeout)}
	if cfg.Catalog.APIKey != "" {
		catalogOpts = append(catalogOpts, restclient.WithAPIKey(cfg.Catalog.APIKey))
	}
	modelCatalog := catalog.NewModelClient(cfg.Catalog.Model.URL, catalogOpts...)
	dataCatalog, err := catalog.NewDataCatalog(cfg.Catalog.Data.Kind, cfg.Catalog.Data.URL, catalogOpts...)
	if err != nil {
		logger.Error("data catalog initialization failed", "error", err)
		return err
	}
	manager := execution.NewManager(restclient.New(cfg.Execution.URL), execution.WithMaxRetries(cfg.Execution.MaxRetries))

	scenarioService := services.NewScenarioService(repo, logger)
	threadService := services.NewThreadService(repo, modelCatalog, dataCatalog, cfg.Ensemble.MaxPerModel, metrics, logger)
	executionService := services.NewExecutionService(repo, manager, services.ExecutionConfig{
		BatchSize:        cfg.Execution.SubmitBatch,
		Concurrency:      cfg.Execution.SubmitConcurrency,
		VisualizationURL: cfg.Visualization.URL,
	}, metrics, logger)
	logger.Info("service layer initialized")

	authz, err := auth.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("auth initialization failed", "error", err)
		return err
	}
	if authz.Bypassed() {
		logger.Warn("authentication bypassed (DEV mode)")
	}

	e := newEcho(logger)
	apiHandler := api.NewHandler(scenarioService, threadService, executionService, repo, logger)

	// liveness probes stay outside the auth wall
	e.GET("/health", apiHandler.HandleHealth)

	e.GET("/login", echo.WrapHandler(http.HandlerFunc(authz.LoginHandler)))
	e.GET("/auth/callback", echo.WrapHandler(http.HandlerFunc(authz.CallbackHandler)))
	e.GET("/logout", echo.WrapHandler(http.HandlerFunc(authz.LogoutHandler)))

	apiGroup := e.Group("/api/v1")
	apiGroup.Use(echo.WrapMiddleware(authz.RequireAuth))
	api.RegisterHandlers(apiGroup, apiHandler)
	logger.Info("REST API handlers mounted")

	mcpServer := mcp.NewServer(scenarioService, threadService, executionService, logger)
	mcpHandlers := http.NewServeMux()
	mcp.MountHTTPHandlers(mcpHandlers, mcpServer.GetMCPServer())
	mcpHandler := echo.WrapHandler(authz.RequireAuth(mcpHandlers))
	e.Any("/mcp", mcpHandler)
	e.Any("/mcp/*", mcpHandler)
	logger.Info("MCP protocol handlers mounted")

	e.GET("/openapi.yaml", echo.WrapHandler(api.SpecHandler(cfg.Auth.OktaDomain)))
	e.GET("/docs", echo.WrapHandler(api.SwaggerHandler(cfg.Auth.SwaggerClientID)))
	e.GET("/docs/oauth2-redirect.html", echo.WrapHandler(api.OAuth2RedirectHandler()))

	if cfg.TLS.Enable {
		if cfg.TLS.CertFile == "" || cfg.TLS.KeyFile == "" {
			return errors.New("tls enabled but cert_file or key_file is not set")
		}
		created, err := tls.EnsureCert(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.Hostnames)
		if err != nil {
			logger.Error("failed to prepare TLS certificate", "error", err)
			return err
		}
		if created {
			logger.Warn("generated self-signed certificate", "cert_file", cfg.TLS.CertFile, "hosts", cfg.TLS.Hostnames)
		}
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      e,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	poller := execution.NewPoller(repo, manager, execution.PollerConfig{
		Interval:  cfg.Execution.PollInterval,
		BatchSize: cfg.Execution.SubmitBatch,
	}, logger, metrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "address", server.Addr, "tls", cfg.TLS.Enable)
		var err error
		if cfg.TLS.Enable {
			err = server.ListenAndServeTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		if err := poller.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		poller.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
			return server.Close()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
		return err
	}
	logger.Info("server stopped gracefully")
	return nil
}

func newEcho(logger *logging.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ErrorHandler(logger)

	httpLog := logger.Component("http")
	e.Use(middleware.Recover())
	e.Use(otelecho.Middleware("mint-backend"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			args := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				httpLog.Warn("request failed", append(args, "error", v.Error)...)
				return nil
			}
			httpLog.Debug("request", args...)
			return nil
		},
	}))
	return e
}
