package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/opsledger/authgate/internal/authgate/http"
	"github.com/opsledger/authgate/internal/authgate/idp"
	"github.com/opsledger/authgate/internal/authgate/service"
	"github.com/opsledger/authgate/internal/authgate/store"
	"github.com/opsledger/authgate/internal/authgate/store/drivers/sqlite"
	"github.com/opsledger/authgate/pkg/jwtx"
	"github.com/opsledger/authgate/pkg/slogx"
)

// BuildVersion should be set at build time via ldflags.
const BuildVersion = "v0.1.0"

// Application wires the gateway together: store, identity provider client,
// key cache, services, and the HTTP server.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db        store.Store
	idpClient *idp.Client
	keys      *jwtx.CachedKeySet
	verifier  *jwtx.Verifier

	tokenService        *service.TokenService
	orgService          *service.OrgService
	userService         *service.UserService
	housekeepingService *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New creates an Application instance with all dependencies initialized.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "authgate",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	if err := app.initDatabase(); err != nil {
		return nil, err
	}

	app.initProvider()
	app.initServices()
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeepingService.Start()

	// Warm the key cache so the first request does not pay the fetch. A
	// failure here is not fatal; readiness stays degraded until it works.
	warmCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := app.keys.Refresh(warmCtx); err != nil {
		app.logger.Warn("initial provider key fetch failed", "error", err)
	}
	cancel()

	app.logger.Info("authgate starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)

		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down authgate...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeepingService.Stop()

	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}

	app.logger.Info("authgate stopped")
	return nil
}

// initDatabase opens the store and applies migrations.
func (app *Application) initDatabase() error {
	host := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", app.cfg.DatabaseFile)
	db, err := sqlite.NewStore(host)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initProvider builds the upstream client and the verification pipeline
// that hangs off its JWKS endpoint.
func (app *Application) initProvider() {
	app.idpClient = idp.NewClient(idp.Config{
		BaseURL:      app.cfg.IdPBaseURL,
		Realm:        app.cfg.IdPRealm,
		ClientID:     app.cfg.IdPClientID,
		ClientSecret: app.cfg.IdPClientSecret,
		AdminUser:    app.cfg.IdPAdminUser,
		AdminPass:    app.cfg.IdPAdminPassword,
	})

	app.keys = jwtx.NewCachedKeySet(app.idpClient.FetchJWKS, app.cfg.KeysSoftTTL, app.cfg.KeysHardTTL)
	app.verifier = jwtx.NewVerifier(app.keys, app.cfg.Issuer)
}

// initServices initializes all business logic services.
func (app *Application) initServices() {
	app.tokenService = &service.TokenService{
		Store:      app.db,
		IdP:        app.idpClient,
		Verifier:   app.verifier,
		RefreshTTL: app.cfg.RefreshTTL,
	}
	app.orgService = &service.OrgService{
		Store:     app.db,
		InviteTTL: app.cfg.InviteTTL,
	}
	app.userService = &service.UserService{
		Store: app.db,
		IdP:   app.idpClient,
	}

	app.housekeepingService = service.NewHousekeepingService(
		app.db,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
}

// initHTTP initializes the HTTP router and server.
func (app *Application) initHTTP() {
	cookies := &httpapi.CookieManager{
		Secure:     app.cfg.CookieSecure,
		RefreshTTL: app.cfg.RefreshTTL,
	}

	router := httpapi.NewRouter(
		app.keys,
		app.verifier,
		cookies,
		BuildVersion,
		app.db,
		app.logger,
	)

	router.TokenService = app.tokenService
	router.OrgService = app.orgService
	router.UserService = app.userService
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
