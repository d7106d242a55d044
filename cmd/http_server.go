package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"

	"github.com/frahmantamala/fleet-portal/api"
	"github.com/frahmantamala/fleet-portal/internal"
	"github.com/frahmantamala/fleet-portal/internal/access"
	"github.com/frahmantamala/fleet-portal/internal/audit"
	auditPostgres "github.com/frahmantamala/fleet-portal/internal/audit/postgres"
	"github.com/frahmantamala/fleet-portal/internal/backend"
	"github.com/frahmantamala/fleet-portal/internal/guard"
	"github.com/frahmantamala/fleet-portal/internal/portal"
	"github.com/frahmantamala/fleet-portal/internal/session"
	"github.com/frahmantamala/fleet-portal/internal/session/cookie"
	sessionPostgres "github.com/frahmantamala/fleet-portal/internal/session/postgres"
	sessionRedis "github.com/frahmantamala/fleet-portal/internal/session/redis"
	"github.com/frahmantamala/fleet-portal/internal/telemetry"
	"github.com/frahmantamala/fleet-portal/internal/transport"
	"github.com/frahmantamala/fleet-portal/internal/transport/middleware"
	"github.com/frahmantamala/fleet-portal/internal/transport/rest"
	"github.com/frahmantamala/fleet-portal/pkg/logger"
)

var httpServerCmd = &cobra.Command{
	Use:   "server",
	Short: "Start HTTP server",
	Long:  `Start the gateway: session API, access API and the guarded portal pages`,
	Run: func(cmd *cobra.Command, args []string) {
		startHTTPServer()
	},
}

type Dependencies struct {
	Config  *internal.Config
	DB      *sqlx.DB
	Redis   *goredis.Client
	Router  *chi.Mux
	Backend *backend.Client
	Stores  session.StoreOpener
	Metrics *telemetry.Metrics
	Logger  *slog.Logger
}

func startHTTPServer() {
	deps, err := initializeDependencies()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize dependencies: %v\n", err)
		os.Exit(1)
	}
	defer deps.Close()

	if err := setupRoutes(deps); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up routes: %v\n", err)
		os.Exit(1)
	}

	addr := fmt.Sprintf(":%d", deps.Config.Server.Port)
	deps.Logger.Info("Starting HTTP server", "address", addr, "session_store", deps.Config.Session.Store)

	server := &http.Server{
		Addr:              addr,
		Handler:           deps.Router,
		ReadHeaderTimeout: deps.Config.Server.ReadHeaderTimeout,
		ReadTimeout:       deps.Config.Server.ReadTimeout,
		WriteTimeout:      deps.Config.Server.WriteTimeout,
		IdleTimeout:       deps.Config.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serverErrChan := make(chan error, 1)
	go func() {
		serverErrChan <- server.ListenAndServe()
	}()

	select {
	case sig := <-sigChan:
		deps.Logger.Info("Received signal, shutting down...", "signal", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			deps.Logger.Error("Server shutdown error", "error", err)
		}
	case err := <-serverErrChan:
		if err != nil && err != http.ErrServerClosed {
			deps.Logger.Error("Server failed to start", "error", err)
			deps.Close()
			os.Exit(1)
		}
	}

	deps.Logger.Info("Server stopped")
}

func setupRoutes(deps *Dependencies) error {
	cfg := deps.Config
	lg := deps.Logger
	base := transport.NewBaseHandler(lg)

	var subscribers []portal.Subscriber
	if deps.DB != nil {
		subscribers = append(subscribers, audit.NewRecorder(auditPostgres.NewAuditRepository(deps.DB), lg))
	}
	if deps.Metrics != nil {
		subscribers = append(subscribers, deps.Metrics)
	}

	rt := portal.NewRuntime(deps.Backend, deps.Stores, portal.Config{
		Session: session.Config{
			HomeRoute:    cfg.Portal.HomeRoute,
			SignInRoute:  signInRoute(cfg.Portal),
			PublicRoutes: cfg.Portal.PublicRoutes,
			TTL:          cfg.Session.TTL,
			LogoutWindow: cfg.Session.LogoutWindow,
		},
		FetchTimeout: cfg.Backend.Timeout,
	}, lg, subscribers...)

	g := guard.New(access.Default(), guard.Config{
		SignInRoute:  signInRoute(cfg.Portal),
		PublicRoutes: cfg.Portal.PublicRoutes,
		ExemptRoutes: cfg.Portal.ExemptRoutes,
	})

	var observers []guard.Observer
	if deps.Metrics != nil {
		observers = append(observers, deps.Metrics)
	}

	validator, err := middleware.NewRequestValidator(api.OpenAPI, lg)
	if err != nil {
		return err
	}

	health := rest.NewHealthHandler(base).
		WithDB(deps.DB).
		With("backend", deps.Backend.Ping)
	if deps.Redis != nil {
		health = health.WithRedis(deps.Redis)
	}

	pageGuard := guard.Middleware(g, rt, guard.MiddlewareConfig{
		SignInURL:   cfg.Portal.SignInURL,
		MountPrefix: "/app",
	}, lg, observers...)

	rest.RegisterAllRoutes(deps.Router, rest.Routes{
		Health:         health,
		Session:        session.NewHandler(base, rt),
		Access:         portal.NewAccessHandler(base, g, rt),
		Static:         portal.NewStatic(cfg.Portal.StaticDir),
		PageGuard:      pageGuard,
		Metrics:        deps.Metrics,
		MetricsPath:    cfg.Observability.Metrics.Path,
		Validator:      validator,
		LoginLimiter:   middleware.NewRateLimiter(cfg.Server.LoginRatePerMin),
		AllowedOrigins: cfg.Server.Origins(),
		HomeRoute:      cfg.Portal.HomeRoute,
	}, lg)
	return nil
}

// signInRoute is the first public route, which the portal treats as its sign-in page.
func signInRoute(cfg internal.PortalConfig) string {
	if len(cfg.PublicRoutes) > 0 {
		return cfg.PublicRoutes[0]
	}
	return "/signin"
}

func initializeDependencies() (*Dependencies, error) {
	config, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.Init(config.Environment, config.Observability.Logging.Level)
	lg := logger.LoggerWrapper()

	client := backend.NewClient(backend.Config{
		BaseURL: config.Backend.BaseURL,
		Timeout: config.Backend.Timeout,
	}, lg)

	deps := &Dependencies{
		Config:  config,
		Logger:  lg,
		Router:  chi.NewRouter(),
		Backend: client,
	}

	if config.Observability.Metrics.Enabled {
		deps.Metrics = telemetry.New()
	}

	if config.Database.Source != "" {
		deps.DB, err = initDB(config.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
	}

	deps.Stores, err = initSessionStores(deps)
	if err != nil {
		deps.Close()
		return nil, err
	}

	return deps, nil
}

func initSessionStores(deps *Dependencies) (session.StoreOpener, error) {
	cfg := deps.Config.Session
	codec := cookie.NewCodec(cfg.Secret)
	jar := cookie.NewJar(cfg.CookieName, cfg.CookieDomain, cfg.Insecure)

	switch cfg.Store {
	case internal.SessionStoreDatabase:
		gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: deps.DB.DB}), &gorm.Config{
			Logger: gormLogger.Default.LogMode(gormLogger.Silent),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open gorm session store: %w", err)
		}
		return sessionPostgres.NewOpener(sessionPostgres.NewSessionRepository(gdb), cookie.NewIDCarrier(codec, jar)), nil

	case internal.SessionStoreRedis:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client, err := sessionRedis.NewClient(ctx, deps.Config.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		deps.Redis = client
		return sessionRedis.NewOpener(client, cookie.NewIDCarrier(codec, jar)), nil

	default:
		return cookie.NewOpener(codec, jar), nil
	}
}

// Close releases the database and Redis connections.
func (d *Dependencies) Close() {
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.Logger.Error("Redis close error", "error", err)
		}
		d.Redis = nil
	}
	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			d.Logger.Error("Database close error", "error", err)
		}
		d.DB = nil
	}
}

// initDB initializes the database connection
func initDB(cfg internal.DatabaseConfig) (*sqlx.DB, error) {
	const driver = "pgx"

	dbConn, err := sqlx.Connect(driver, cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("failed to open db connection: %w", err)
	}

	dbConn.SetMaxIdleConns(cfg.MaxIdleConns)
	dbConn.SetMaxOpenConns(cfg.MaxOpenConns)
	dbConn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	dbConn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return dbConn, nil
}
