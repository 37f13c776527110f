package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/clinicdash/clinicdash/internal/config"
	"github.com/clinicdash/clinicdash/internal/domain/dashboard"
	"github.com/clinicdash/clinicdash/internal/domain/financial"
	"github.com/clinicdash/clinicdash/internal/platform/auth"
	"github.com/clinicdash/clinicdash/internal/platform/clinicdb"
	"github.com/clinicdash/clinicdash/internal/platform/db"
	"github.com/clinicdash/clinicdash/internal/platform/middleware"
	"github.com/clinicdash/clinicdash/internal/platform/transport"
	"github.com/clinicdash/clinicdash/internal/platform/websocket"
	"github.com/clinicdash/clinicdash/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinicdash-server",
		Short: "Clinic dashboard backend-for-frontend",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func openMigrator(ctx context.Context, cmd *cobra.Command) (*db.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return nil, nil, err
	}
	schema, _ := cmd.Flags().GetString("schema")
	if schema == "" {
		schema = cfg.DBSchema
	}

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: 2,
		TimeZone: cfg.TimeZone,
	})
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, migrations.FS, schema, newLogger(cfg.Env)), pool.Close, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the schema of the Postgres upstream",
	}
	cmd.PersistentFlags().String("schema", "", "Target schema (defaults to DB_SCHEMA)")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			migrator, closePool, err := openMigrator(ctx, cmd)
			if err != nil {
				return err
			}
			defer closePool()

			count, err := migrator.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s).\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			migrator, closePool, err := openMigrator(ctx, cmd)
			if err != nil {
				return err
			}
			defer closePool()

			statuses, err := migrator.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd, statuses)
			return nil
		},
	})

	return cmd
}

func printStatus(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if cfg.IsDev() {
		logger.Warn().
			Str("viewer_id", cfg.DevViewerID).
			Str("role", cfg.DevViewerRole).
			Msg("development mode: requests without a token act as the development viewer")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		client transport.Client
		pinger db.Pinger
	)
	switch cfg.UpstreamMode {
	case config.UpstreamPostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
			TimeZone: cfg.TimeZone,
		})
		if err != nil {
			logger.Error().Err(err).Msg("failed to connect to database")
			return err
		}
		defer pool.Close()
		logger.Info().Msg("connected to database")
		client, pinger = clinicdb.New(pool, logger), pool
	default:
		client = transport.NewREST(cfg.UpstreamBaseURL, nil, logger)
		logger.Info().Str("base_url", cfg.UpstreamBaseURL).Msg("using REST upstream")
	}

	srv, err := newServer(cfg, logger, client, pinger)
	if err != nil {
		return err
	}
	go srv.registry.Run(ctx)
	go srv.revocations.Run(ctx, 5*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("upstream", cfg.UpstreamMode).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = srv.echo.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = srv.echo.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server failed")
			return err
		}
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.echo.Shutdown(shutdownCtx)
}

type server struct {
	echo        *echo.Echo
	registry    *dashboard.Registry
	hub         *websocket.Hub
	revocations *auth.RevocationStore
}

// newServer wires the HTTP surface. pinger is nil unless the upstream is
// Postgres.
func newServer(cfg *config.Config, logger zerolog.Logger, client transport.Client, pinger db.Pinger) (*server, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	registry := dashboard.NewRegistry(cfg.SessionIdleTTL, logger)
	hub := websocket.NewHub(func(viewerID, topic string) bool {
		sid, ok := strings.CutPrefix(topic, "session:")
		return ok && registry.Owns(sid, viewerID)
	}, logger)
	registry.OnClose(hub.SessionClosed)
	revocations := auth.NewRevocationStore()

	opts := dashboard.Options{
		Client:    client,
		Location:  loc,
		LoginPath: cfg.LoginPath,
		Logger:    logger,
		Publish:   hub.SessionUpdated,
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.TLSEnabled))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowHeaders:     []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Location", middleware.RequestIDHeader},
		AllowCredentials: true,
	}))

	// Identity is optional at this layer: mounts redirect anonymous viewers
	// and the session routes require a viewer themselves.
	if len(cfg.AuthSigningKey) > 0 || cfg.AuthJWKSURL != "" {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:      cfg.AuthIssuer,
			Audience:    cfg.AuthAudience,
			JWKSURL:     cfg.AuthJWKSURL,
			SigningKey:  []byte(cfg.AuthSigningKey),
			Optional:    true,
			Revocations: revocations,
		}))
	}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(auth.Viewer{ID: cfg.DevViewerID, Role: cfg.DevViewerRole, Name: "Development"}))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "version": version})
	})
	if pinger != nil {
		e.GET("/health/db", db.HealthHandler(pinger))
	}

	rateLimitCfg := middleware.DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rateLimitCfg.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rateLimitCfg.BurstSize = cfg.RateLimitBurst
	}

	api := e.Group("/api/v1",
		middleware.RateLimit(rateLimitCfg),
		middleware.BodyLimit(cfg.BodyLimit),
		middleware.RequestTimeout(cfg.RequestTimeout),
	)
	dash := dashboard.NewHandler(registry, opts)
	dash.OnLogout(revocations.RevokeToken)
	dash.RegisterRoutes(api)
	financial.NewHandler(registry, opts).RegisterRoutes(api)

	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(e.Group(""))

	return &server{echo: e, registry: registry, hub: hub, revocations: revocations}, nil
}
