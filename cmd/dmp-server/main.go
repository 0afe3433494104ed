package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dmp/passport/internal/config"
	"github.com/dmp/passport/internal/domain/passport"
	"github.com/dmp/passport/internal/platform/accesslog"
	"github.com/dmp/passport/internal/platform/blobstore"
	"github.com/dmp/passport/internal/platform/db"
	"github.com/dmp/passport/internal/platform/middleware"
	"github.com/dmp/passport/internal/platform/openapi"
	"github.com/dmp/passport/internal/platform/transfer"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "dmp-server",
		Short: "Digital Medical Passport service",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(pushCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// backend is everything a command needs to assemble passports.
type backend struct {
	svc     *passport.Service
	lookups passport.Lookups
	health  db.Pinger
	pool    *pgxpool.Pool
	closers []func()
}

func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackend(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backend, error) {
	b := &backend{}

	var provider passport.SourceProvider
	switch cfg.DBDriver {
	case "sqlite":
		sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath, cfg.DBMaxConns)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { sqlDB.Close() })
		b.health = db.SQLPinger(sqlDB)
		provider = passport.NewSQLProvider(sqlDB)
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened sqlite database")
	default:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, pool.Close)
		b.pool = pool
		b.health = pool
		provider = passport.NewPGProvider(pool)
		logger.Info().Msg("connected to database")
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		b.Close()
		return nil, err
	}

	b.lookups, err = loadLookups(cfg.LookupsFile, logger)
	if err != nil {
		b.Close()
		return nil, err
	}

	validator, err := passport.NewValidator()
	if err != nil {
		b.Close()
		return nil, err
	}

	b.svc = passport.NewService(provider, validator, store, logger)
	return b, nil
}

func openStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	switch cfg.ExportStore {
	case "minio":
		store, err := blobstore.NewMinioStore(blobstore.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return blobstore.NewFileStore(cfg.ExportDir), nil
	}
}

// loadLookups reads the lookup registry. Without a file every lookup check
// is skipped.
func loadLookups(path string, logger zerolog.Logger) (passport.Lookups, error) {
	if path == "" {
		logger.Warn().Msg("LOOKUPS_FILE not set; coded values will not be checked on import")
		return passport.Lookups{}, nil
	}
	return passport.LoadLookups(path)
}

// newServer builds the echo instance with the full middleware chain and
// the passport routes. pool may be nil (SQLite).
func newServer(cfg *config.Config, logger zerolog.Logger, h *passport.Handler, health db.Pinger, pool *pgxpool.Pool) (*echo.Echo, error) {
	bodyLimit, err := middleware.ParseSize(cfg.BodyLimit)
	if err != nil {
		return nil, fmt.Errorf("BODY_LIMIT: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(middleware.BodyLimit(bodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	if pool != nil {
		e.Use(middleware.Audit(logger, accesslog.NewRecorder(pool)))
	} else {
		e.Use(middleware.Audit(logger))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if health != nil {
		e.GET("/health/db", db.HealthHandler(health))
	}

	exchange, err := passport.ExchangeSchema()
	if err != nil {
		return nil, err
	}
	openapi.NewGenerator(version, "", exchange).RegisterRoutes(e.Group("/api"))

	var readMW []echo.MiddlewareFunc
	if pool != nil {
		readMW = append(readMW, db.ConnMiddleware(pool))
	}
	h.RegisterRoutes(e.Group("/api/v1"), readMW...)

	return e, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the DMP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)

	b, err := openBackend(context.Background(), cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("failed to open backend")
		return err
	}
	defer b.Close()

	e, err := newServer(cfg, logger, passport.NewHandler(b.svc, b.lookups), b.health, b.pool)
	if err != nil {
		return err
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <patient-guid>",
		Short: "Print a patient's passport",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			save, _ := cmd.Flags().GetBool("save")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env)

			b, err := openBackend(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer b.Close()

			return runExport(cmd.Context(), b.svc, args[0], passport.ExportOptions{Format: format, Persist: save},
				cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().String("format", passport.FormatJSON, "Output format (json or xml)")
	cmd.Flags().Bool("save", false, "Also persist the export to the configured store")
	return cmd
}

func runExport(ctx context.Context, svc *passport.Service, guid string, opts passport.ExportOptions, out, errOut io.Writer) error {
	res, err := svc.Export(ctx, guid, opts)
	if errors.Is(err, passport.ErrNotFound) {
		return fmt.Errorf("patient %s not found", guid)
	}
	if err != nil {
		return err
	}

	if _, err := out.Write(append(res.Body, '\n')); err != nil {
		return err
	}
	if res.Location != "" {
		fmt.Fprintf(errOut, "saved to %s\n", res.Location)
	}
	return nil
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Validate a passport exchange document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lookupsPath, _ := cmd.Flags().GetString("lookups")
			logger := newLogger(os.Getenv("ENV"))

			lookups, err := loadLookups(lookupsPath, logger)
			if err != nil {
				return err
			}
			validator, err := passport.NewValidator()
			if err != nil {
				return err
			}
			svc := passport.NewService(nil, validator, nil, logger)

			return runImport(cmd.Context(), svc, args[0], lookups, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("lookups", os.Getenv("LOOKUPS_FILE"), "Lookup registry file (YAML or JSON)")
	return cmd
}

func runImport(ctx context.Context, svc *passport.Service, path string, lookups passport.Lookups, out io.Writer) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	res, err := svc.Import(ctx, payload, lookups)
	var verr *passport.ValidationError
	switch {
	case errors.As(err, &verr):
		fmt.Fprintf(out, "Validation failed (%s):\n", verr.Stage)
		for _, d := range verr.Errors {
			fmt.Fprintf(out, "  - %s\n", d)
		}
		return verr
	case errors.Is(err, passport.ErrInvalidPayload):
		return fmt.Errorf("%s: invalid JSON", path)
	case err != nil:
		return err
	}

	fmt.Fprintf(out, "DMP imported successfully: %s\n", res.PatientGUID)
	return nil
}

func pushCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "push <patient-guid>",
		Short: "Send a patient's passport to another DMP service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, _ := cmd.Flags().GetString("to")
			retries, _ := cmd.Flags().GetInt("retries")
			if to == "" {
				return fmt.Errorf("--to is required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env)

			b, err := openBackend(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer b.Close()

			client := transfer.New(transfer.Config{
				BaseURL:    to,
				Timeout:    cfg.TransferTimeout,
				RetryCount: retries,
			}, logger)
			return runPush(cmd.Context(), b.svc, client, args[0], b.lookups, cmd.OutOrStdout())
		},
	}
	cmd.Flags().String("to", "", "Base URL of the receiving DMP service")
	cmd.Flags().Int("retries", 3, "Retries on network errors and 5xx responses")
	return cmd
}

type pusher interface {
	Push(ctx context.Context, doc any) (*transfer.Receipt, error)
}

func runPush(ctx context.Context, svc *passport.Service, client pusher, guid string, lookups passport.Lookups, out io.Writer) error {
	doc, err := svc.Exchange(ctx, guid, lookups)
	var verr *passport.ValidationError
	switch {
	case errors.Is(err, passport.ErrNotFound):
		return fmt.Errorf("patient %s not found", guid)
	case errors.As(err, &verr):
		fmt.Fprintf(out, "Passport not sent, it fails %s validation:\n", verr.Stage)
		for _, d := range verr.Errors {
			fmt.Fprintf(out, "  - %s\n", d)
		}
		return verr
	case err != nil:
		return err
	}

	receipt, err := client.Push(ctx, doc)
	var rejected *transfer.RejectedError
	if errors.As(err, &rejected) {
		fmt.Fprintf(out, "Remote rejected passport: %s\n", rejected.Message)
		for _, d := range rejected.Details {
			fmt.Fprintf(out, "  - %s\n", d)
		}
		return rejected
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "%s: %s\n", receipt.Message, receipt.PatientGUID)
	return nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations (Postgres)",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatus(cmd.OutOrStdout(), statuses)
			return nil
		},
	}
	statusCmd.Flags().String("dir", "./migrations", "Path to migrations directory")
	cmd.AddCommand(statusCmd)

	return cmd
}

func printStatus(out io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(out, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}
