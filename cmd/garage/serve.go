package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/boltdb/bolt"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/neizzzy/garage/internal/config"
	"github.com/neizzzy/garage/internal/history"
	"github.com/neizzzy/garage/internal/record"
	"github.com/neizzzy/garage/internal/server"
	"github.com/neizzzy/garage/internal/server/auth"
	"github.com/neizzzy/garage/internal/server/handlers"
	"github.com/neizzzy/garage/internal/server/ratelimit"
	"github.com/neizzzy/garage/internal/store"
)

// Files of the data directory.
const (
	boltFile   = "garage.bolt"
	sqliteFile = "garage.sqlite"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the HTTP server.

Every flag can also be set with a GARAGE_<FLAG> environment variable (e.g.
GARAGE_DATA_DIR=/var/lib/garage), or in <data-dir>/.env. Everything else is
in <data-dir>/config.yaml, created with defaults on first start.`,
	Args:    cobra.NoArgs,
	PreRunE: processConfig,
	RunE:    runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("http", "localhost:8080", "Address to listen on (e.g., localhost:8080, :8080, 0.0.0.0:8080)")
	f.String("data-dir", "./data", "Data directory")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
}

// processConfig binds the flags and loads <data-dir>/.env. Variables already
// in the environment win over the file.
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	envPath := filepath.Join(viper.GetString("data-dir"), ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", envPath, err)
	}
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger(viper.GetString("log-level"))
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	dataDir := viper.GetString("data-dir")
	if err := os.MkdirAll(dataDir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	serverCfg, err := config.Load(dataDir)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", config.FileName, err)
	}

	res := &resources{dataDir: dataDir}
	defer res.Close()
	users, err := openBackend[*record.User](ctx, res, serverCfg.UsersBackend, "users")
	if err != nil {
		return err
	}
	cars, err := openBackend[*record.Car](ctx, res, serverCfg.CarsBackend, "cars")
	if err != nil {
		return err
	}
	slog.InfoContext(ctx, "Stores ready", "users", serverCfg.UsersBackend, "cars", serverCfg.CarsBackend)

	var repo *history.Repo
	if serverCfg.History {
		repo, err = history.Open(dataDir, "garage", "garage@localhost", "users.json", "cars.json", boltFile, sqliteFile)
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, "Data history enabled", "dir", dataDir)
	}

	proxies, err := serverCfg.Proxies()
	if err != nil {
		return err
	}
	rl := serverCfg.RateLimits
	limits := ratelimit.NewConfig(rl.AuthRatePerMin, rl.AuthBurst, rl.WriteRatePerMin, rl.WriteBurst)
	defer limits.Close()
	sessions := auth.New(serverCfg.Secret(), serverCfg.AdminEmail)
	defer sessions.Close()

	// Watch own executable for modifications (for development restarts)
	if err := watchExecutable(ctx, stop); err != nil {
		return fmt.Errorf("failed to watch executable: %w", err)
	}

	addr := viper.GetString("http")
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	build := getBuildInfo()
	svc := &handlers.Services{
		Users:    store.New("users", users),
		Cars:     store.New("cars", cars),
		Sessions: sessions,
	}
	cfg := &server.Config{
		MaxRequestBodyBytes: serverCfg.MaxRequestBodyBytes,
		RateLimits:          limits,
		History:             repo,
		Build:               build,
		TrustedProxies:      proxies,
	}
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.NewRouter(svc, cfg),
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "Starting server", "addr", addr, "version", build.Version)
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		slog.InfoContext(ctx, "Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown error: %w", err)
		}
		slog.InfoContext(ctx, "Server stopped")
	}
	return nil
}

// resources holds the database handles shared by the stores. They are opened
// on first use.
type resources struct {
	dataDir string
	boltDB  *bolt.DB
	sqlDB   *sql.DB
}

func (r *resources) openBolt() (*bolt.DB, error) {
	if r.boltDB == nil {
		db, err := store.OpenBolt(filepath.Join(r.dataDir, boltFile))
		if err != nil {
			return nil, err
		}
		r.boltDB = db
	}
	return r.boltDB, nil
}

func (r *resources) openSQLite(ctx context.Context) (*sql.DB, error) {
	if r.sqlDB == nil {
		db, err := store.OpenSQLite(ctx, filepath.Join(r.dataDir, sqliteFile))
		if err != nil {
			return nil, err
		}
		r.sqlDB = db
	}
	return r.sqlDB, nil
}

func (r *resources) Close() {
	if r.boltDB != nil {
		if err := r.boltDB.Close(); err != nil {
			slog.Error("Failed to close bolt database", "err", err)
		}
	}
	if r.sqlDB != nil {
		if err := r.sqlDB.Close(); err != nil {
			slog.Error("Failed to close sqlite database", "err", err)
		}
	}
}

// openBackend returns the backend named kind for the collection name.
func openBackend[T store.Row[T]](ctx context.Context, r *resources, kind, name string) (store.Backend[T], error) {
	switch kind {
	case config.BackendMemory:
		return store.NewMemory[T](), nil
	case config.BackendJSON:
		f, err := store.NewJSONFile[T](filepath.Join(r.dataDir, name+".json"))
		if err != nil {
			return nil, err
		}
		return f, nil
	case config.BackendCookie:
		return store.NewCookie[T](name, 0), nil
	case config.BackendBolt:
		db, err := r.openBolt()
		if err != nil {
			return nil, err
		}
		b, err := store.NewBolt[T](db, name)
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.BackendSQLite:
		db, err := r.openSQLite(ctx)
		if err != nil {
			return nil, err
		}
		return store.NewSQLite[T](db, name), nil
	default:
		return nil, fmt.Errorf("unknown backend %q for %s", kind, name)
	}
}

func watchExecutable(ctx context.Context, stop context.CancelFunc) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return err
	}
	return watchFile(ctx, exe, func() {
		slog.InfoContext(ctx, "Executable modified, initiating shutdown")
		stop()
	})
}

// watchFile calls onChange once when path is written to or its mode changes.
// The watcher stops with ctx.
func watchFile(ctx context.Context, path string, onChange func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(path); err != nil {
		_ = w.Close()
		return err
	}
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Chmod) {
					onChange()
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "Error watching file", "path", path, "err", err)
			}
		}
	}()
	return nil
}
