package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"stockroom/internal/auth"
	"stockroom/internal/db"
	"stockroom/internal/inventory"
	"stockroom/internal/maintenance"
	"stockroom/internal/observability"
	"stockroom/internal/purchase"
)

type Options struct {
	LoadDotEnv    bool
	RunMigrations bool
}

type Runtime struct {
	Handler http.Handler
	Close   func() error
}

func Build(options Options) (*Runtime, error) {
	if options.LoadDotEnv {
		_ = godotenv.Load()
	}

	logger := observability.NewLogger()

	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return nil, err
	}

	if err := observability.InitSentry(os.Getenv("SENTRY_DSN"), EnvOrDefault("APP_ENV", "development")); err != nil {
		logger.Error("init_sentry_failed", map[string]any{"error": err.Error()})
	}

	database, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	database.SetMaxOpenConns(envIntOrDefault("DB_MAX_OPEN_CONNS", 10))
	database.SetMaxIdleConns(envIntOrDefault("DB_MAX_IDLE_CONNS", 5))
	database.SetConnMaxLifetime(envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30))
	database.SetConnMaxIdleTime(envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10))

	if err := database.Ping(); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if options.RunMigrations {
		if err := db.RunMigrations(database); err != nil {
			_ = database.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}

	authRepo := auth.NewRepository(database)
	authService := auth.NewService(authRepo, jwtSecret)
	authService.WithTokenTTLs(
		envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 60),
		envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 168),
	)
	authHandler := auth.NewHandler(authService)

	if err := authService.BootstrapAdmin(context.Background(), os.Getenv("ADMIN_USERNAME"), os.Getenv("ADMIN_PASSWORD")); err != nil {
		_ = database.Close()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}

	itemRepo := inventory.NewRepository(database)
	itemHandler := inventory.NewHandler(itemRepo)

	purchaseRepo := purchase.NewRepository(database)
	purchaseService := purchase.NewService(purchaseRepo)
	purchaseHandler := purchase.NewHandler(purchaseService)

	cleanupHandler := maintenance.NewCleanupHandler(
		authRepo,
		logger,
		os.Getenv("CRON_SECRET"),
		envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", 500),
	)

	mux := NewMux(authService, authHandler, itemHandler, purchaseHandler, cleanupHandler, healthHandler(database))
	handler := observability.RecoverMiddleware(logger, observability.RequestLoggingMiddleware(logger, mux))

	return &Runtime{
		Handler: handler,
		Close: func() error {
			observability.FlushSentry()
			return database.Close()
		},
	}, nil
}

// NewMux wires the HTTP surface. Inventory routes require a valid access
// token; mutations additionally require the admin role, and purchases are
// reserved for non-admin accounts.
func NewMux(
	authService *auth.Service,
	authHandler *auth.Handler,
	itemHandler *inventory.Handler,
	purchaseHandler *purchase.Handler,
	cleanupHandler *maintenance.CleanupHandler,
	health http.HandlerFunc,
) *http.ServeMux {
	authed := func(next http.Handler) http.Handler {
		return auth.Middleware(authService, next)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /signup", authHandler.Signup)
	mux.HandleFunc("POST /login", authHandler.Login)
	mux.HandleFunc("POST /refresh", authHandler.Refresh)
	mux.HandleFunc("POST /logout", authHandler.Logout)
	mux.HandleFunc("GET /health", health)
	mux.HandleFunc("GET /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.HandleFunc("POST /internal/maintenance/cleanup", cleanupHandler.Handle)
	mux.Handle("GET /inventory", authed(http.HandlerFunc(itemHandler.ListItems)))
	mux.Handle("GET /inventory/{id}", authed(http.HandlerFunc(itemHandler.GetItem)))
	mux.Handle("POST /inventory", authed(auth.RequireAdmin(http.HandlerFunc(itemHandler.CreateItem))))
	mux.Handle("PUT /inventory/{id}", authed(auth.RequireAdmin(http.HandlerFunc(itemHandler.UpdateItem))))
	mux.Handle("DELETE /inventory/{id}", authed(auth.RequireAdmin(http.HandlerFunc(itemHandler.DeleteItem))))
	mux.Handle("POST /inventory/purchase/{id}", authed(auth.RequireNonAdmin(http.HandlerFunc(purchaseHandler.Purchase))))

	return mux
}

func healthHandler(database *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]any{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
		if err := database.PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]any{"status": "degraded", "time": time.Now().UTC().Format(time.RFC3339)}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func EnvOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
