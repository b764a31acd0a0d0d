package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/junaaid96/bank-ledger/internal/handler"
	"github.com/junaaid96/bank-ledger/internal/rules"
	"github.com/junaaid96/bank-ledger/internal/service"
	"github.com/junaaid96/bank-ledger/internal/store"
)

type Config struct {
	StoreBackend string // "postgres" or "memory"
	DBHost       string
	DBPort       string
	DBUser       string
	DBPassword   string
	DBName       string
	DBSSLMode    string
	ServerPort   string
}

func main() {
	// Initialise logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration
	config := loadConfig()
	policy := loadPolicy(logger)

	// Pick the ledger store backend
	var ledgerStore store.Store
	switch config.StoreBackend {
	case "memory":
		ledgerStore = store.NewMemoryStore()
		logger.Info("using in-memory ledger store")
	default:
		db, err := connectDB(config)
		if err != nil {
			logger.Error("failed to connect to database", "error", err.Error())
			os.Exit(1)
		}
		defer db.Close()
		ledgerStore = store.NewPostgresStore(db)
		logger.Info("connected to database successfully")
	}

	// Initialise services
	notifier := service.NewLogNotifier(logger)
	ledgerService := service.NewLedgerService(ledgerStore, policy, notifier, logger)
	accountService := service.NewAccountService(ledgerStore, logger)

	// Initialise handlers
	accountHandler := handler.NewAccountHandler(accountService, logger)
	ledgerHandler := handler.NewLedgerHandler(ledgerService, logger)

	// Setup router
	router := mux.NewRouter()
	accountHandler.RegisterRoutes(router)
	ledgerHandler.RegisterRoutes(router)

	// Add health check endpoint
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"healthy"}`))
	}).Methods(http.MethodGet)

	// Add middleware for logging
	router.Use(loggingMiddleware(logger))

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + config.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a go routine
	go func() {
		logger.Info("starting server on port " + config.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("failed to start server", "error", err.Error())
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server...")

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err.Error())
	}

	logger.Info("server exited gracefully")
}

// loads config from environment variables
func loadConfig() Config {
	return Config{
		StoreBackend: getEnv("LEDGER_STORE", "postgres"),
		DBHost:       getEnv("DB_HOST", "localhost"),
		DBPort:       getEnv("DB_PORT", "5432"),
		DBUser:       getEnv("DB_USER", "postgres"),
		DBPassword:   getEnv("DB_PASSWORD", "password"),
		DBName:       getEnv("DB_NAME", "bank"),
		DBSSLMode:    getEnv("DB_SSLMODE", "disable"),
		ServerPort:   getEnv("SERVER_PORT", "8080"),
	}
}

// loadPolicy starts from the default business limits and applies any
// environment overrides.
func loadPolicy(logger *slog.Logger) rules.Policy {
	policy := rules.DefaultPolicy()
	overrideDecimal(logger, "POLICY_MIN_DEPOSIT", &policy.MinDeposit)
	overrideDecimal(logger, "POLICY_MAX_DEPOSIT", &policy.MaxDeposit)
	overrideDecimal(logger, "POLICY_MIN_WITHDRAW", &policy.MinWithdraw)
	overrideDecimal(logger, "POLICY_MAX_WITHDRAW", &policy.MaxWithdraw)
	overrideDecimal(logger, "POLICY_MIN_TRANSFER", &policy.MinTransfer)
	if raw, exists := os.LookupEnv("POLICY_MAX_OPEN_LOANS"); exists {
		n, err := strconv.Atoi(raw)
		if err != nil {
			logger.Warn("ignoring invalid POLICY_MAX_OPEN_LOANS", "value", raw)
		} else {
			policy.MaxOpenLoans = n
		}
	}
	return policy
}

func overrideDecimal(logger *slog.Logger, key string, target *decimal.Decimal) {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		logger.Warn("ignoring invalid policy override", "key", key, "value", raw)
		return
	}
	*target = d
}

// getEnv fetches environment variable or returns default value
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// connectDB establishes a connection to the Postgres database
func connectDB(cfg Config) (*sql.DB, error) {
	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(10 * time.Minute)

	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// loggingMiddleware logs incoming HTTP requests
func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapped, r)

			logger.Info("incoming request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
