package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/brunobiangulo/mentormatch"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON or YAML)")
	envFile := flag.String("env", ".env", "Path to .env file, loaded if present")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	// .env never overrides variables already set in the environment.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Error("loading env file", "path", *envFile, "error", err)
		os.Exit(1)
	}

	cfg := mentormatch.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = mentormatch.LoadConfig(*configPath); err != nil {
			slog.Error("loading config", "error", err)
			os.Exit(1)
		}
	}
	if err := mentormatch.ApplyEnv(&cfg); err != nil {
		slog.Error("reading environment", "error", err)
		os.Exit(1)
	}

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	apiKey := os.Getenv(mentormatch.EnvPrefix + "API_KEY")
	corsOrigins := os.Getenv(mentormatch.EnvPrefix + "CORS_ORIGINS")

	engine, err := mentormatch.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var handler http.Handler = newRouter(newHandler(engine))
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // RankAll and imports can run for minutes
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

func newRouter(h *handler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.handleHealth)

	mux.HandleFunc("POST /users", h.handleUpsertUser)
	mux.HandleFunc("GET /users/{id}", h.handleGetUser)
	mux.HandleFunc("DELETE /users/{id}", h.handleDeleteUser)
	mux.HandleFunc("PUT /users/{id}/student-profile", h.handleStudentProfile)
	mux.HandleFunc("PUT /users/{id}/supervisor-profile", h.handleSupervisorProfile)

	mux.HandleFunc("POST /topics", h.handleUpsertTopic)
	mux.HandleFunc("GET /topics/{id}", h.handleGetTopic)
	mux.HandleFunc("DELETE /topics/{id}", h.handleDeleteTopic)
	mux.HandleFunc("POST /roles", h.handleUpsertRole)
	mux.HandleFunc("GET /roles/{id}", h.handleGetRole)
	mux.HandleFunc("DELETE /roles/{id}", h.handleDeleteRole)

	mux.HandleFunc("POST /match/{direction}/{id}", h.handleMatch)
	mux.HandleFunc("POST /match/{direction}", h.handleMatchAll)
	mux.HandleFunc("GET /candidates/{direction}/{id}", h.handleCandidates)
	mux.HandleFunc("POST /candidates/{direction}/{id}/approve", h.handleApprove)
	mux.HandleFunc("POST /candidates/{direction}/{id}/reject", h.handleReject)

	mux.HandleFunc("GET /export/{direction}", h.handleExport)
	mux.HandleFunc("POST /import", h.handleImport)
	mux.HandleFunc("POST /embeddings/refresh", h.handleRefreshEmbeddings)
	return mux
}
