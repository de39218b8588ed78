package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"session-control-plane/internal/audit"
	auditrepo "session-control-plane/internal/audit/repository"
	"session-control-plane/internal/auth"
	authhandler "session-control-plane/internal/auth/handler"
	"session-control-plane/internal/config"
	"session-control-plane/internal/db"
	orgrepo "session-control-plane/internal/organization/repository"
	"session-control-plane/internal/ratelimit"
	"session-control-plane/internal/security"
	"session-control-plane/internal/server"
	"session-control-plane/internal/server/middleware"
	"session-control-plane/internal/telemetry/otel"
	tokenrepo "session-control-plane/internal/token/repository"
	userrepo "session-control-plane/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatal("config: JWT_SECRET must be set")
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("config: DATABASE_URL must be set")
	}

	ctx := context.Background()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "session-control-plane", cfg.Env != "production")
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()

	users := userrepo.NewPostgresRepository(database)
	orgs := orgrepo.NewPostgresRepository(database)
	tokens := tokenrepo.NewPostgresRepository(database)
	audits := auditrepo.NewPostgresRepository(database)

	hasher := security.NewHasher(cfg.BcryptCost)
	issuer := security.NewTokenProvider([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
	auditLogger := audit.NewLogger(audits, middleware.GetClientIP)

	var limiter *ratelimit.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		limiter = ratelimit.NewLimiter(rdb, cfg.LoginMaxAttempts, cfg.AttemptWindow())
	}

	svc := auth.NewService(users, orgs, tokens, hasher, issuer, cfg.RefreshTTL(), auditLogger, audits)
	router := server.NewRouter(authhandler.New(svc, limiter), issuer)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(router, "http.server"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	log.Println("HTTP server stopped")
}
