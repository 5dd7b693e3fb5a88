package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/auth"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/credential"
	credentialrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/credential/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/session"
	sessionrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/session/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

func main() {
	// load .env file if present so os.Getenv picks values from it
	// this is best-effort: if no .env exists, continue (use defaults or real env)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	lg, err := utilities.Init(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	sugar := lg.Sugar()
	sugar.Infow("starting service-auth-go", "addr", cfg.Addr, "db_driver", cfg.Database.Driver)

	db, err := database.Connect(cfg.Database)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	creds := credentialrepo.NewCredentialRepo(db)
	sessions := sessionrepo.NewSessionRepo(db)
	if err := creds.EnsureTable(ctx); err != nil {
		sugar.Fatalf("ensure auth_records: %v", err)
	}
	if err := sessions.EnsureTable(ctx); err != nil {
		sugar.Fatalf("ensure sessions: %v", err)
	}

	tokens, err := session.NewTokenService(cfg.AccessSecret, cfg.RefreshSecret,
		session.WithTTLs(cfg.AccessTTL, cfg.RefreshTTL),
		session.WithIssuer(cfg.Issuer),
	)
	if err != nil {
		sugar.Fatalf("token service: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := auth.NewService(creds, sessions, credential.BcryptHasher{Cost: cfg.BcryptCost}, tokens, sugar,
		auth.WithMetrics(auth.NewMetrics(reg)),
		auth.WithLockoutPolicy(cfg.MaxFailedAttempts, cfg.LockDuration),
	)
	if err != nil {
		sugar.Fatalf("auth service: %v", err)
	}

	handler := router.RegisterRoutes(router.Deps{
		Logger: sugar,
		Auth: auth.NewHandler(svc, auth.CookieConfig{
			Name:   cfg.CookieName,
			Secure: cfg.CookieSecure,
			MaxAge: cfg.RefreshTTL,
		}, sugar),
		BasePath:    cfg.BasePath,
		DB:          db,
		IDs:         utilities.NewIDGeneratorFromEnv(),
		Gatherer:    reg,
		Registerer:  reg,
		RateLimit:   cfg.RateLimit,
		CORSOrigins: cfg.CORSOrigins,
	})
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// run server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()
	sugar.Infow("service is running", "base_path", cfg.BasePath)

	<-ctx.Done()

	sugar.Info("shutting down")

	// give a short grace period for cleanup
	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}
