package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/phonedesk/server/internal/auth"
	"github.com/phonedesk/server/internal/chat"
	"github.com/phonedesk/server/internal/config"
	"github.com/phonedesk/server/internal/db"
	httphandler "github.com/phonedesk/server/internal/http"
	"github.com/phonedesk/server/internal/http/handlers"
	"github.com/phonedesk/server/internal/metrics"
	"github.com/phonedesk/server/internal/middleware"
	"github.com/phonedesk/server/internal/phonechange"
	"github.com/phonedesk/server/internal/repo"
	"github.com/phonedesk/server/internal/verification"
)

func main() {
	// Load .env from CWD or server/ so it works from repo root or server/ (env vars override)
	_ = godotenv.Load(".env")
	_ = godotenv.Load("server/.env")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()

	issuer, database, err := newCodeIssuer(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to set up code issuer: %v", err)
	}
	if database != nil {
		defer database.Close()
	}

	m := metrics.New()

	var signer *auth.RecordSigner
	if cfg.SigningEnabled() {
		signer = auth.NewRecordSigner(cfg.RecordSecret, cfg.RecordTTL)
	} else {
		log.Println("RECORD_SECRET not set: session records are not signed")
	}

	stepHandler := phonechange.NewHandler(issuer, phonechange.WithMaxAttempts(cfg.MaxAttempts))
	service := chat.NewService(stepHandler, signer, m)

	router := httphandler.NewRouter(httphandler.Deps{
		Chat:        handlers.NewChatHandler(service),
		Stream:      handlers.NewStreamHandler(cfg.StreamDelay, nil, m),
		Metrics:     m,
		ChatLimiter: middleware.NewRateLimiter(cfg.RateLimitWindow, cfg.RateLimitMax),
	})

	// WriteTimeout has to outlast a full /process stream
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10*time.Second + 4*cfg.StreamDelay,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("Server starting on port %s (code issuer: %s)", cfg.Port, cfg.CodeIssuer)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}

// newCodeIssuer builds the configured issuer. The store issuer keeps codes in
// Postgres when DATABASE_URL is set and in memory otherwise; the returned
// *sql.DB is nil unless a database was opened.
func newCodeIssuer(ctx context.Context, cfg *config.Config) (phonechange.CodeIssuer, *sql.DB, error) {
	if cfg.CodeIssuer == config.IssuerDemo {
		return verification.NewDemoIssuer(), nil, nil
	}

	sender := verification.NewLogSender(log.Default())
	if cfg.DatabaseURL == "" {
		log.Println("DATABASE_URL not set: verification codes are kept in memory")
		return verification.NewStoreIssuer(repo.NewMemoryCodeRepo(), sender, cfg.OTPSalt, cfg.CodeTTL), nil, nil
	}

	database, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(database); err != nil {
		database.Close()
		return nil, nil, err
	}
	return verification.NewStoreIssuer(repo.NewCodeRepo(database), sender, cfg.OTPSalt, cfg.CodeTTL), database, nil
}
