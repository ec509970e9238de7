package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clinicq/queue-service/internal/config"
	"clinicq/queue-service/internal/httpapi"
	"clinicq/queue-service/internal/intake"
	"clinicq/queue-service/internal/store"
	"clinicq/queue-service/internal/store/postgres"
	"clinicq/queue-service/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup("queue-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	queueStore := postgres.NewStore(pool)
	handler := httpapi.NewHandler(queueStore, intake.NewKeywordClassifier(), httpapi.Options{
		SessionDefaults: store.SessionDefaults{
			StartTimeLocal:          cfg.SessionStart,
			EndTimeLocal:            cfg.SessionEnd,
			SlotMinutes:             cfg.SlotMinutes,
			MicroBufferMinutes:      cfg.MicroBufferMinutes,
			BreakEveryN:             cfg.BreakEveryN,
			BreakMinutes:            cfg.BreakMinutes,
			EmergencyReserveMinutes: cfg.EmergencyReserveMinutes,
		},
		UpcomingLimit: cfg.UpcomingLimit,
	})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:     cfg.RateLimitPerMinute,
		IPBurst:         cfg.RateLimitBurst,
		ClinicPerMinute: cfg.ClinicRateLimitPerMinute,
		ClinicBurst:     cfg.ClinicRateLimitBurst,
	})

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(handler.Routes())), "queue-service")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("queue-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
