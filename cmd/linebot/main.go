package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/remiriasukaretto/LINEBOT/internal/bot"
	"github.com/remiriasukaretto/LINEBOT/internal/config"
	"github.com/remiriasukaretto/LINEBOT/internal/httpapi"
	"github.com/remiriasukaretto/LINEBOT/internal/line"
	"github.com/remiriasukaretto/LINEBOT/internal/queue"
	"github.com/remiriasukaretto/LINEBOT/internal/store/postgres"
	"github.com/remiriasukaretto/LINEBOT/internal/telemetry"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()

	shutdownTelemetry := telemetry.Setup("linebot")

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	st := postgres.NewStore(pool)
	lineClient := line.NewClient(cfg.ChannelSecret, cfg.ChannelAccessToken, line.Options{})
	engine := queue.NewEngine(st, st, st, lineClient, queue.Options{
		StorageTimeout: cfg.StorageTimeout,
	})
	router := bot.NewRouter(engine)
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:    cfg.RateLimitPerMinute,
		IPBurst:        cfg.RateLimitBurst,
		OwnerPerMinute: cfg.OwnerRateLimitPerMinute,
		OwnerBurst:     cfg.OwnerRateLimitBurst,
	})
	handler := httpapi.NewHandler(httpapi.Options{
		Engine:       engine,
		Router:       router,
		Transport:    lineClient,
		Tickets:      st,
		Types:        st,
		Settings:     st,
		Sessions:     st,
		Limiter:      limiter,
		PasswordHash: cfg.AdminPasswordHash,
		SessionTTL:   cfg.SessionTTL,
	})

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(handler.Routes())), "linebot")

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("linebot listening on %s", server.Addr)
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
	if err := shutdownTelemetry(ctx); err != nil {
		log.Printf("telemetry shutdown error: %v", err)
	}
}
