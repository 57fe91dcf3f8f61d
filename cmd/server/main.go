package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/artisanmarket/callcenter/internal/api"
	"github.com/artisanmarket/callcenter/internal/auth"
	"github.com/artisanmarket/callcenter/internal/config"
	"github.com/artisanmarket/callcenter/internal/credit"
	"github.com/artisanmarket/callcenter/internal/metrics"
	"github.com/artisanmarket/callcenter/internal/presence"
	"github.com/artisanmarket/callcenter/internal/pubsub"
	"github.com/artisanmarket/callcenter/internal/queueing"
	"github.com/artisanmarket/callcenter/internal/signaling"
	"github.com/artisanmarket/callcenter/internal/store"
	"github.com/artisanmarket/callcenter/internal/ws"
	"github.com/artisanmarket/callcenter/pkg/middleware"
)

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Dur("ring_timeout", cfg.RingTimeout).
		Msg("starting call center server")

	// Initialize JWKS for token verification (skipped in dev with SKIP_AUTH)
	if issuer := os.Getenv("JWT_ISSUER_URL"); issuer != "" {
		if err := auth.InitJWKS(issuer); err != nil {
			log.Fatal().Err(err).Msg("failed to initialize JWKS")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Directory store: DynamoDB (local or AWS) or in-memory per STORAGE_MODE
	st, err := store.NewStore(ctx, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize store")
	}

	// Signaling bus: Redis when configured, in-process otherwise
	var bus pubsub.Bus
	if cfg.RedisAddr != "" {
		redisBus, err := pubsub.NewRedisBus(ctx, cfg.RedisAddr, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect to redis")
		}
		bus = redisBus
	} else {
		log.Warn().Msg("REDIS_ADDR not set, using in-process signaling bus")
		bus = pubsub.NewMemoryBus()
	}
	defer bus.Close()

	presenceManager := presence.NewManager(st, bus, log.Logger)
	gate := credit.NewGate(st, log.Logger)
	coordinator := signaling.NewCoordinator(st, bus, gate, presenceManager, cfg.RingTimeout, log.Logger)
	engine := queueing.NewEngine(st, bus, presenceManager, coordinator, log.Logger)

	hub := ws.NewHub(bus, log.Logger)
	go hub.Run()

	wsHandler := ws.NewHandler(hub, cfg, log.Logger)
	apiHandler := api.NewHandler(engine, presenceManager, coordinator, st, log.Logger)

	// Create router
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Public routes
	r.Get("/health", healthHandler)
	r.Get("/api/metrics", metrics.Get().Handler)

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Get("/ws", wsHandler.ServeHTTP)

		r.Route("/api", func(r chi.Router) {
			r.Post("/queues", apiHandler.CreateQueue)
			r.Get("/queues/{slug}", apiHandler.GetQueue)
			r.Put("/queues/{slug}/agents", apiHandler.UpdateQueueAgents)
			r.Post("/queues/{slug}/enqueue", apiHandler.Enqueue)

			r.Post("/agents", apiHandler.RegisterAgent)
			r.Get("/agents/{agentId}", apiHandler.GetAgent)
			r.Put("/agents/{agentId}/presence", apiHandler.SetPresence)

			r.Put("/balances/{userId}", apiHandler.SetBalance)
			r.Get("/balances/{userId}", apiHandler.GetBalance)

			r.Post("/calls", apiHandler.StartCall)
			r.Get("/calls/{callId}", apiHandler.GetCall)
			r.Post("/calls/{callId}/answer", apiHandler.AnswerCall)
			r.Post("/calls/{callId}/reject", apiHandler.RejectCall)
			r.Post("/calls/{callId}/hangup", apiHandler.Hangup)
			r.Post("/calls/{callId}/candidates", apiHandler.AddCandidate)
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"callcenter"}`)
}
