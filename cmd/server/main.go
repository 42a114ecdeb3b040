package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/hexhold/api/internal/config"
	"github.com/freeeve/hexhold/api/internal/handler"
	"github.com/freeeve/hexhold/api/internal/logger"
	"github.com/freeeve/hexhold/api/internal/middleware"
	"github.com/freeeve/hexhold/api/internal/repository/postgres"
	redisrepo "github.com/freeeve/hexhold/api/internal/repository/redis"
	"github.com/freeeve/hexhold/api/internal/service"
	"github.com/freeeve/hexhold/api/internal/world"
)

func main() {
	logger.Init()
	cfg := config.Load()
	log.Info().Str("databaseURL", cfg.DatabaseURL).Msg("Config loaded")

	worldCfg, err := world.Load(cfg.WorldConfigPath)
	if err != nil {
		log.Fatal().Err(err).Msg("World config load failed")
	}
	log.Info().Float64("speed", worldCfg.Speed).Int("radius", worldCfg.Map.Radius).Msg("World config loaded")

	// Database
	db, err := postgres.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Database connection failed")
	}
	defer db.Close()
	store := postgres.NewStore(db)

	// Redis
	redisClient, err := redisrepo.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Redis connection failed")
	}
	defer redisClient.Close()

	// Enable Redis keyspace notifications for timer expiry events.
	if err := redisClient.Underlying().ConfigSet(context.Background(), "notify-keyspace-events", "Ex").Err(); err != nil {
		log.Warn().Err(err).Msg("Failed to set Redis keyspace notifications (timer expiry may not work)")
	}

	// WebSocket hub
	wsHub := handler.NewHub()

	// Services
	combatSvc := service.NewCombatService(store, worldCfg, redisClient, wsHub)
	resolver := service.NewResolver(store, worldCfg, combatSvc, wsHub)
	settlementSvc := service.NewSettlementService(store, worldCfg, resolver, wsHub)
	playerSvc := service.NewPlayerService(store, worldCfg)
	growthSvc := service.NewGrowthService(store, worldCfg)
	expansionSvc := service.NewExpansionService(store, worldCfg)

	// Tick listener (growth and expansion on timer expiry)
	tickListener := service.NewTickListener(redisClient, growthSvc, expansionSvc)

	// Handlers
	playerHandler := handler.NewPlayerHandler(playerSvc)
	settlementHandler := handler.NewSettlementHandler(settlementSvc)
	reportHandler := handler.NewReportHandler(settlementSvc)
	wsHandler := handler.NewWSHandler(wsHub)

	// Router
	mux := http.NewServeMux()

	// Health
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// API routes
	api := http.NewServeMux()
	api.HandleFunc("POST /players", playerHandler.Join)
	api.HandleFunc("GET /players/{id}", playerHandler.GetPlayer)
	api.HandleFunc("GET /players/{id}/reports", reportHandler.ListPlayerReports)
	api.HandleFunc("GET /settlements/{id}", settlementHandler.GetSettlement)
	api.HandleFunc("POST /settlements/{id}/construction", settlementHandler.QueueConstruction)
	api.HandleFunc("POST /settlements/{id}/recruitment", settlementHandler.QueueRecruitment)
	api.HandleFunc("POST /settlements/{id}/attacks", settlementHandler.SendAttack)
	api.HandleFunc("POST /settlements/{id}/supports", settlementHandler.SendSupport)
	api.HandleFunc("GET /settlements/{id}/reports", reportHandler.ListSettlementReports)
	api.HandleFunc("DELETE /supports/{id}", settlementHandler.RecallSupport)
	api.HandleFunc("GET /reports/{id}", reportHandler.GetReport)

	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", api))

	// WebSocket (identified via query param, not headers)
	mux.HandleFunc("GET /api/v1/ws", wsHandler.ServeWS)

	// Apply global middleware
	root := middleware.Chain(mux, middleware.Logger, middleware.CORS(cfg.AllowedOrigins), middleware.JSON)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start tick listener (catches up missed growth/expansion ticks first)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tickListener.Start(ctx)

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("Server shutdown error")
	}
	log.Info().Msg("Server stopped")
}
