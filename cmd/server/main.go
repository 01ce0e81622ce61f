package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"courseloom-backend/internal/config"
	"courseloom-backend/internal/database"
	"courseloom-backend/internal/handlers"
	"courseloom-backend/internal/middleware"
	"courseloom-backend/internal/repository"
	"courseloom-backend/internal/router"
	"courseloom-backend/internal/services"
)

func main() {
	log.Println("Starting Courseloom Authoring Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Println("✓ Environment variables loaded")

	// ──── Step 2: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("✗ PostgreSQL connection failed: %v", err)
	}
	defer pool.Close()
	log.Println("✓ PostgreSQL connected")

	// ──── Step 3: Initialize Redis Clients ────
	redisClients, err := database.NewRedisClients(cfg.RedisURL)
	if err != nil {
		log.Fatalf("✗ Redis connection failed: %v", err)
	}
	defer redisClients.Close()
	log.Println("✓ Redis connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(pool, "migrations"); err != nil {
		log.Fatalf("✗ Database migration failed: %v", err)
	}
	log.Println("✓ Database migrations applied")

	// ──── Initialize Repositories ────
	moduleRepo := repository.NewModuleRepo(pool)
	quizRepo := repository.NewQuizRepo(pool)

	// ──── Step 5: Initialize Generation Gateway ────
	indexingFeed := services.NewIndexingFeed(redisClients.Feed)
	gateway, err := services.NewGeminiGateway(cfg.GeminiAPIKey, cfg.GeminiConcurrentReqs, indexingFeed)
	if err != nil {
		log.Fatalf("✗ Gemini gateway initialization failed: %v", err)
	}
	defer gateway.Close()
	log.Println("✓ Gemini gateway initialized")

	// ──── Initialize Services ────
	jwtAuth := middleware.NewJWTAuth(cfg.JWTSecret)
	notifier := services.NewNotifier(redisClients.Events)
	treeService := services.NewContentTreeService(moduleRepo)
	quizService := services.NewQuizAuthoringService(quizRepo, gateway, notifier, cfg.GenerationTimeout)

	// ──── Initialize Handlers ────
	treeHandler := handlers.NewContentTreeHandler(treeService, indexingFeed)
	quizHandler := handlers.NewQuizHandler(quizService)

	// ──── Step 6: Start HTTP Server ────
	r := router.New(jwtAuth, treeHandler, quizHandler, cfg.FrontendURL)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * cfg.GenerationTimeout,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(ctx)
	}()

	log.Printf("✓ Courseloom backend ready on http://localhost:%s", cfg.Port)
	log.Printf("  API: http://localhost:%s/api/v1", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("Server error: %v", err)
	}
}
