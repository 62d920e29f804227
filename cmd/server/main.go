package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hnguyen/pitchside/internal/api"
	"github.com/hnguyen/pitchside/internal/autoverify"
	"github.com/hnguyen/pitchside/internal/config"
	"github.com/hnguyen/pitchside/internal/database"
	"github.com/hnguyen/pitchside/internal/gemini"
	"github.com/hnguyen/pitchside/internal/metrics"
	"github.com/hnguyen/pitchside/internal/notifications"
	"github.com/hnguyen/pitchside/internal/picks"
	"github.com/hnguyen/pitchside/internal/service"
	"github.com/hnguyen/pitchside/internal/websocket"
)

func main() {
	// "vapid-keys" prints a fresh key pair for the .env file and exits
	if len(os.Args) > 1 && os.Args[1] == "vapid-keys" {
		notifications.PrintVAPIDKeys()
		return
	}

	// .env is optional; real deployments set env vars directly
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Config: %v", err)
	}

	if cfg.Gemini.APIKey == "" {
		log.Println("Warning: no Gemini API key configured, oracle calls will fail")
	}

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("Data directory: %v", err)
		}
	}

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Database: %v", err)
	}
	defer db.Close()

	m := metrics.New()
	store := picks.NewStore(db)

	hub := websocket.NewHub(m, cfg.Server.MaxWSConnections)
	go hub.Run()

	oracle := gemini.NewClient(cfg.Gemini.APIKey, cfg.Gemini.Model)

	notifier := notifications.NewService(notifications.Config{
		VAPIDPublicKey:  cfg.Push.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.Push.VAPIDPrivateKey,
		VAPIDSubject:    cfg.Push.VAPIDSubject,
		BatchInterval:   time.Duration(cfg.Push.BatchSeconds) * time.Second,
		Enabled:         cfg.Push.Enabled,
	}, db)

	controller := service.NewController(oracle, store, hub, m, notifier)

	worker, err := autoverify.NewWorker(controller, autoverify.Config{
		Enabled:  cfg.AutoVerify.Enabled,
		Interval: time.Duration(cfg.AutoVerify.IntervalMinutes) * time.Minute,
	}, service.ErrBusy)
	if err != nil {
		log.Fatalf("Auto-verify: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go notifier.Start(ctx)

	handler := api.NewHandler(controller, store, worker, notifier, db, m, hub)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	// Frontend assets, when present
	if _, err := os.Stat(cfg.Server.StaticDir); err == nil {
		mux.Handle("/", http.FileServer(http.Dir(cfg.Server.StaticDir)))
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: api.CORSMiddleware(cfg.Server.AllowedOrigin, mux),
	}

	go func() {
		log.Printf("Pitchside API starting on http://localhost%s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down...")
	hub.BroadcastStatus("shutting_down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown: %v", err)
	}
	if err := worker.Shutdown(); err != nil {
		log.Printf("Auto-verify shutdown: %v", err)
	}
}
