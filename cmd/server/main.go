package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/bidguard/internal/api"
	"github.com/ignite/bidguard/internal/app"
	"github.com/ignite/bidguard/internal/config"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %v", addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	log.Println("bidguard API server starting")

	cfgPath := os.Getenv("BIDGUARD_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}

	handlers := api.NewHandlers(a.Recs, a.Gates, a.Outcomes, a.Scheduler, cfg.Learning.Window())
	server := api.NewServer(cfg.Server, handlers, api.NewHealthChecker(a.DB, a.Redis))

	if err := checkPortAvailable(server.Addr()); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", server.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()
	if cfg.Autopilot.Enabled {
		log.Printf("[server] autopilot enabled (min confidence %.2f)", cfg.Autopilot.MinConfidence)
	}

	<-done
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	a.Close(shutdownCtx)
	log.Println("Server stopped")
}
