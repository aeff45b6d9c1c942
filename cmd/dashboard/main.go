// Command dashboard boots scout's minimal read-only status surface
// (internal/dashboard) against the configured persistent store. It serves
// JSON only; any UI is a separate client built against this API.
package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/pcraw4d/scout/internal/config"
	"github.com/pcraw4d/scout/internal/dashboard"
	"github.com/pcraw4d/scout/internal/observability"
	"github.com/pcraw4d/scout/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()

	if err := dashboard.Gate(cfg.Dashboard); err != nil {
		log.Fatalf("dashboard: %v", err)
	}
	if !cfg.Dashboard.Enabled {
		log.Fatal("dashboard: SCOUT_DASHBOARD_ENABLED is not set; refusing to boot")
	}

	st, err := store.Open(context.Background(), cfg)
	if err != nil {
		log.Fatalf("dashboard: opening store: %v", err)
	}

	logger := observability.NewProduction()
	srv := dashboard.NewServer(st, cfg.Dashboard.Secret, logger)

	token, err := srv.IssueToken(24 * time.Hour)
	if err != nil {
		log.Fatalf("dashboard: issuing bootstrap token: %v", err)
	}
	log.Printf("dashboard: listening on %s (bootstrap token: %s)", cfg.Dashboard.Addr, token)

	httpServer := &http.Server{
		Addr:              cfg.Dashboard.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("dashboard: %v", err)
	}
}
