package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/tenantdesk/exojobs/internal/adapter/persistence"
	"github.com/tenantdesk/exojobs/internal/app"
)

func main() {
	timeout := flag.Duration("timeout", 30*time.Second, "how long to wait for the audit database")
	flag.Parse()

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	repo, err := persistence.OpenAuditRepository(ctx, cfg.Audit)
	if err != nil {
		log.Fatalf("failed to open audit store: %v", err)
	}
	defer repo.Close()

	if err := repo.Migrate(ctx); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	log.Printf("Audit schema ready (driver=%s)", cfg.Audit.Driver)
}
