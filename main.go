package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"bookbridge/internal/api"
	"bookbridge/internal/creds"
	"bookbridge/internal/events"
	"bookbridge/internal/market"
	"bookbridge/internal/monitor"
	"bookbridge/internal/push"
	"bookbridge/pkg/config"
	"bookbridge/pkg/db"
	"bookbridge/pkg/secrets"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("starting bookbridge on port %s (feed mode %s)", cfg.Port, cfg.FeedMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("db migrations failed: %v", err)
	}

	// Token-at-rest sealing is optional; without a master key the token is
	// stored as given.
	var box *secrets.Box
	if cfg.MasterKey != "" {
		box, err = secrets.NewBox(cfg.MasterKey)
		if err != nil {
			log.Fatalf("master key invalid: %v", err)
		}
		log.Println("token sealing enabled")
	}

	credStore := creds.NewStore(database, tokenOpener(box), creds.EnvDefaults{
		Token:     cfg.MetaApiToken,
		AccountID: cfg.MetaApiAccountID,
		Region:    cfg.MetaApiRegion,
	}, cfg.CredentialTTL)

	// Symbol catalog, with optional YAML override.
	catalog := market.DefaultCatalog()
	if cfg.SymbolsFile != "" {
		catalog, err = market.LoadCatalog(cfg.SymbolsFile)
		if err != nil {
			log.Fatalf("load symbol catalog %s: %v", cfg.SymbolsFile, err)
		}
		log.Printf("symbol catalog loaded from %s (%d symbols)", cfg.SymbolsFile, len(catalog.All()))
	}

	// Price ingestion
	engine := market.NewEngine(cfg.FeedMode, catalog, bus)
	engine.Connect(ctx, credStore.Get(ctx))
	defer engine.Disconnect()
	log.Printf("price engine state: %s", engine.State())

	// Trade push pipeline + status cache
	pipeline := push.NewPipeline(database, credStore, bus)
	statusCache := push.NewStatusCache(pipeline, credStore, cfg.StatusTTL)

	// Metrics + event monitor
	metrics := monitor.NewSystemMetrics()
	mon := &monitor.Monitor{Bus: bus, Metrics: metrics}
	mon.Start(ctx)

	version := os.Getenv("APP_VERSION")
	if version == "" {
		version = "v1.0-dev"
	}

	server := api.NewServer(
		bus,
		database,
		engine,
		pipeline,
		statusCache,
		credStore,
		box,
		metrics,
		api.SystemMeta{FeedMode: cfg.FeedMode, Version: version},
		cfg.JWTSecret,
	)

	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("http server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
}

// tokenOpener keeps the creds package unaware of the nil-box case: a typed
// nil *secrets.Box inside the interface would dodge the store's nil check.
func tokenOpener(box *secrets.Box) creds.TokenOpener {
	if box == nil {
		return nil
	}
	return box
}
