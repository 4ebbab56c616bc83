package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/securelog/entries-api/internal/api"
	"github.com/securelog/entries-api/internal/audit"
	"github.com/securelog/entries-api/internal/ban"
	"github.com/securelog/entries-api/internal/clock"
	"github.com/securelog/entries-api/internal/config"
	"github.com/securelog/entries-api/internal/entry"
	"github.com/securelog/entries-api/internal/gate"
	"github.com/securelog/entries-api/internal/logging"
	"github.com/securelog/entries-api/internal/messaging"
	"github.com/securelog/entries-api/internal/migrations"
	"github.com/securelog/entries-api/internal/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logCloser := logging.Setup(cfg.Log)
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real{}

	// --- Entry store ---
	store, closeStore, err := initStore(cfg.Storage, clk)
	if err != nil {
		log.Fatalf("failed to init entry store: %v", err)
	}
	defer closeStore()

	// --- Abuse events ---
	sinks := []audit.Sink{audit.LogSink}
	var natsClient *messaging.NATSClient
	if cfg.NATSURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATSURL
		natsConfig.Name = "entries-api-" + cfg.Server.Name
		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		sinks = append(sinks, audit.NewNATSSink(natsClient))
	}
	dispatcher := audit.NewDispatcher(cfg.Events, cfg.Server.Name, sinks...)

	// --- Gate ---
	ledger := ban.NewLedger(clk, ban.Config{
		Cooldown:        cfg.Abuse.Cooldown,
		CooldownIdleTTL: cfg.Abuse.CooldownIdleTTL,
	})
	limiter := ratelimit.NewLimiter(clk)
	g := gate.New(clk, ledger, limiter, gate.Config{
		Rate: ratelimit.Rule{
			Key:    ratelimit.RuleWrite.Key,
			Limit:  cfg.Abuse.RateLimit,
			Window: cfg.Abuse.RateWindow,
		},
		AttackBlock: cfg.Abuse.AttackBlock,
		ReportBlock: cfg.Abuse.ReportBlock,
	}, dispatcher)

	apiConfig := api.DefaultConfig()
	apiConfig.CORSOrigins = cfg.Server.CORSOrigins
	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           api.NewServer(g, store, clk, apiConfig).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("entries API starting")
	log.Printf("  listen_addr:   %s", cfg.Server.ListenAddr)
	log.Printf("  server_name:   %s", cfg.Server.Name)
	log.Printf("  store:         %s", storeKind(cfg.Storage))
	log.Printf("  nats_url:      %s", orNone(cfg.NATSURL))
	log.Printf("  rate_limit:    %d per %s", cfg.Abuse.RateLimit, cfg.Abuse.RateWindow)
	log.Printf("  cooldown:      %s", cfg.Abuse.Cooldown)
	log.Printf("  attack_block:  %s", cfg.Abuse.AttackBlock)
	log.Printf("  report_block:  %s", cfg.Abuse.ReportBlock)
	log.Printf("  sweep:         %s", cfg.SweepInt)

	bgCtx, cancelBg := context.WithCancel(context.Background())
	dispatcherDone := make(chan struct{})
	go func() {
		dispatcher.Run(bgCtx)
		close(dispatcherDone)
	}()
	go gate.StartSweeper(bgCtx, g, cfg.SweepInt)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Println("shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	// Stop the sweeper and flush pending events before closing NATS.
	cancelBg()
	<-dispatcherDone
	if natsClient != nil {
		natsClient.Close()
	}
	if n := dispatcher.Dropped(); n > 0 {
		log.Printf("[audit] %d events dropped during run", n)
	}
	log.Println("server stopped")
}

func initStore(cfg config.StorageConfig, clk clock.Clock) (entry.Store, func(), error) {
	if cfg.DatabaseURL == "" {
		return entry.NewMemoryStore(clk), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, nil, err
	}

	return entry.NewPostgresStore(db), func() {
		if err := db.Close(); err != nil {
			log.Printf("database close error: %v", err)
		}
	}, nil
}

func storeKind(cfg config.StorageConfig) string {
	if cfg.DatabaseURL == "" {
		return "memory"
	}
	return "postgres"
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
