package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/securelog/entries-api/internal/audit"
	"github.com/securelog/entries-api/internal/ban"
	"github.com/securelog/entries-api/internal/config"
	"github.com/securelog/entries-api/internal/logging"
	"github.com/securelog/entries-api/internal/messaging"
	"github.com/securelog/entries-api/internal/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logCloser := logging.Setup(cfg.Log)
	defer logCloser.Close()

	log.Println("Starting abuse event auditor...")

	if cfg.NATSURL == "" {
		log.Fatalf("NATS_URL is required")
	}

	c := &consumer{}

	// PostgreSQL setup.
	var db *sql.DB
	if cfg.Storage.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.Storage.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := db.PingContext(ctx); err != nil {
			cancel()
			log.Fatalf("failed to connect to database: %v", err)
		}
		cancel()
		if err := migrations.Up(db); err != nil {
			log.Fatalf("failed to migrate: %v", err)
		}
		c.store = audit.NewStore(db)
	}

	// Redis setup.
	var rdb *redis.Client
	if cfg.Storage.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Storage.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			cancel()
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		cancel()
		c.mirror = ban.NewMirror(rdb)
	}

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = "entries-auditor"

	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	err = natsClient.SubscribeAbuseEvents(func(data []byte) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.handle(ctx, data)
	})
	if err != nil {
		log.Fatalf("failed to subscribe to abuse events: %v", err)
	}

	log.Printf("Abuse event auditor running")
	log.Printf("  nats_url:   %s", natsConfig.URL)
	log.Printf("  postgres:   %v", db != nil)
	log.Printf("  redis_addr: %s", cfg.Storage.RedisAddr)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down...", sig)

	natsClient.Close()
	if rdb != nil {
		rdb.Close()
	}
	if db != nil {
		db.Close()
	}
}
