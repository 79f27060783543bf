package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fleetops/permit-ledger/internal/adapter/handler"
	"github.com/fleetops/permit-ledger/internal/adapter/storage"
	"github.com/fleetops/permit-ledger/internal/core/service"
	"github.com/fleetops/permit-ledger/internal/port"
)

const (
	defaultHTTPAddr        = ":8080"
	defaultMySQLDSN        = "root:root@tcp(localhost:3306)/permits?parseTime=true"
	defaultRedisAddr       = "localhost:6379"
	defaultBackend         = "mysql"
	defaultCleanupInterval = 10 * time.Minute
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore := openStore(ctx)
	defer closeStore()

	volumes := service.NewVolumeService(store)
	matcher := service.NewMatcherService(store, volumes)
	allocations := service.NewAllocationService(store, volumes, matcher)
	cleanup := service.NewCleanupService(store)
	syncSvc := service.NewSyncService(store)

	mux := http.NewServeMux()
	httpHandler := handler.NewHTTPHandler(allocations, volumes, cleanup, syncSvc)
	httpHandler.Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:    envOr("HTTP_ADDR", defaultHTTPAddr),
		Handler: mux,
	}

	go func() {
		log.Printf("HTTP server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	stopCleanup := startCleanupLoop(ctx, cleanup)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	log.Println("HTTP server stopped")

	cancel()
	stopCleanup()
	log.Println("cleanup loop stopped")
}

// openStore builds the DocumentStore selected by STORE_BACKEND.
func openStore(ctx context.Context) (port.DocumentStore, func()) {
	switch envOr("STORE_BACKEND", defaultBackend) {
	case "memory":
		log.Println("using in-memory store")
		return storage.NewMemoryStore(), func() {}

	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     envOr("REDIS_ADDR", defaultRedisAddr),
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		log.Println("connected to redis")
		return storage.NewRedisStore(rdb), func() { rdb.Close() }

	case "mysql":
		db, err := sql.Open("mysql", envOr("MYSQL_DSN", defaultMySQLDSN))
		if err != nil {
			log.Fatalf("failed to connect mysql: %v", err)
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("failed to ping mysql: %v", err)
		}
		log.Println("connected to mysql")

		store := storage.NewMySQLStore(db)
		if err := store.EnsureSchema(ctx); err != nil {
			log.Fatalf("failed to ensure schema: %v", err)
		}
		return store, func() { db.Close() }

	default:
		log.Fatalf("unknown STORE_BACKEND %q", os.Getenv("STORE_BACKEND"))
		return nil, nil
	}
}

// startCleanupLoop runs the loaded-truck and duplicate cleanups on a
// timer. CLEANUP_INTERVAL=0 disables the loop.
func startCleanupLoop(ctx context.Context, cleanup *service.CleanupService) func() {
	interval := defaultCleanupInterval
	if raw := os.Getenv("CLEANUP_INTERVAL"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			log.Fatalf("invalid CLEANUP_INTERVAL %q: %v", raw, err)
		}
		interval = parsed
	}
	if interval == 0 {
		log.Println("periodic cleanup disabled")
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Printf("periodic cleanup every %s", interval)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if report, err := cleanup.CleanupLoadedTrucks(ctx); err != nil {
					log.Printf("loaded-truck cleanup failed: %v", err)
				} else if report.Deleted > 0 {
					log.Printf("loaded-truck cleanup removed %d allocations", report.Deleted)
				}
				if report, err := cleanup.CleanupDuplicateAllocations(ctx); err != nil {
					log.Printf("duplicate cleanup failed: %v", err)
				} else if report.Deleted > 0 {
					log.Printf("duplicate cleanup removed %d allocations", report.Deleted)
				}
			}
		}
	}()

	return func() { <-done }
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
