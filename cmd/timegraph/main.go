// cmd/timegraph is the entry point for the temporal knowledge graph daemon.
// It wires the storage backend, the embedding provider and the job pipeline,
// then runs the cron scheduler until interrupted.
//
// Startup sequence:
//  1. Load configuration from environment variables.
//  2. Open the storage backend (SQLite or PostgreSQL) and apply the schema.
//  3. Build the embedding provider, cache and rate limiter.
//  4. Optionally import a YAML seed file (-seed flag).
//  5. Start the cron scheduler for batch processing and queue GC.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/timegraph/timegraph/internal/config"
	"github.com/timegraph/timegraph/internal/embedding"
	"github.com/timegraph/timegraph/internal/engine"
	"github.com/timegraph/timegraph/internal/importer"
	"github.com/timegraph/timegraph/internal/limiter"
	"github.com/timegraph/timegraph/internal/storage"
	"github.com/timegraph/timegraph/internal/storage/postgres"
	"github.com/timegraph/timegraph/internal/storage/sqlite"
)

func main() {
	log.SetOutput(os.Stderr)
	log.SetPrefix("timegraph: ")
	log.SetFlags(log.LstdFlags)

	seedPath := flag.String("seed", "", "path to a YAML seed file to import on startup")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	store, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer store.Close()

	provider := buildProvider(cfg)

	cache := embedding.NewCache(cfg.Cache.Size, cfg.Cache.TTL)
	bucket := limiter.New(cfg.Limiter.Tokens, cfg.Limiter.Interval)

	jobs := engine.NewJobManager(store, provider, cache, bucket, engine.JobManagerConfig{
		BatchSize:   cfg.Jobs.BatchSize,
		MaxAttempts: cfg.Jobs.MaxAttempts,
		CleanupAge:  cfg.Jobs.CleanupAge,
	})

	manager := engine.NewManager(store, jobs, provider, engine.DecayConfig{
		HalfLifeDays:  cfg.Decay.HalfLifeDays,
		MinConfidence: cfg.Decay.MinConfidence,
	})

	if *seedPath != "" {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if _, err := importer.New(manager).ImportFile(ctx, *seedPath); err != nil {
			cancel()
			log.Fatalf("seed import failed: %v", err)
		}
		cancel()
	}

	scheduler, err := engine.NewScheduler(jobs, engine.SchedulerConfig{
		ProcessSpec: cfg.Jobs.ProcessSpec,
		CleanupSpec: cfg.Jobs.CleanupSpec,
	})
	if err != nil {
		log.Fatalf("failed to build scheduler: %v", err)
	}

	scheduler.Start()
	log.Printf("started (backend=%s, provider=%s)", cfg.Storage.Backend, cfg.Embedding.Provider)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received %s, shutting down", sig)

	scheduler.Stop()
}

// openStore opens the configured storage backend, creating the data
// directory for SQLite when needed.
func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "postgres":
		return postgres.New(cfg.Storage.DSN)
	default:
		if dir := filepath.Dir(cfg.Storage.DSN); dir != "." && cfg.Storage.DSN != ":memory:" {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, err
			}
		}
		return sqlite.New(cfg.Storage.DSN)
	}
}

// buildProvider constructs the configured embedding provider.
func buildProvider(cfg *config.Config) embedding.Provider {
	switch cfg.Embedding.Provider {
	case "mock":
		return embedding.NewMockProvider(0)
	case "openai":
		return embedding.NewOpenAIProvider(embedding.OpenAIConfig{
			APIKey:     cfg.Embedding.OpenAIAPIKey,
			BaseURL:    cfg.Embedding.OpenAIBaseURL,
			Model:      cfg.Embedding.OpenAIModel,
			Dimensions: cfg.Embedding.OpenAIDimensions,
		})
	default:
		return embedding.NewOllamaProvider(embedding.OllamaConfig{
			BaseURL:    cfg.Embedding.OllamaURL,
			Model:      cfg.Embedding.OllamaEmbeddingModel,
			Dimensions: cfg.Embedding.OllamaDimensions,
		})
	}
}
