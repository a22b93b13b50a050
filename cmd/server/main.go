// Package main is the entry point for the InsightBull sentiment pipeline.
//
// Startup sequence:
//  1. Load configuration from environment variables
//  2. Initialize structured logging
//  3. Open the database and apply the schema
//  4. Load API credentials (encrypted key file, then environment)
//  5. Build the rate limiter and the collectors the credentials allow
//  6. Build the sentiment engine (LLM verification when a key is present)
//  7. Compose the pipeline and scheduler, register default jobs
//  8. Start the HTTP admin server and wait for a shutdown signal
//
// Composition happens here, explicitly: there are no singletons and no
// ambient globals, so tests can assemble the same pieces with fakes.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/abood991b/insightbull/internal/collectors"
	"github.com/abood991b/insightbull/internal/config"
	"github.com/abood991b/insightbull/internal/database"
	"github.com/abood991b/insightbull/internal/metrics"
	"github.com/abood991b/insightbull/internal/pipeline"
	"github.com/abood991b/insightbull/internal/ratelimit"
	"github.com/abood991b/insightbull/internal/reliability"
	"github.com/abood991b/insightbull/internal/repository"
	"github.com/abood991b/insightbull/internal/scheduler"
	"github.com/abood991b/insightbull/internal/sentiment"
	"github.com/abood991b/insightbull/internal/server"
	"github.com/abood991b/insightbull/internal/textproc"
	"github.com/abood991b/insightbull/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting InsightBull")

	db, err := database.New(database.Config{Path: cfg.DatabasePath})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	// Credentials: encrypted key file first, environment as fallback.
	// Missing keys disable the dependent collector or verifier.
	keyLoader := config.ChainKeyLoader{
		Loaders: []config.KeyLoader{
			config.NewFileKeyLoader(filepath.Join(cfg.DataDir, "keys.enc"), log),
			config.EnvKeyLoader{},
		},
		Log: log,
	}
	keys, err := keyLoader.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load credentials")
	}

	limiter, err := ratelimit.New(nil, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build rate limiter")
	}

	cs := buildCollectors(keys, limiter, log)
	if len(cs) == 0 {
		log.Fatal().Msg("No collectors available")
	}

	cache := sentiment.NewResultCache(
		filepath.Join(cfg.DataDir, "sentiment_cache.msgpack"),
		7*24*time.Hour,
		log,
	)
	defer func() {
		if err := cache.Flush(); err != nil {
			log.Warn().Err(err).Msg("Failed to flush sentiment cache")
		}
	}()

	var llm sentiment.LLMClient
	if key, ok := keys[config.KeyAnthropic]; ok {
		client, err := sentiment.NewAnthropicClient(key, os.Getenv("LLM_MODEL"), log)
		if err != nil {
			log.Warn().Err(err).Msg("LLM client unavailable, running ML-only")
		} else {
			llm = client
			log.Info().Msg("AI verification enabled")
		}
	}

	engine := sentiment.NewEngine(sentiment.Options{
		Mode:              sentiment.VerifyLowConfidenceAndNeutral,
		EnsembleEnabled:   true,
		FallbackToNeutral: true,
		LLM:               llm,
		Validator:         sentiment.TermRelevanceValidator{},
		Cache:             cache,
	}, log)

	store := repository.NewStore(db.Conn(), log)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	pipe := pipeline.New(
		cs,
		store,
		engine,
		textproc.New(textproc.DefaultConfig()),
		limiter,
		m,
		log,
	)

	sched := scheduler.New(scheduler.Options{
		Runner: pipe,
		Watchlist: func() ([]string, error) {
			tickers, err := store.Tickers.GetAllActive()
			if err != nil {
				return nil, err
			}
			symbols := make([]string, len(tickers))
			for i, t := range tickers {
				symbols[i] = t.Symbol
			}
			return symbols, nil
		},
		Quota:              scheduler.NewQuotaTracker(nil, log),
		State:              scheduler.NewStateFile(filepath.Join(cfg.DataDir, "scheduler_state.json"), log),
		History:            scheduler.NewHistoryFile(filepath.Join(cfg.DataDir, "scheduler_history.json"), 7, log),
		Metrics:            m,
		MaxItemsPerSymbol:  cfg.MaxItemsPerSymbol,
		ParallelCollectors: cfg.ParallelCollectors,
		CollectorTimeout:   time.Duration(cfg.CollectorTimeout) * time.Second,
		BatchSize:          cfg.SentimentBatchSize,
	}, log)

	if err := sched.RegisterDefaultJobs(); err != nil {
		log.Fatal().Err(err).Msg("Failed to register default jobs")
	}
	sched.Start()
	defer sched.Stop()

	startBackups(cfg, log)

	srv := server.New(server.Config{
		Port:      cfg.Port,
		DevMode:   cfg.DevMode,
		Log:       log,
		Pipeline:  pipe,
		Scheduler: sched,
		Store:     store,
		Registry:  registry,
	})

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Wait for shutdown signal.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
}

// buildCollectors constructs every collector whose requirements are met.
// Key-gated collectors are simply omitted when their credential is absent.
func buildCollectors(keys map[string]string, limiter *ratelimit.Limiter, log zerolog.Logger) []collectors.Collector {
	cs := []collectors.Collector{
		collectors.NewHackerNews(limiter, log),
		collectors.NewGDELT(limiter, log),
		collectors.NewYahooFinance(limiter, log),
	}

	if key, ok := keys[config.KeyFinnhub]; ok {
		if c, err := collectors.NewFinnhub(key, limiter, log); err == nil {
			cs = append(cs, c)
		}
	} else {
		log.Info().Msg("Finnhub key missing, collector disabled")
	}

	if key, ok := keys[config.KeyNewsAPI]; ok {
		if c, err := collectors.NewNewsAPI(key, limiter, log); err == nil {
			cs = append(cs, c)
		}
	} else {
		log.Info().Msg("NewsAPI key missing, collector disabled")
	}

	if key, ok := keys[config.KeyMarketAux]; ok {
		if c, err := collectors.NewMarketAux(key, limiter, log); err == nil {
			cs = append(cs, c)
		}
	} else {
		log.Info().Msg("MarketAux key missing, collector disabled")
	}

	return cs
}

// startBackups launches the daily backup loop when a bucket is configured.
func startBackups(cfg *config.Config, log zerolog.Logger) {
	backup, err := reliability.NewBackupService(cfg.Backup, cfg.DataDir, log)
	if err != nil {
		log.Warn().Err(err).Msg("Backup service unavailable")
		return
	}
	if backup == nil {
		return
	}

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
			if err := backup.Run(ctx); err != nil {
				log.Error().Err(err).Msg("Backup failed")
			}
			cancel()
		}
	}()
	log.Info().Str("bucket", cfg.Backup.Bucket).Msg("Daily backups enabled")
}
