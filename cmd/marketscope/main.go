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

	goredis "github.com/go-redis/redis/v8"

	"marketscope/config"
	"marketscope/internal/cache"
	"marketscope/internal/gateway"
	"marketscope/internal/indicator"
	"marketscope/internal/logger"
	"marketscope/internal/marketdata/yahoo"
	"marketscope/internal/metrics"
	"marketscope/internal/model"
	"marketscope/internal/notification"
	"marketscope/internal/pipeline"
	sqlitestore "marketscope/internal/store/sqlite"
	"marketscope/internal/warmer"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[marketscope] starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[marketscope] load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[marketscope] invalid config: %v", err)
	}
	logger.Init("marketscope", logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- Metrics & health ----
	prom := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Bar source: Yahoo, read through the SQLite store when enabled ----
	var source model.BarSource = yahoo.New(cfg.YahooProxy, cfg.YahooTimeout)
	var sqlDB *sql.DB
	var writerDone chan struct{}
	if cfg.SQLitePath != "" {
		sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
		if err != nil {
			log.Fatalf("[marketscope] sqlite init failed: %v", err)
		}
		defer sqlWriter.Close()
		sqlWriter.OnCommit = func(n int) { prom.BarsPersisted.Add(float64(n)) }

		reader, err := sqlitestore.NewReader(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("[marketscope] sqlite reader init failed: %v", err)
		}
		defer reader.Close()

		batches := make(chan sqlitestore.Batch, 256)
		writerDone = make(chan struct{})
		go func() {
			sqlWriter.Run(ctx, batches)
			close(writerDone)
		}()
		source = sqlitestore.NewAsyncSource(source, reader, batches)
		sqlDB = sqlWriter.DB()
		health.CheckSQLite(ctx, sqlDB)
		log.Println("[marketscope] sqlite bar store ready")
	}

	// ---- Result cache: Redis when configured, otherwise in-memory ----
	var resultCache model.ResultCache
	var rdb *goredis.Client
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			TTL:      cfg.CacheTTL,
			OnBreakerChange: func(_, to cache.State) {
				prom.RedisBreakerState.Set(float64(to))
				if to == cache.StateOpen {
					prom.RedisBreakerTrips.Inc()
				}
			},
		})
		if err != nil {
			log.Printf("[marketscope] WARNING: redis init failed: %v (using in-memory cache)", err)
		} else {
			defer rc.Close()
			resultCache = rc
			rdb = rc.Client()
			health.CheckRedis(ctx, rdb)
		}
	}
	if resultCache == nil {
		mem := cache.NewMemory(cfg.CacheTTL)
		go mem.RunSweeper(ctx, cfg.CacheTTL)
		resultCache = mem
	}

	health.StartLivenessChecker(ctx, rdb, sqlDB, 10*time.Second)

	// ---- Pipeline ----
	svc := pipeline.New(source, pipeline.Options{
		Cache:   resultCache,
		Metrics: prom,
		Health:  health,
		Set:     indicator.ParseSet(cfg.Indicators),
	})

	// ---- Cache warmer & alerts ----
	if symbols := cfg.Symbols(); len(symbols) > 0 {
		notifiers := notification.Multi{notification.NewLogNotifier()}
		if cfg.WebhookURL != "" {
			notifiers = append(notifiers, notification.Retrying{
				Next:       notification.NewWebhookNotifier(cfg.WebhookURL).WithToken(cfg.WebhookToken),
				MaxRetries: 3,
				Backoff:    time.Second,
			})
		}
		if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
			notifiers = append(notifiers, notification.Retrying{
				Next:       notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID),
				MaxRetries: 3,
				Backoff:    time.Second,
			})
		}
		w := warmer.New(ctx, svc.Signal, warmer.Config{
			Symbols:    symbols,
			Timeframes: cfg.ParseTimeframes(),
			Notifier:   notifiers,
			Metrics:    prom,
		})
		if err := w.Register(cfg.WarmCron); err != nil {
			log.Fatalf("[marketscope] %v", err)
		}
		w.Start()
		defer w.Stop()
	}

	// ---- HTTP gateway ----
	wsTF, _ := model.ParseTimeframe(cfg.WSTimeframe)
	hub := gateway.NewHub(svc, gateway.HubConfig{
		Interval:  cfg.WSInterval,
		Timeframe: wsTF,
		Metrics:   prom,
	})
	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, svc, hub, health)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           gateway.Traced(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("[marketscope] listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[marketscope] http server: %v", err)
		}
	}()

	// ---- Wait for shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("[marketscope] shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)
	hub.Shutdown()
	metricsSrv.Stop(shutdownCtx)
	cancel()
	if writerDone != nil {
		<-writerDone
	}
	log.Println("[marketscope] stopped")
}
