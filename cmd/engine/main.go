package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"papertrader/config"
	"papertrader/internal/api"
	"papertrader/internal/breaker"
	"papertrader/internal/engine"
	"papertrader/internal/events"
	"papertrader/internal/execution"
	"papertrader/internal/gateway"
	"papertrader/internal/logger"
	"papertrader/internal/marketdata"
	"papertrader/internal/metrics"
	"papertrader/internal/model"
	"papertrader/internal/notification"
	"papertrader/internal/risk"
	"papertrader/internal/settings"
	"papertrader/internal/store/memory"
	redisstore "papertrader/internal/store/redis"
	sqlitestore "papertrader/internal/store/sqlite"
)

// stores bundles the persistence ports backed by one implementation.
type stores struct {
	trades    model.TradeStore
	positions model.PositionStore
	journal   model.Journal
	close     func() error
}

func openStores(path string) (stores, error) {
	if path == "" {
		log.Println("[engine] SQLITE_PATH empty, using in-memory stores (journal is lost on exit)")
		m := memory.New()
		return stores{trades: m, positions: m, journal: m, close: func() error { return nil }}, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return stores{}, err
		}
	}
	s, err := sqlitestore.Open(path)
	if err != nil {
		return stores{}, err
	}
	return stores{trades: s, positions: s, journal: s, close: s.Close}, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[engine] invalid configuration: %v", err)
	}
	logger.InitWithFile("papertrader", logger.ParseLevel(cfg.LogLevel), logger.FileOptions{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
	log.Printf("[engine] starting symbol=%s mode=%s interval=%s", cfg.Symbol, cfg.EngineMode, cfg.TickInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	prom.AttachHealth(health)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, prom, health)
	metricsSrv.Start()

	// ---- Persistence ----
	st, err := openStores(cfg.SQLitePath)
	if err != nil {
		log.Fatalf("[engine] store init failed: %v", err)
	}
	defer st.close()

	// ---- Redis (optional) ----
	var rdb *goredis.Client
	if cfg.RedisAddr != "" {
		rdb, err = redisstore.Connect(ctx, redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			log.Printf("[engine] WARNING: redis init failed: %v (continuing without redis)", err)
			rdb = nil
		}
	}
	health.StartLivenessChecker(ctx, rdb, st.journal, 10*time.Second)

	// ---- Market data ----
	binanceCB := breaker.New("binance", 5, 30*time.Second)
	prom.WatchBreaker(binanceCB)
	mdOpts := []marketdata.Option{marketdata.WithBreaker(binanceCB)}
	if cfg.BinanceBaseURL != "" {
		mdOpts = append(mdOpts, marketdata.WithBaseURL(cfg.BinanceBaseURL))
	}
	source := marketdata.NewBinanceSource(mdOpts...)

	// ---- Event sinks: WebSocket hub, Redis Pub/Sub, alerts ----
	hub := gateway.NewHub(cfg.CORSOrigin)
	hub.OnClientCount = prom.SetWSClients
	fanout := events.NewFanout(hub)

	var persister settings.Persister
	if rdb != nil {
		redisCB := breaker.New("redis", 5, 10*time.Second)
		prom.WatchBreaker(redisCB)
		fanout.Add(redisstore.NewPublisher(rdb, redisCB))
		persister = redisstore.NewSettingsStore(rdb)
	}

	notifiers := notification.Multi{notification.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		notifiers = append(notifiers, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	alerts := notification.NewEventNotifier(notifiers, 256)
	go alerts.Run(ctx)
	fanout.Add(alerts)

	// ---- Engine ----
	cell := settings.NewCell(settings.Settings{
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		TestSignalMode:      cfg.TestSignalMode,
		AutoPaper:           true,
	}, persister)
	if cell.Load(ctx) {
		log.Printf("[engine] restored settings %+v", cell.Get())
	}

	exec := execution.NewEngine(st.trades, st.positions, fanout)
	sched := engine.NewScheduler(engine.Config{
		Symbol:      cfg.Symbol,
		Interval:    cfg.TickInterval,
		TickTimeout: cfg.TickTimeout,
		NotionalUSD: cfg.NotionalUSD,
		AutoTPPct:   cfg.AutoTPPct,
		AutoSLPct:   cfg.AutoSLPct,
	}, engine.Deps{
		Source:    source,
		Trades:    st.trades,
		Execution: exec,
		Guard:     risk.NewGuard(st.positions),
		Settings:  cell,
		Publisher: fanout,
		Recorder:  prom,
	})

	// ---- HTTP API ----
	router := api.NewRouter(api.Deps{
		Engine:    sched,
		Settings:  cell,
		Journal:   st.journal,
		Trades:    st.trades,
		Execution: exec,
		Source:    source,
		Publisher: fanout,
		Stream:    hub,
		Config:    cfg.Sanitized(),
	}, api.Options{
		EngineMode:      cfg.EngineMode,
		CORSOrigin:      cfg.CORSOrigin,
		AdminTOTPSecret: cfg.AdminTOTPSecret,
	})
	apiSrv := api.NewServer(cfg.HTTPAddr, router)
	apiSrv.Start()

	if cfg.EngineMode == config.ModePaper {
		if err := sched.Start(ctx); err != nil {
			log.Fatalf("[engine] scheduler start failed: %v", err)
		}
		health.SetEngineRunning(true)
	} else {
		log.Println("[engine] WARNING: engine mode disabled; scheduler not started")
	}

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[engine] shutdown signal received, cleaning up...")
	sched.Stop()
	health.SetEngineRunning(false)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := apiSrv.Stop(shutdownCtx); err != nil {
		log.Printf("[engine] api shutdown: %v", err)
	}
	hub.Close()
	metricsSrv.Stop(shutdownCtx)
	if rdb != nil {
		rdb.Close()
	}

	log.Println("[engine] shutdown complete.")
}
