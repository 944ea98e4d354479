// Worker runs the expired session sweep out of process and, when KAFKA_BROKERS and
// LOKI_URL are set, ships audit events from Kafka to Loki. The sweep needs DATABASE_URL.
// "worker once" runs a single sweep and exits.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"

	"edu-platform/auth/internal/config"
	"edu-platform/auth/internal/db"
	"edu-platform/auth/internal/platform/logging"
	"edu-platform/auth/internal/server"
	sessionrepo "edu-platform/auth/internal/session/repository"
	sessionservice "edu-platform/auth/internal/session/service"
	"edu-platform/auth/internal/telemetry/loki"
	"edu-platform/auth/internal/telemetry/metrics"
	userrepo "edu-platform/auth/internal/user/repository"
)

func main() {
	once := len(os.Args) > 1 && os.Args[1] == "once"

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(logging.Config{
		ServiceName: cfg.AppName + "-worker",
		Environment: cfg.Env,
		Level:       cfg.LogLevel,
	})
	slog.SetDefault(logger)

	if cfg.DatabaseURL == "" {
		logger.Error("worker: DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("worker: open database", "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	tokens, err := server.NewTokenProvider(cfg)
	if err != nil {
		logger.Error("worker: token provider", "error", err)
		os.Exit(1)
	}
	mgr := sessionservice.NewManager(
		sessionrepo.NewPostgresRepository(conn),
		userrepo.NewPostgresRepository(conn),
		tokens,
		sessionservice.Config{SessionTTL: cfg.SessionTTL, RefreshTTL: cfg.RefreshTTL},
		logger,
		sessionservice.WithMetrics(metrics.New(prometheus.DefaultRegisterer, cfg.AppName+"-worker")),
	)

	if once {
		sessions, toks, err := mgr.CleanupExpiredSessions(ctx)
		if err != nil {
			logger.Error("worker: cleanup failed", "error", err)
			os.Exit(1)
		}
		logger.Info("worker: cleanup done", "sessions", sessions, "tokens", toks)
		return
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("worker: sweeping expired sessions", "interval", cfg.CleanupInterval)
		sessionservice.NewSweeper(mgr, cfg.CleanupInterval, logger).Run(ctx)
	}()

	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 && cfg.LokiURL != "" {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:        brokers,
			Topic:          cfg.AuditKafkaTopic,
			GroupID:        cfg.KafkaGroupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			MaxWait:        time.Second,
			CommitInterval: time.Second,
		})
		defer reader.Close()
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Info("worker: shipping audit events", "topic", cfg.AuditKafkaTopic, "group", cfg.KafkaGroupID, "loki", cfg.LokiURL)
			loki.NewShipper(reader, loki.NewClient(cfg.LokiURL, cfg.AppName, nil), logger).Run(ctx)
		}()
	}

	wg.Wait()
	logger.Info("worker: stopped")
}
