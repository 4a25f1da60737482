package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"residuechain/internal/labdirectory"
	"residuechain/internal/ledger"
	"residuechain/internal/notify"
	"residuechain/internal/notify/kafka"
	"residuechain/internal/notify/outbox"
	"residuechain/internal/platform/config"
	"residuechain/internal/platform/httpserver"
	"residuechain/internal/platform/logger"
	"residuechain/internal/platform/metrics"
	platformredis "residuechain/internal/platform/redis"
	"residuechain/internal/prediction"
	predictionhandler "residuechain/internal/prediction/handler"
	"residuechain/internal/reference"
	"residuechain/internal/sample"
	samplehandler "residuechain/internal/sample/handler"
	"residuechain/internal/sweeper"
	"residuechain/internal/tamper"
	tamperhandler "residuechain/internal/tamper/handler"
	httptransport "residuechain/internal/transport/http"
)

// main wires dependencies and supervises the process lifecycle. Business
// logic lives in the internal service packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	// Storage. An empty DSN selects the in-memory stores for development.
	var (
		db          *sql.DB
		sampleStore sample.Store
		outboxStore outbox.Store
		tamperStore tamper.Store
		labs        labdirectory.Directory
	)
	if cfg.PostgresDSN != "" {
		var err error
		db, err = sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return err
		}

		labDir := labdirectory.NewPostgres(db)
		samplePG := sample.NewPostgresStore(db)
		outboxPG := outbox.NewPostgresStore(db)
		tamperPG := tamper.NewPostgresStore(db)
		for _, ensure := range []func(context.Context) error{
			labDir.EnsureSchema, samplePG.EnsureSchema, outboxPG.EnsureSchema, tamperPG.EnsureSchema,
		} {
			if err := ensure(ctx); err != nil {
				return err
			}
		}
		labs, sampleStore, outboxStore, tamperStore = labDir, samplePG, outboxPG, tamperPG
	} else {
		log.Warn("no postgres DSN configured, using in-memory stores")
		labs = labdirectory.NewInMemoryDirectory()
		sampleStore = sample.NewInMemoryStore()
		outboxStore = outbox.NewInMemoryStore()
		tamperStore = tamper.NewInMemoryStore()
	}

	redisClient, err := platformredis.New(cfg.RedisURL)
	if err != nil {
		return err
	}
	var dedup sweeper.Dedup
	if redisClient != nil {
		defer redisClient.Close()
		dedup = sweeper.NewRedisDedup(redisClient.Client)
	} else {
		log.Warn("no redis URL configured, sweep dedup is process local")
		dedup = sweeper.NewMemoryDedup()
	}

	authorities, err := notify.ParseAuthorities(cfg.AuthorityUsers)
	if err != nil {
		return err
	}
	if len(authorities) == 0 {
		log.Warn("no authority users configured, regulatory alerts have no recipients")
	}

	dispatcher := outbox.NewDispatcher(outboxStore)

	var publisher outbox.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := kafka.NewPublisher(cfg.KafkaBrokers, cfg.NotificationTopic)
		if err != nil {
			return err
		}
		defer kp.Close()
		publisher = kp
	} else {
		log.Warn("no kafka brokers configured, notifications drain to the log")
		publisher = logPublisher{log: log}
	}
	outboxWorker := outbox.NewWorker(outboxStore, publisher, log, outbox.WithMetrics(m))

	var ledgerClient ledger.Client
	if cfg.LedgerURL != "" {
		ledgerClient = ledger.NewHTTPClient(cfg.LedgerURL, cfg.LedgerTimeout)
	} else {
		log.Warn("no ledger URL configured, anchoring against the in-memory ledger")
		ledgerClient = ledger.NewInMemoryLedger()
	}

	writer := tamper.NewWriter(tamperStore, log,
		tamper.WithAlerting(dispatcher, authorities),
		tamper.WithWriterMetrics(m),
	)
	anchorWorker := tamper.NewAnchorWorker(tamperStore, ledgerClient, log, tamper.WithAnchorMetrics(m))

	refs, err := reference.LoadFile(cfg.ReferenceDataPath)
	if err != nil {
		log.Warn("reference data unavailable, predictions will fail until provided",
			"path", cfg.ReferenceDataPath, "error", err)
		refs = reference.NewInMemoryStore(nil)
	}
	predictor := prediction.New(refs)

	resolver := labdirectory.NewResolver(labs)
	sampleSvc := sample.NewService(sampleStore, resolver, dispatcher, log,
		sample.WithAuditor(tamper.NewSampleAuditor(writer)),
		sample.WithAuthorityDirectory(authorities),
		sample.WithMetrics(m),
	)

	sweep := sweeper.New(sampleStore, labs, dispatcher, dedup, log,
		sweeper.Config{
			SafeDateEvery:    cfg.SafeDateSweepEvery,
			UnsafeEvery:      cfg.UnsafeSweepEvery,
			OverdueEvery:     cfg.OverdueSweepEvery,
			OverdueAfterDays: cfg.OverdueAfterDays,
		},
		sweeper.WithMetrics(m),
		sweeper.WithAuthorityDirectory(authorities),
	)

	health := func() error {
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				return err
			}
		}
		if redisClient != nil {
			return redisClient.Health(ctx)
		}
		return nil
	}

	router := httptransport.NewRouter(log, health,
		predictionhandler.New(predictor, log, m),
		samplehandler.New(sampleSvc, predictor, writer, log),
		tamperhandler.New(writer, sampleSvc, log),
	)
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting residuechain server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return outboxWorker.Run(gctx) })
	g.Go(func() error { return anchorWorker.Run(gctx) })
	g.Go(func() error { return sweep.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("server stopped")
	return nil
}

// logPublisher stands in for Kafka in broker-less development setups.
type logPublisher struct {
	log *slog.Logger
}

func (p logPublisher) Publish(ctx context.Context, n notify.Notification) error {
	p.log.InfoContext(ctx, "notification",
		"user_id", n.UserID, "category", n.Category, "subtype", n.Subtype, "message", n.Message)
	return nil
}
