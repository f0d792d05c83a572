package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	connhandler "custodian/internal/connection/handler"
	connmetrics "custodian/internal/connection/metrics"
	connservice "custodian/internal/connection/service"
	connstore "custodian/internal/connection/store"
	"custodian/internal/jwttoken"
	"custodian/internal/ledger"
	"custodian/internal/platform/config"
	"custodian/internal/platform/database"
	"custodian/internal/platform/httpserver"
	"custodian/internal/platform/logger"
	"custodian/internal/platform/metrics"
	platformredis "custodian/internal/platform/redis"
	prophandler "custodian/internal/property/handler"
	propservice "custodian/internal/property/service"
	propstore "custodian/internal/property/store"
	synchandler "custodian/internal/sync/handler"
	syncservice "custodian/internal/sync/service"
	syncstore "custodian/internal/sync/store"
	transferhandler "custodian/internal/transfer/handler"
	transfermetrics "custodian/internal/transfer/metrics"
	transferservice "custodian/internal/transfer/service"
	transferstore "custodian/internal/transfer/store"
	transporthttp "custodian/internal/transport/http"
	userhandler "custodian/internal/user/handler"
	userservice "custodian/internal/user/service"
	userstore "custodian/internal/user/store"
)

const ledgerBufferSize = 256

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores: PostgreSQL when configured, in-memory otherwise.
	var (
		db            *sql.DB
		users         userservice.Store
		properties    transferservice.PropertyStore
		propFullStore propservice.Store
		connections   connservice.Store
		transfers     interface {
			transferservice.OfferStore
			transferservice.RequestStore
		}
		transferTx transferservice.StoreTx
	)
	if cfg.DatabaseURL != "" {
		var err error
		db, err = database.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := database.Migrate(ctx, db); err != nil {
			log.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}

		users = userstore.NewPostgres(db)
		pgProps := propstore.NewPostgres(db)
		properties = pgProps
		propFullStore = pgProps
		connections = connstore.NewPostgres(db)
		transfers = transferstore.NewPostgres(db)
		transferTx = transferstore.NewPostgresTx(db)
		log.Info("using postgres stores")
	} else {
		users = userstore.NewMemory()
		memProps := propstore.NewMemory()
		properties = memProps
		propFullStore = memProps
		connections = connstore.NewMemory()
		transfers = transferstore.NewMemory()
		log.Warn("DATABASE_URL not set, using in-memory stores")
	}

	// Sync queue: Redis when configured, in-memory otherwise.
	var syncQueue syncservice.Store
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		syncQueue = syncstore.NewRedis(redisClient.Client)
		log.Info("using redis sync queue")
	} else {
		syncQueue = syncstore.NewMemory()
		log.Warn("REDIS_URL not set, using in-memory sync queue")
	}

	// Ledger: Kafka-backed behind a channel worker when brokers are
	// configured, in-memory otherwise.
	group, groupCtx := errgroup.WithContext(ctx)
	var emitter transferservice.LedgerEmitter
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaStore, err := ledger.NewKafkaStore(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			log.Error("failed to connect to kafka", "error", err)
			os.Exit(1)
		}
		defer kafkaStore.Close()

		outbox := make(chan ledger.Event, ledgerBufferSize)
		emitter = ledger.NewChannelEmitter(outbox, log)
		worker := ledger.NewWorker(kafkaStore, outbox, log)
		group.Go(func() error {
			if err := worker.Run(groupCtx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		log.Info("publishing ledger events to kafka", "topic", cfg.Kafka.Topic)
	} else {
		emitter = ledger.NewPublisher(ledger.NewMemoryStore())
		log.Warn("KAFKA_BROKERS not set, keeping ledger events in memory")
	}

	platformMetrics := metrics.New()
	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, "custodian", "custodian-api")
	jwtValidator := jwttoken.NewJWTServiceAdapter(jwtService)

	connSvc := connservice.New(connections,
		connservice.WithLogger(log),
		connservice.WithMetrics(connmetrics.New()),
	)
	propSvc := propservice.New(propFullStore, propservice.WithLogger(log))
	userSvc := userservice.New(users, jwtService,
		userservice.WithLogger(log),
		userservice.WithMetrics(platformMetrics),
	)

	transferOpts := []transferservice.Option{
		transferservice.WithLogger(log),
		transferservice.WithMetrics(transfermetrics.New()),
		transferservice.WithLedger(emitter),
		transferservice.WithOfferTTL(cfg.OfferTTL),
	}
	if transferTx != nil {
		transferOpts = append(transferOpts, transferservice.WithTx(transferTx))
	}
	transferSvc := transferservice.New(transfers, transfers, properties, connSvc, transferOpts...)

	applier := syncservice.NewDomainApplier(propSvc, transferSvc, connSvc)
	syncSvc := syncservice.New(syncQueue, applier,
		syncservice.WithLogger(log),
		syncservice.WithRetryLimit(cfg.SyncRetryLimit),
	)

	router := transporthttp.NewRouter(transporthttp.Handlers{
		Auth:        userhandler.New(userSvc, log, platformMetrics, jwtValidator),
		Connections: connhandler.New(connSvc, log, platformMetrics, jwtValidator),
		Properties:  prophandler.New(propSvc, log, platformMetrics, jwtValidator),
		Transfers:   transferhandler.New(transferSvc, log, platformMetrics, jwtValidator),
		Sync:        synchandler.New(syncSvc, log, platformMetrics, jwtValidator),
	})

	server := httpserver.New(cfg.Addr, router)

	group.Go(func() error {
		transferSvc.StartSweeper(groupCtx, cfg.SweepInterval)
		return nil
	})
	group.Go(func() error {
		log.Info("server listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}
