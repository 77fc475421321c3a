package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"casinopay/internal/config"
	"casinopay/internal/gateway"
	"casinopay/internal/handler"
	"casinopay/internal/infrastructure/audit"
	"casinopay/internal/infrastructure/cache"
	"casinopay/internal/infrastructure/database"
	"casinopay/internal/infrastructure/lock"
	"casinopay/internal/infrastructure/mq"
	"casinopay/internal/job"
	"casinopay/internal/logger"
	"casinopay/internal/service"
	"casinopay/pkg/idgen"

	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	workerID := flag.Int64("worker-id", 1, "snowflake worker id")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level)

	if err := idgen.Init(*workerID); err != nil {
		log.WithError(err).Fatal("init id generator")
	}

	db, err := database.Open(&cfg.Database, log)
	if err != nil {
		log.WithError(err).Fatal("open database")
	}

	var locker service.Locker = lock.NewLocalLocker()
	if cfg.Redis.Enabled {
		redisClient, err := cache.NewRedis(&cfg.Redis)
		if err != nil {
			log.WithError(err).Fatal("connect redis")
		}
		defer redisClient.Close()
		locker = lock.NewRedisLocker(redisClient, cfg.Settlement.LockTTL, log)
	}

	var sink service.AuditSink = audit.NewLogSink(log)
	if cfg.Mongo.Enabled {
		mongoSink, err := audit.NewMongoSink(&cfg.Mongo, log)
		if err != nil {
			log.WithError(err).Fatal("connect mongo")
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mongoSink.Close(closeCtx)
		}()
		sink = mongoSink
	}

	gw := gateway.NewClient(cfg.Gateway, log)

	settlement, err := service.NewSettlementService(db, gw, locker, sink, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("build settlement service")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		jobs     sync.WaitGroup
		stoppers []func()
	)
	runJob := func(start func(context.Context), stop func()) {
		jobs.Add(1)
		go func() {
			defer jobs.Done()
			start(ctx)
		}()
		stoppers = append(stoppers, stop)
	}

	if cfg.Kafka.Enabled {
		producer, err := mq.NewProducer(&cfg.Kafka)
		if err != nil {
			log.WithError(err).Fatal("connect kafka")
		}
		defer producer.Close()

		outboxSender := job.NewOutboxSender(db, producer, cfg.Kafka.MaxRetryCount, log)
		runJob(outboxSender.Start, outboxSender.Stop)
	}

	if cfg.Settlement.ReconcileEnabled {
		reconcileJob := job.NewReconcileJob(settlement, cfg.Settlement.ReconcileInterval, log)
		runJob(reconcileJob.Start, reconcileJob.Stop)
	}

	jwtMiddleware := handler.NewJWTMiddleware(cfg.JWT.Secret, log)
	h := handler.NewHandler(settlement, cfg.Settlement.CallbackSecret, log)
	router := handler.SetupRouter(h, jwtMiddleware, log, cfg.Server.GinMode)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.WithFields(logrus.Fields{"signal": sig.String()}).Info("shutting down")

	// let an in-flight sweep or outbox batch finish before draining HTTP
	for _, stop := range stoppers {
		stop()
	}
	jobs.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown")
	}
	cancel()

	log.Info("server stopped")
}
