package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go-retry/internal/admin"
	"go-retry/internal/kafka"
	"go-retry/internal/observability"
	"go-retry/internal/retry"
	"go-retry/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	brokerCheckInterval = 30 * time.Second
	shutdownTimeout     = 15 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the retry consumer, delay scheduler and admin API",
	Long: `Run the worker until SIGINT or SIGTERM.

The consumer reads the retry topics and routes every message either into the
delay queue or the dead-letter store. The scheduler polls the delay queue and
republishes due messages to their original topic. The admin API serves
/api, /healthz and /metrics on ADMIN_ADDR.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := observability.GetLogger()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewPrometheusMetrics(cfg.Service, reg)

	d, err := openDeps(ctx, cfg, metrics)
	if err != nil {
		return err
	}
	defer d.Close()

	orch := retry.NewOrchestrator(d.delay, d.deadLetters, d.producer, retry.Config{
		BaseDelay:        cfg.Retry.BaseDelay,
		MaxRetryCount:    cfg.Retry.MaxRetryCount,
		MaxDelay:         cfg.Retry.MaxDelay,
		OperationTimeout: cfg.OperationTimeout,
		Actor:            cfg.Service,
	}, retry.WithLogger(logger), retry.WithMetrics(metrics))

	scheduler := retry.NewScheduler(d.delay, orch, retry.SchedulerConfig{
		Interval:                cfg.Scheduler.Interval,
		BatchSize:               cfg.Scheduler.BatchSize,
		Workers:                 cfg.Scheduler.Workers,
		RequeueOnPublishFailure: cfg.Retry.RequeueOnPublishFailure,
		OperationTimeout:        cfg.OperationTimeout,
	}, retry.WithSchedulerLogger(logger), retry.WithSchedulerMetrics(metrics))

	consumer := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:       cfg.Kafka.Brokers,
		Topics:        cfg.Consumer.Topics,
		GroupID:       cfg.Consumer.GroupID,
		Workers:       cfg.Consumer.Workers,
		FetchMinBytes: cfg.Consumer.FetchMinBytes,
		FetchMaxBytes: cfg.Consumer.FetchMaxBytes,
		Metrics:       metrics,
		Logger:        logger,
	})
	listener := service.NewRetryListener(orch, logger)
	broker := kafka.NewBrokerClient(cfg.Kafka.Brokers, 5, logger)

	srvCfg := admin.DefaultServerConfig()
	srvCfg.Addr = cfg.Admin.Addr
	srvCfg.Gatherer = reg
	server := admin.NewServer(d.adminService(), d.healthChecks(broker), srvCfg, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer func() {
			if err := consumer.Close(); err != nil {
				logger.WithError(err).Warn("Consumer close failed")
			}
		}()
		return consumer.Start(gctx, listener.Handle)
	})
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error {
		broker.HealthCheckLoop(gctx, brokerCheckInterval, nil)
		return nil
	})
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Stop(shutdownCtx)
	})

	logger.WithField("topics", cfg.Consumer.Topics).Info("Retry worker running")
	err = g.Wait()
	logger.Info("Retry worker stopped")
	return err
}
