package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/route-beacon/mrt-ingester/internal/archive"
	"github.com/route-beacon/mrt-ingester/internal/db"
	mrthttp "github.com/route-beacon/mrt-ingester/internal/http"
	"github.com/route-beacon/mrt-ingester/internal/kafka"
	"github.com/route-beacon/mrt-ingester/internal/maintenance"
	"github.com/route-beacon/mrt-ingester/internal/metrics"
	"github.com/spf13/cobra"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

func (a *app) cmdServe() *cobra.Command {
	return &cobra.Command{
		GroupID: "service",
		Use:     "serve",
		Short:   "Consume MRT records from Kafka and archive them",
		Args:    cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			if err := a.cfg.RequirePostgres(); err != nil {
				return err
			}
			if err := a.cfg.RequireConsumer(); err != nil {
				return err
			}
			a.runServe()
			return nil
		},
	}
}

func (a *app) cmdMigrate() *cobra.Command {
	return &cobra.Command{
		GroupID: "service",
		Use:     "migrate",
		Short:   "Run database migrations",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.RequirePostgres(); err != nil {
				return err
			}
			a.logger.Info("running migrations", zap.String("dsn", redactDSN(a.cfg.Postgres.DSN)))

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, a.poolOptions())
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.RunMigrations(ctx, pool, db.Migrations(), a.logger); err != nil {
				return err
			}
			a.logger.Info("migrations complete")
			return nil
		},
	}
}

func (a *app) cmdMaintenance() *cobra.Command {
	return &cobra.Command{
		GroupID: "service",
		Use:     "maintenance",
		Short:   "Run partition maintenance (create new, drop old)",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.RequirePostgres(); err != nil {
				return err
			}
			a.logger.Info("running partition maintenance",
				zap.Int("retention_days", a.cfg.Retention.Days),
				zap.String("timezone", a.cfg.Retention.Timezone),
			)

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, a.poolOptions())
			if err != nil {
				return err
			}
			defer pool.Close()

			pm := maintenance.NewPartitionManager(pool, a.cfg.Retention.Days, a.cfg.Retention.Timezone, a.logger)
			if err := pm.Run(ctx); err != nil {
				return err
			}
			a.logger.Info("partition maintenance complete")
			return nil
		},
	}
}

func (a *app) poolOptions() db.PoolOptions {
	return db.PoolOptions{
		DSN:             a.cfg.Postgres.DSN,
		MaxConns:        a.cfg.Postgres.MaxConns,
		MinConns:        a.cfg.Postgres.MinConns,
		ApplicationName: a.cfg.Service.InstanceID,
	}
}

func (a *app) clientOptions() (kafka.ClientOptions, error) {
	tlsCfg, err := a.cfg.Kafka.BuildTLSConfig()
	if err != nil {
		return kafka.ClientOptions{}, err
	}
	return kafka.ClientOptions{
		Brokers:  a.cfg.Kafka.Brokers,
		ClientID: a.cfg.Kafka.ClientID,
		TLS:      tlsCfg,
		SASL:     a.cfg.Kafka.BuildSASLMechanism(),
	}, nil
}

func (a *app) archiveOptions() archive.Options {
	return archive.Options{
		BatchSize:       a.cfg.Ingest.BatchSize,
		FlushIntervalMs: a.cfg.Ingest.FlushIntervalMs,
		MaxRecordBytes:  a.cfg.Ingest.MaxRecordBytes,
		Collector:       a.cfg.Ingest.Collector,
		Locate:          a.cfg.CollectorLocation,
	}
}

func (a *app) runServe() {
	cfg, logger := a.cfg, a.logger
	metrics.Register()

	logger.Info("starting mrt-ingester",
		zap.String("instance_id", cfg.Service.InstanceID),
		zap.String("http_listen", cfg.Service.HTTPListen),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database.
	pool, err := db.NewPool(ctx, a.poolOptions())
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	// Ensure partitions exist on startup.
	pm := maintenance.NewPartitionManager(pool, cfg.Retention.Days, cfg.Retention.Timezone, logger)
	if err := pm.CreatePartitions(ctx); err != nil {
		logger.Fatal("failed to create partitions on startup", zap.Error(err))
	}

	co, err := a.clientOptions()
	if err != nil {
		logger.Fatal("failed to build TLS config", zap.Error(err))
	}

	writer := archive.NewWriter(pool, logger.Named("archive.writer"),
		cfg.Ingest.StoreRawBytes, cfg.Ingest.StoreRawBytesCompress)
	pipeline := archive.NewPipeline(writer, a.archiveOptions(), logger.Named("archive.pipeline"))

	records := make(chan []*kgo.Record, cfg.Ingest.ChannelBufferSize)
	flushed := make(chan []*kgo.Record, cfg.Ingest.ChannelBufferSize)

	consumer, err := kafka.NewConsumer(co, cfg.Kafka.Consumer.GroupID, cfg.Kafka.Consumer.Topics,
		cfg.Kafka.FetchMaxBytes, logger.Named("kafka"))
	if err != nil {
		logger.Fatal("failed to create consumer", zap.Error(err))
	}
	defer consumer.Close()

	var wg sync.WaitGroup
	var commitWg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); consumer.Run(ctx, records, flushed, &commitWg) }()
	go func() {
		defer wg.Done()
		pipeline.Run(ctx, records, flushed)
		close(flushed)
	}()

	logger.Info("archive pipeline started",
		zap.Strings("topics", cfg.Kafka.Consumer.Topics),
		zap.String("group_id", cfg.Kafka.Consumer.GroupID),
	)

	// --- HTTP server ---
	httpServer := mrthttp.NewServer(cfg.Service.HTTPListen, pool, consumer, writer, logger.Named("http"))
	if err := httpServer.Start(); err != nil {
		logger.Fatal("failed to start HTTP server", zap.Error(err))
	}

	// Wait for shutdown signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	// Graceful shutdown.
	shutdownTimeout := time.Duration(cfg.Service.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting HTTP traffic first.
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Cancel context to stop the pipeline.
	cancel()

	// Wait for consumer and pipeline goroutines to finish their final flush/commit.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		commitWg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("pipeline stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout reached, some goroutines may not have finished")
	}

	logger.Info("mrt-ingester stopped")
}
