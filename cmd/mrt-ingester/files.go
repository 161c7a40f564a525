package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/route-beacon/mrt-ingester/internal/archive"
	"github.com/route-beacon/mrt-ingester/internal/db"
	"github.com/route-beacon/mrt-ingester/internal/kafka"
	"github.com/route-beacon/mrt-ingester/internal/metrics"
	"github.com/route-beacon/mrt-ingester/internal/mrt"
	"github.com/route-beacon/mrt-ingester/internal/source"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (a *app) cmdLoad() *cobra.Command {
	var collector string
	cmd := &cobra.Command{
		GroupID: "files",
		Use:     "load FILE...",
		Short:   "Archive MRT dump files into PostgreSQL",
		Long: `Decode MRT dump files and write their rows to mrt_events.
Files may be plain, gzip, bzip2 or zstd compressed; "-" reads standard input.
Loading the same file twice inserts nothing new.`,
		Args:    cobra.MinimumNArgs(1),
		Example: `  mrt-ingester load --collector rrc00 bview.20240101.0000.gz updates.20240101.0000.gz`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.RequirePostgres(); err != nil {
				return err
			}
			metrics.Register()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pool, err := db.NewPool(ctx, a.poolOptions())
			if err != nil {
				return err
			}
			defer pool.Close()

			writer := archive.NewWriter(pool, a.logger.Named("archive.writer"),
				a.cfg.Ingest.StoreRawBytes, a.cfg.Ingest.StoreRawBytesCompress)
			loader := archive.NewLoader(writer, a.archiveOptions(), a.logger.Named("archive.loader"))

			var failed int
			for _, path := range args {
				if _, err := loader.LoadFile(ctx, path, collector); err != nil {
					if ctx.Err() != nil {
						return err
					}
					a.logger.Error("failed to load dump", zap.String("path", path), zap.Error(err))
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files failed to load", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&collector, "collector", "", "Collector name (default ingest.collector)")
	return cmd
}

func (a *app) cmdPublish() *cobra.Command {
	var collector string
	cmd := &cobra.Command{
		GroupID: "files",
		Use:     "publish FILE...",
		Short:   "Publish the records of MRT dump files to Kafka",
		Long: `Split MRT dump files into records and produce each record as one Kafka
message on kafka.producer.topic, keyed and tagged with the collector name.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.RequireProducer(); err != nil {
				return err
			}
			if collector == "" {
				collector = a.cfg.Ingest.Collector
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			co, err := a.clientOptions()
			if err != nil {
				return err
			}
			producer, err := kafka.NewProducer(co, a.cfg.Kafka.Producer.Topic,
				a.cfg.Kafka.Producer.Compression, a.logger.Named("kafka.producer"))
			if err != nil {
				return err
			}
			defer producer.Close()

			for _, path := range args {
				n, err := publishFile(ctx, producer, path, collector,
					a.cfg.Kafka.Producer.BatchRecords, a.cfg.Ingest.MaxRecordBytes)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				a.logger.Info("dump published",
					zap.String("path", path),
					zap.String("collector", collector),
					zap.String("topic", a.cfg.Kafka.Producer.Topic),
					zap.Int64("records", n),
				)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&collector, "collector", "", "Collector name (default ingest.collector)")
	return cmd
}

type publisher interface {
	Publish(ctx context.Context, collector string, records [][]byte) error
}

// publishFile produces the records of one dump in batches of batchSize.
// Records decoded before a failure are published before it is returned.
func publishFile(ctx context.Context, p publisher, path, collector string, batchSize, maxRecord int) (int64, error) {
	s, err := source.Open(path)
	if err != nil {
		return 0, err
	}
	defer s.Close()

	r := mrt.NewReader(bufio.NewReader(s), mrt.WithRawCapture(), mrt.WithMaxRecordLength(uint32(maxRecord)))
	batch := make([][]byte, 0, batchSize)
	for {
		_, _, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if perr := p.Publish(ctx, collector, batch); perr != nil {
				return r.Records(), perr
			}
			return r.Records(), fmt.Errorf("record %d: %w", r.Records()+1, err)
		}
		batch = append(batch, r.Raw())
		if len(batch) >= batchSize {
			if err := p.Publish(ctx, collector, batch); err != nil {
				return r.Records(), err
			}
			batch = make([][]byte, 0, batchSize)
		}
	}
	return r.Records(), p.Publish(ctx, collector, batch)
}

func (a *app) cmdDump() *cobra.Command {
	var (
		collector string
		withRaw   bool
	)
	cmd := &cobra.Command{
		GroupID: "files",
		Use:     "dump FILE",
		Short:   "Print the archive rows of an MRT dump as JSON lines",
		Args:    cobra.ExactArgs(1),
		Example: `  mrt-ingester dump latest-update.gz | jq 'select(.kind == "message")'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if collector == "" {
				collector = a.cfg.Ingest.Collector
			}
			s, err := source.Open(args[0])
			if err != nil {
				return err
			}
			defer s.Close()

			src := filepath.Base(args[0])
			r := mrt.NewReader(bufio.NewReader(s), mrt.WithRawCapture(),
				mrt.WithMaxRecordLength(uint32(a.cfg.Ingest.MaxRecordBytes)))

			out := bufio.NewWriter(cmd.OutOrStdout())
			defer out.Flush()
			err = dumpRows(r, archive.NewFlattener(collector, src), src, out, withRaw)
			if err != nil {
				return fmt.Errorf("%s: record %d: %w", src, r.Records()+1, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&collector, "collector", "", "Collector name (default ingest.collector)")
	cmd.Flags().BoolVar(&withRaw, "raw", false, "Include the hex encoded record on each record's first row")
	return cmd
}

type dumpRow struct {
	*archive.Row
	EventID string `json:"event_id"`
	Raw     string `json:"raw,omitempty"`
}

func dumpRows(r *mrt.Reader, f *archive.Flattener, label string, w io.Writer, withRaw bool) error {
	enc := json.NewEncoder(w)
	return archive.DecodeStream(r, f, label, func(rows []*archive.Row) error {
		for _, row := range rows {
			out := dumpRow{Row: row, EventID: hex.EncodeToString(row.EventID)}
			if withRaw && row.Raw != nil {
				out.Raw = hex.EncodeToString(row.Raw)
			}
			if err := enc.Encode(out); err != nil {
				return err
			}
		}
		return nil
	})
}
