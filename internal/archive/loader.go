package archive

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/route-beacon/mrt-ingester/internal/mrt"
	"github.com/route-beacon/mrt-ingester/internal/source"
	"go.uber.org/zap"
)

// LoadStats summarizes one loaded dump.
type LoadStats struct {
	Records  int64
	Rows     int64
	Inserted int64
}

// Loader archives MRT dump files directly, without Kafka.
type Loader struct {
	store  Store
	opts   Options
	logger *zap.Logger
}

func NewLoader(store Store, opts Options, logger *zap.Logger) *Loader {
	return &Loader{store: store, opts: opts, logger: logger}
}

// LoadFile archives the dump at path, decompressing it as needed. Rows are
// labelled with the file's base name as their source.
func (l *Loader) LoadFile(ctx context.Context, path, collector string) (LoadStats, error) {
	s, err := source.Open(path)
	if err != nil {
		return LoadStats{}, err
	}
	defer s.Close()

	l.logger.Info("loading dump",
		zap.String("path", path),
		zap.String("compression", s.Compression.String()),
		zap.String("collector", collector),
	)
	return l.Load(ctx, s, collector, filepath.Base(path))
}

// Load archives every record of r. Rows decoded before a decode failure are
// still written; the failure is returned with the 1-based record number.
func (l *Loader) Load(ctx context.Context, r io.Reader, collector, src string) (LoadStats, error) {
	var stats LoadStats
	if collector == "" {
		collector = l.opts.Collector
	}
	loc := ""
	if l.opts.Locate != nil {
		loc = l.opts.Locate(collector)
	}
	if err := l.store.UpsertCollector(ctx, collector, loc); err != nil {
		l.logger.Warn("failed to upsert collector", zap.String("collector", collector), zap.Error(err))
	}

	rd := mrt.NewReader(bufio.NewReader(r), l.opts.readerOpts()...)
	f := NewFlattener(collector, src)

	var batch []*Row
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		inserted, err := l.store.FlushBatch(ctx, batch)
		if err != nil {
			return err
		}
		stats.Inserted += inserted
		if err := l.store.UpsertPeers(ctx, batch); err != nil {
			l.logger.Warn("failed to upsert peers", zap.Error(err))
		}
		if err := l.store.UpdateSourceStatus(ctx, batch); err != nil {
			l.logger.Warn("failed to update source status", zap.Error(err))
		}
		batch = nil
		return nil
	}

	var storeErr error
	decodeErr := DecodeStream(rd, f, src, func(rows []*Row) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Rows += int64(len(rows))
		batch = append(batch, rows...)
		if len(batch) >= l.opts.BatchSize {
			storeErr = flush()
			return storeErr
		}
		return nil
	})
	stats.Records = rd.Records()

	if ctx.Err() != nil {
		return stats, ctx.Err()
	}
	if storeErr == nil {
		storeErr = flush()
	}
	if storeErr != nil {
		return stats, fmt.Errorf("%s: flushing rows: %w", src, storeErr)
	}
	if decodeErr != nil {
		return stats, fmt.Errorf("%s: record %d: %w", src, stats.Records+1, decodeErr)
	}

	l.logger.Info("dump loaded",
		zap.String("source", src),
		zap.Int64("records", stats.Records),
		zap.Int64("rows", stats.Rows),
		zap.Int64("inserted", stats.Inserted),
	)
	return stats, nil
}
