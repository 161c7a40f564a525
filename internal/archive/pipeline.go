package archive

import (
	"bufio"
	"bytes"
	"context"
	"time"

	"github.com/route-beacon/mrt-ingester/internal/kafka"
	"github.com/route-beacon/mrt-ingester/internal/metrics"
	"github.com/route-beacon/mrt-ingester/internal/mrt"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Store is the persistence the pipeline and loader write through. *Writer
// implements it.
type Store interface {
	FlushBatch(ctx context.Context, rows []*Row) (int64, error)
	UpsertPeers(ctx context.Context, rows []*Row) error
	UpsertCollector(ctx context.Context, name, location string) error
	UpdateSourceStatus(ctx context.Context, rows []*Row) error
}

// Options configures a Pipeline or Loader.
type Options struct {
	BatchSize       int
	FlushIntervalMs int
	MaxRecordBytes  int
	// Collector is used for Kafka messages without a collector header.
	Collector string
	// Locate returns the configured location of a collector, or "".
	Locate func(collector string) string
}

func (o Options) readerOpts() []mrt.ReaderOption {
	opts := []mrt.ReaderOption{mrt.WithRawCapture()}
	if o.MaxRecordBytes > 0 {
		opts = append(opts, mrt.WithMaxRecordLength(uint32(o.MaxRecordBytes)))
	}
	return opts
}

type Pipeline struct {
	store         Store
	opts          Options
	flushInterval time.Duration
	logger        *zap.Logger

	flatteners map[streamKey]*Flattener
	announced  map[string]bool
}

type streamKey struct{ collector, topic string }

func NewPipeline(store Store, opts Options, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		store:         store,
		opts:          opts,
		flushInterval: time.Duration(opts.FlushIntervalMs) * time.Millisecond,
		logger:        logger,
		flatteners:    make(map[streamKey]*Flattener),
		announced:     make(map[string]bool),
	}
}

// Run processes records from the channel until context is cancelled.
func (p *Pipeline) Run(ctx context.Context, records <-chan []*kgo.Record, flushed chan<- []*kgo.Record) {
	var batch []*Row
	var batchRecords []*kgo.Record
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if len(batchRecords) > 0 {
				p.flush(context.WithoutCancel(ctx), batch, batchRecords, flushed)
			}
			return

		case recs, ok := <-records:
			if !ok {
				if len(batchRecords) > 0 {
					p.flush(ctx, batch, batchRecords, flushed)
				}
				return
			}

			for _, rec := range recs {
				batch = append(batch, p.processRecord(rec)...)
				batchRecords = append(batchRecords, rec)
			}

			if len(batch) >= p.opts.BatchSize || len(batchRecords) >= p.opts.BatchSize {
				if p.flush(ctx, batch, batchRecords, flushed) {
					batch = nil
					batchRecords = nil
				}
			}

			// Cap memory: if repeated flush failures cause the batch to
			// grow beyond 10x the configured size, drop it to prevent
			// unbounded memory growth during prolonged DB outages.
			if len(batchRecords) >= p.opts.BatchSize*10 {
				p.logger.Error("dropping oversized batch after repeated flush failures",
					zap.Int("dropped_records", len(batchRecords)),
					zap.Int("dropped_rows", len(batch)),
				)
				batch = nil
				batchRecords = nil
			}

		case <-ticker.C:
			if len(batchRecords) > 0 {
				if p.flush(ctx, batch, batchRecords, flushed) {
					batch = nil
					batchRecords = nil
				}
			}
		}
	}
}

// processRecord decodes every MRT record in a Kafka message. Records decoded
// before a failure are kept; the rest of the message is skipped.
func (p *Pipeline) processRecord(rec *kgo.Record) []*Row {
	metrics.KafkaMessagesTotal.WithLabelValues(rec.Topic, "consumed").Inc()

	collector := kafka.HeaderValue(rec, kafka.CollectorHeader)
	if collector == "" {
		collector = p.opts.Collector
	}
	f := p.flattener(collector, rec.Topic)

	var rows []*Row
	r := mrt.NewReader(bufio.NewReader(bytes.NewReader(rec.Value)), p.opts.readerOpts()...)
	err := DecodeStream(r, f, rec.Topic, func(out []*Row) error {
		rows = append(rows, out...)
		return nil
	})
	if err != nil {
		p.logger.Warn("failed to decode MRT record",
			zap.String("topic", rec.Topic),
			zap.Int32("partition", rec.Partition),
			zap.Int64("offset", rec.Offset),
			zap.String("collector", collector),
			zap.Int64("record", r.Records()+1),
			zap.String("reason", ErrorReason(err)),
			zap.Error(err),
		)
	}
	return rows
}

func (p *Pipeline) flattener(collector, topic string) *Flattener {
	k := streamKey{collector, topic}
	f, ok := p.flatteners[k]
	if !ok {
		f = NewFlattener(collector, topic)
		p.flatteners[k] = f
	}
	return f
}

func (p *Pipeline) flush(ctx context.Context, batch []*Row, records []*kgo.Record, flushed chan<- []*kgo.Record) bool {
	inserted, err := p.store.FlushBatch(ctx, batch)
	if err != nil {
		p.logger.Error("archive batch flush failed", zap.Error(err))
		return false
	}

	p.logger.Debug("archive batch flushed",
		zap.Int("batch_size", len(batch)),
		zap.Int64("inserted", inserted),
		zap.Int64("deduped", int64(len(batch))-inserted),
	)

	p.afterFlush(ctx, batch)

	// Signal successful flush for offset commit.
	select {
	case flushed <- records:
	case <-ctx.Done():
	}

	return true
}

// afterFlush refreshes collector, peer and source bookkeeping. Failures are
// logged; the events themselves are already committed.
func (p *Pipeline) afterFlush(ctx context.Context, batch []*Row) {
	for _, c := range collectorsOf(batch) {
		if p.announced[c] {
			continue
		}
		if err := p.store.UpsertCollector(ctx, c, p.locate(c)); err != nil {
			p.logger.Warn("failed to upsert collector", zap.String("collector", c), zap.Error(err))
			continue
		}
		p.announced[c] = true
	}
	if err := p.store.UpsertPeers(ctx, batch); err != nil {
		p.logger.Warn("failed to upsert peers", zap.Error(err))
	}
	if err := p.store.UpdateSourceStatus(ctx, batch); err != nil {
		p.logger.Warn("failed to update source status", zap.Error(err))
	}
}

func (p *Pipeline) locate(collector string) string {
	if p.opts.Locate == nil {
		return ""
	}
	return p.opts.Locate(collector)
}

func collectorsOf(rows []*Row) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range rows {
		if !seen[r.Collector] {
			seen[r.Collector] = true
			out = append(out, r.Collector)
		}
	}
	return out
}
