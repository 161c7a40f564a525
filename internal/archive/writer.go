package archive

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/klauspost/compress/zstd"
	"github.com/route-beacon/mrt-ingester/internal/metrics"
	"go.uber.org/zap"
)

var zstdEncoder, _ = zstd.NewWriter(nil)

const insertEventSQL = `
INSERT INTO mrt_events (event_id, ingest_time, collector, source, record_time,
	record_type, subtype, kind, ordinal, peer_address, peer_as, peer_bgp_id,
	local_address, local_as, afi, safi, prefix, path_id, next_hop,
	originated_time, old_state, new_state, attributes, message, mrt_raw)
VALUES ($1, date_trunc('day', now()), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
	$12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
ON CONFLICT (event_id, ingest_time) DO NOTHING`

type Writer struct {
	pool          *pgxpool.Pool
	logger        *zap.Logger
	storeRawBytes bool
	compressRaw   bool
}

func NewWriter(pool *pgxpool.Pool, logger *zap.Logger, storeRawBytes, compressRaw bool) *Writer {
	return &Writer{
		pool:          pool,
		logger:        logger,
		storeRawBytes: storeRawBytes,
		compressRaw:   compressRaw,
	}
}

// FlushBatch inserts a batch of rows into mrt_events.
// Returns the number of rows actually inserted (after dedup).
func (w *Writer) FlushBatch(ctx context.Context, rows []*Row) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	start := time.Now()

	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var totalInserted int64

	for _, row := range rows {
		tag, err := tx.Exec(ctx, insertEventSQL,
			row.EventID, row.Collector, row.Source, row.RecordTime,
			row.RecordType, int32(row.Subtype), string(row.Kind), int32(row.Ordinal),
			nilIfInvalid(row.PeerAddress), nilIfZero(row.PeerAS), nilIfZero(row.PeerBGPID),
			nilIfInvalid(row.LocalAddress), nilIfZero(row.LocalAS),
			nilIfZero(uint32(row.AFI)), nilIfZero(uint32(row.SAFI)),
			nilIfInvalidPrefix(row.Prefix), nilIfZero(row.PathID), nilIfInvalid(row.NextHop),
			nilIfZeroTime(row.OriginatedTime),
			nilIfZero(uint32(row.OldState)), nilIfZero(uint32(row.NewState)),
			row.Attributes, row.Message, w.rawBytes(row.Raw),
		)
		if err != nil {
			return 0, fmt.Errorf("insert mrt_event: %w", err)
		}

		affected := tag.RowsAffected()
		totalInserted += affected
		if affected == 0 {
			metrics.DedupConflictsTotal.WithLabelValues(row.Source).Inc()
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}

	dur := time.Since(start).Seconds()
	metrics.DBWriteDuration.WithLabelValues("insert").Observe(dur)
	metrics.DBRowsAffectedTotal.WithLabelValues("mrt_events", "insert").Add(float64(totalInserted))
	metrics.BatchSize.WithLabelValues(rows[0].Source).Observe(float64(len(rows)))

	return totalInserted, nil
}

func (w *Writer) rawBytes(raw []byte) []byte {
	if !w.storeRawBytes || raw == nil {
		return nil
	}
	if w.compressRaw {
		return zstdEncoder.EncodeAll(raw, nil)
	}
	return raw
}

const upsertSourceStatusSQL = `
INSERT INTO mrt_source_status (collector, source, last_record_time, records, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (collector, source) DO UPDATE SET
    last_record_time = GREATEST(mrt_source_status.last_record_time, EXCLUDED.last_record_time),
    records          = mrt_source_status.records + EXCLUDED.records,
    updated_at       = now()`

// UpdateSourceStatus records, per collector and source, the newest record
// time in the batch and how many records it held.
func (w *Writer) UpdateSourceStatus(ctx context.Context, rows []*Row) error {
	for _, s := range summarizeSources(rows) {
		if _, err := w.pool.Exec(ctx, upsertSourceStatusSQL,
			s.collector, s.source, s.last, s.records,
		); err != nil {
			return fmt.Errorf("update mrt_source_status %s/%s: %w", s.collector, s.source, err)
		}
		metrics.LastRecordTimestamp.WithLabelValues(s.collector).Set(float64(s.last.Unix()))
	}
	return nil
}

type sourceSummary struct {
	collector, source string
	last              time.Time
	records           int64
}

// summarizeSources groups rows by collector and source. Records are counted
// by their first row, so a record flattened to many rows counts once.
func summarizeSources(rows []*Row) []*sourceSummary {
	type key struct{ c, s string }
	byKey := make(map[key]*sourceSummary)
	var out []*sourceSummary
	for _, r := range rows {
		k := key{r.Collector, r.Source}
		s, ok := byKey[k]
		if !ok {
			s = &sourceSummary{collector: r.Collector, source: r.Source}
			byKey[k] = s
			out = append(out, s)
		}
		if r.Ordinal == 0 {
			s.records++
		}
		if r.RecordTime.After(s.last) {
			s.last = r.RecordTime
		}
	}
	return out
}

func nilIfZero(v uint32) any {
	if v == 0 {
		return nil
	}
	return int64(v)
}

func nilIfInvalid(a netip.Addr) any {
	if !a.IsValid() {
		return nil
	}
	return a
}

func nilIfInvalidPrefix(p netip.Prefix) any {
	if !p.IsValid() {
		return nil
	}
	return p
}

func nilIfZeroTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
