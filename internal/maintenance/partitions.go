package maintenance

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/route-beacon/mrt-ingester/internal/metrics"
	"go.uber.org/zap"
)

const partitionPrefix = "mrt_events_"

var validPartitionName = regexp.MustCompile(`^mrt_events_\d{8}$`)

type PartitionManager struct {
	pool          *pgxpool.Pool
	retentionDays int
	timezone      string
	logger        *zap.Logger
}

func NewPartitionManager(pool *pgxpool.Pool, retentionDays int, timezone string, logger *zap.Logger) *PartitionManager {
	return &PartitionManager{
		pool:          pool,
		retentionDays: retentionDays,
		timezone:      timezone,
		logger:        logger,
	}
}

func (pm *PartitionManager) Run(ctx context.Context) error {
	if err := pm.CreatePartitions(ctx); err != nil {
		return fmt.Errorf("creating partitions: %w", err)
	}
	if err := pm.DropOldPartitions(ctx); err != nil {
		return fmt.Errorf("dropping old partitions: %w", err)
	}
	if err := pm.RefreshSummary(ctx); err != nil {
		return fmt.Errorf("refreshing peer summary: %w", err)
	}
	return nil
}

// RefreshSummary refreshes the mrt_peer_summary materialized view concurrently.
func (pm *PartitionManager) RefreshSummary(ctx context.Context) error {
	_, err := pm.pool.Exec(ctx, "REFRESH MATERIALIZED VIEW CONCURRENTLY mrt_peer_summary")
	if err != nil {
		pm.logger.Warn("failed to refresh mrt_peer_summary (may not exist yet)", zap.Error(err))
	}
	return nil
}

// CreatePartitions creates daily partitions for today and tomorrow using the configured timezone.
func (pm *PartitionManager) CreatePartitions(ctx context.Context) error {
	loc, err := time.LoadLocation(pm.timezone)
	if err != nil {
		return fmt.Errorf("loading timezone %s: %w", pm.timezone, err)
	}

	days := upcomingDays(time.Now(), loc)
	for i := 0; i+1 < len(days); i++ {
		if err := pm.createPartition(ctx, days[i], days[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// upcomingDays returns local midnight of today, tomorrow and the day after.
func upcomingDays(now time.Time, loc *time.Location) []time.Time {
	now = now.In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	return []time.Time{today, today.AddDate(0, 0, 1), today.AddDate(0, 0, 2)}
}

func partitionName(day time.Time) string {
	return partitionPrefix + day.Format("20060102")
}

func (pm *PartitionManager) createPartition(ctx context.Context, from, to time.Time) error {
	name := partitionName(from)
	safeName := pgx.Identifier{name}.Sanitize()
	fromStr := from.UTC().Format("2006-01-02 15:04:05+00")
	toStr := to.UTC().Format("2006-01-02 15:04:05+00")

	createSQL := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s PARTITION OF mrt_events FOR VALUES FROM ('%s') TO ('%s')`,
		safeName, fromStr, toStr,
	)

	if _, err := pm.pool.Exec(ctx, createSQL); err != nil {
		return fmt.Errorf("creating partition %s: %w", name, err)
	}
	pm.logger.Info("partition ensured", zap.String("partition", name))

	// Create per-partition indexes using sanitized names.
	safeIdxPeer := pgx.Identifier{fmt.Sprintf("idx_%s_peer_time", name)}.Sanitize()
	safeIdxPrefix := pgx.Identifier{fmt.Sprintf("idx_%s_prefix", name)}.Sanitize()

	peerIdx := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s ON %s (collector, peer_address, record_time DESC)`,
		safeIdxPeer, safeName,
	)
	prefixIdx := fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS %s ON %s USING gist (prefix inet_ops) WHERE prefix IS NOT NULL`,
		safeIdxPrefix, safeName,
	)

	if _, err := pm.pool.Exec(ctx, peerIdx); err != nil {
		return fmt.Errorf("creating peer_time index on %s: %w", name, err)
	}
	if _, err := pm.pool.Exec(ctx, prefixIdx); err != nil {
		return fmt.Errorf("creating prefix index on %s: %w", name, err)
	}

	return nil
}

// DropOldPartitions drops partitions older than the configured retention period.
func (pm *PartitionManager) DropOldPartitions(ctx context.Context) error {
	loc, err := time.LoadLocation(pm.timezone)
	if err != nil {
		return fmt.Errorf("loading timezone %s: %w", pm.timezone, err)
	}
	cutoffDate := retentionCutoff(time.Now(), loc, pm.retentionDays)

	// List existing partitions of mrt_events.
	rows, err := pm.pool.Query(ctx,
		`SELECT inhrelid::regclass::text FROM pg_inherits WHERE inhparent = 'mrt_events'::regclass`)
	if err != nil {
		return fmt.Errorf("listing partitions: %w", err)
	}
	partitions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return fmt.Errorf("scanning partition names: %w", err)
	}

	for _, name := range partitions {
		expired, err := partitionExpired(name, cutoffDate, loc)
		if err != nil {
			pm.logger.Warn("skipping partition", zap.String("partition", name), zap.Error(err))
			continue
		}
		if !expired {
			continue
		}
		safeName := pgx.Identifier{name}.Sanitize()
		if _, err := pm.pool.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", safeName)); err != nil {
			return fmt.Errorf("dropping partition %s: %w", name, err)
		}
		metrics.PartitionsDroppedTotal.Inc()
		pm.logger.Info("dropped old partition", zap.String("partition", name), zap.Time("cutoff", cutoffDate))
	}

	return nil
}

// retentionCutoff is local midnight retentionDays before now.
func retentionCutoff(now time.Time, loc *time.Location, retentionDays int) time.Time {
	cutoff := now.In(loc).AddDate(0, 0, -retentionDays)
	return time.Date(cutoff.Year(), cutoff.Month(), cutoff.Day(), 0, 0, 0, 0, loc)
}

// partitionExpired reports whether the partition's day lies before cutoff.
func partitionExpired(name string, cutoff time.Time, loc *time.Location) (bool, error) {
	if !validPartitionName.MatchString(name) {
		return false, fmt.Errorf("unexpected partition name %q", name)
	}
	day, err := time.ParseInLocation("20060102", name[len(partitionPrefix):], loc)
	if err != nil {
		return false, fmt.Errorf("cannot parse partition date: %w", err)
	}
	return day.Before(cutoff), nil
}
