package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// SourceStatus is the archive progress of one source of one collector.
type SourceStatus struct {
	Collector      string    `db:"collector" json:"collector"`
	Location       *string   `db:"location" json:"location,omitempty"`
	Source         string    `db:"source" json:"source"`
	Records        int64     `db:"records" json:"records"`
	LastRecordTime time.Time `db:"last_record_time" json:"last_record_time"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

const listSourcesSQL = `
SELECT s.collector, c.location, s.source, s.records, s.last_record_time, s.updated_at
FROM mrt_source_status s
LEFT JOIN mrt_collectors c ON c.name = s.collector
WHERE $1 = '' OR s.collector = $1
ORDER BY s.collector, s.source`

// ListSources returns the progress of every source, or of one collector's
// sources when collector is not empty.
func (w *Writer) ListSources(ctx context.Context, collector string) ([]SourceStatus, error) {
	rows, err := w.pool.Query(ctx, listSourcesSQL, collector)
	if err != nil {
		return nil, fmt.Errorf("query mrt_source_status: %w", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByName[SourceStatus])
	if err != nil {
		return nil, fmt.Errorf("scan mrt_source_status: %w", err)
	}
	return out, nil
}
