package archive

import (
	"context"
	"fmt"
)

const upsertCollectorSQL = `
INSERT INTO mrt_collectors (name, location, first_seen, last_seen)
VALUES ($1, $2, now(), now())
ON CONFLICT (name) DO UPDATE SET
    location  = COALESCE(EXCLUDED.location, mrt_collectors.location),
    last_seen = now()`

// UpsertCollector inserts or refreshes a collector. A configured location
// replaces the stored one; an empty location keeps it.
func (w *Writer) UpsertCollector(ctx context.Context, name, location string) error {
	_, err := w.pool.Exec(ctx, upsertCollectorSQL, name, nilIfEmpty(location))
	return err
}

const upsertPeerSQL = `
INSERT INTO mrt_peers (collector, peer_address, peer_as, bgp_id, first_seen, last_seen)
VALUES ($1, $2, $3, $4, now(), now())
ON CONFLICT (collector, peer_address, peer_as) DO UPDATE SET
    bgp_id    = COALESCE(EXCLUDED.bgp_id, mrt_peers.bgp_id),
    last_seen = now()`

// UpsertPeers records every peer named by peer index table rows in the batch.
// Errors are returned for logging but should be treated as non-fatal to the pipeline.
func (w *Writer) UpsertPeers(ctx context.Context, rows []*Row) error {
	for _, r := range rows {
		if r.Kind != KindPeer || !r.PeerAddress.IsValid() {
			continue
		}
		if _, err := w.pool.Exec(ctx, upsertPeerSQL,
			r.Collector, r.PeerAddress, int64(r.PeerAS), nilIfZero(r.PeerBGPID),
		); err != nil {
			return fmt.Errorf("upsert mrt_peer %s: %w", r.PeerAddress, err)
		}
	}
	return nil
}
