package archive

import (
	"bytes"
	"context"
	"net/netip"
	"sync"
	"testing"

	"github.com/route-beacon/mrt-ingester/internal/mrt"
	"github.com/stretchr/testify/require"
)

func marshal(t *testing.T, h *mrt.Header, rec mrt.Record) []byte {
	t.Helper()
	b, err := mrt.Marshal(h, rec)
	require.NoError(t, err)
	return b
}

func stateChange(t *testing.T, ts uint32) []byte {
	t.Helper()
	return marshal(t,
		&mrt.Header{Timestamp: ts, Type: mrt.TypeBGP4MP, Subtype: mrt.BGP4MPSubStateChange},
		&mrt.BGP4MP{Subtype: mrt.BGP4MPSubStateChange, Body: &mrt.BGP4MPStateChange{
			Peering: mrt.Peering{
				PeerAS: 100, LocalAS: 200, AFI: mrt.AFIIPv4,
				PeerAddress:  netip.MustParseAddr("10.0.0.1"),
				LocalAddress: netip.MustParseAddr("10.0.0.2"),
			},
			OldState: mrt.StateOpenConfirm,
			NewState: mrt.StateEstablished,
		}},
	)
}

func peerIndex(t *testing.T) []byte {
	t.Helper()
	return marshal(t,
		&mrt.Header{Timestamp: 1700000000, Type: mrt.TypeTableDumpV2, Subtype: mrt.TableDumpV2SubPeerIndexTable},
		&mrt.TableDumpV2{Subtype: mrt.TableDumpV2SubPeerIndexTable, Body: &mrt.PeerIndexTable{
			CollectorID: 0xC0000201,
			ViewName:    "master",
			Peers: []mrt.PeerEntry{
				{PeerType: 0, BGPID: 1, Address: netip.MustParseAddr("192.0.2.1"), AS: 65001},
				{PeerType: mrt.PeerTypeIPv6 | mrt.PeerTypeAS4, BGPID: 2, Address: netip.MustParseAddr("2001:db8::2"), AS: 4200000000},
			},
		}},
	)
}

func ribIPv4(t *testing.T, peers ...uint16) []byte {
	t.Helper()
	var entries []mrt.RIBEntry
	for _, p := range peers {
		entries = append(entries, mrt.RIBEntry{PeerIndex: p, OriginatedTime: 1600000000, Attributes: []byte{0x40, 0x01, 0x01, 0x00}})
	}
	return marshal(t,
		&mrt.Header{Timestamp: 1700000001, Type: mrt.TypeTableDumpV2, Subtype: mrt.TableDumpV2SubRIBIPv4Unicast},
		&mrt.TableDumpV2{Subtype: mrt.TableDumpV2SubRIBIPv4Unicast, Body: &mrt.RIBAFI{
			SequenceNumber: 0,
			PrefixLength:   24,
			Prefix:         []byte{198, 51, 100},
			Entries:        entries,
		}},
	)
}

func concat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

// fakeStore records what the pipeline and loader write.
type fakeStore struct {
	mu         sync.Mutex
	rows       []*Row
	peers      []*Row
	collectors map[string]string
	statusRows int
	flushErr   error
	flushes    int
}

func newFakeStore() *fakeStore {
	return &fakeStore{collectors: map[string]string{}}
}

func (s *fakeStore) FlushBatch(_ context.Context, rows []*Row) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	if s.flushErr != nil {
		return 0, s.flushErr
	}
	s.rows = append(s.rows, rows...)
	return int64(len(rows)), nil
}

func (s *fakeStore) UpsertPeers(_ context.Context, rows []*Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		if r.Kind == KindPeer {
			s.peers = append(s.peers, r)
		}
	}
	return nil
}

func (s *fakeStore) UpsertCollector(_ context.Context, name, location string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collectors[name] = location
	return nil
}

func (s *fakeStore) UpdateSourceStatus(_ context.Context, rows []*Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statusRows += len(rows)
	return nil
}

func (s *fakeStore) snapshot() []*Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Row(nil), s.rows...)
}
