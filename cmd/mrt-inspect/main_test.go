package main

import (
	"bytes"
	"net/netip"
	"strings"
	"testing"

	"github.com/route-beacon/mrt-ingester/internal/archive"
	"github.com/route-beacon/mrt-ingester/internal/mrt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyzeMessage(t *testing.T) {
	rec, err := mrt.Marshal(
		&mrt.Header{Timestamp: 1700000000, Type: mrt.TypeBGP4MP, Subtype: mrt.BGP4MPSubStateChange},
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
	require.NoError(t, err)

	var out bytes.Buffer
	f := archive.NewFlattener("rrc00", "mrt.updates")
	analyzeMessage(&out, f, append(rec, rec[:5]...))

	s := out.String()
	assert.Contains(t, s, "record 1: 2023-11-14T22:13:20Z")
	assert.Contains(t, s, "kind=state_change peer=10.0.0.1 as=100")
	assert.Contains(t, s, "record 2: decode error (truncated)")
	assert.Equal(t, 1, strings.Count(s, "row 0:"))
}
